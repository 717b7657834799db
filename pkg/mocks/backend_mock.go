package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/missionflow/pkg/models"
)

// MockTaskBackend is a mock implementation of protocol.TaskBackend interface.
type MockTaskBackend struct {
	mock.Mock
}

func (m *MockTaskBackend) CreateTask(ctx context.Context, task *models.TaskPayload) (string, error) {
	args := m.Called(ctx, task)

	return args.String(0), args.Error(1)
}

func (m *MockTaskBackend) CreateDeadline(ctx context.Context, deadline *models.DeadlinePayload) (string, error) {
	args := m.Called(ctx, deadline)

	return args.String(0), args.Error(1)
}

// MockEmailBackend is a mock implementation of protocol.EmailBackend interface.
type MockEmailBackend struct {
	mock.Mock
}

func (m *MockEmailBackend) CreateDraft(ctx context.Context, draft *models.EmailDraftPayload) (string, error) {
	args := m.Called(ctx, draft)

	return args.String(0), args.Error(1)
}

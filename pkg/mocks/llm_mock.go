package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

// MockDigestReader is a mock implementation of protocol.DigestReader interface.
type MockDigestReader struct {
	mock.Mock
}

func (m *MockDigestReader) ReadDigest(ctx context.Context, domainID string) (*models.Digest, error) {
	args := m.Called(ctx, domainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Digest), args.Error(1)
}

// MockStreamer is a mock implementation of protocol.Streamer interface. It
// does not call onToken.
type MockStreamer struct {
	mock.Mock
}

func (m *MockStreamer) Stream(ctx context.Context, req protocol.StreamRequest, onToken func(string)) (*protocol.StreamResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.StreamResult), args.Error(1)
}

package createdeadline_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/createdeadline"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	payload := &models.DeadlinePayload{Title: "Insurance certificate expires", DueDate: "2026-04-30"}

	backend := &mocks.MockTaskBackend{}
	backend.On("CreateDeadline", mock.Anything, payload).Return("dl-1", nil)

	result, err := createdeadline.NewAction(backend).Execute(context.Background(), protocol.ActionRequest{Payload: payload}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "dl-1", result["deadline_id"])
	assert.Equal(t, "2026-04-30", result["due_date"])
	backend.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
}

func TestAction_ExecuteWrongPayload(t *testing.T) {
	t.Parallel()

	_, err := createdeadline.NewAction(&mocks.MockTaskBackend{}).Execute(context.Background(), protocol.ActionRequest{
		Payload: &models.TaskPayload{Title: "x"},
	}, slog.Default())
	require.ErrorIs(t, err, protocol.ErrPayloadMismatch)
}

func TestActionFactory_Metadata(t *testing.T) {
	t.Parallel()

	factory := createdeadline.NewActionFactory(nil)

	assert.Equal(t, models.ActionTypeCreateDeadline, factory.ID())
	assert.Equal(t, "Create Deadline", factory.Name())
}

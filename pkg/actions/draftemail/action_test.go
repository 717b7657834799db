package draftemail_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/actions/draftemail"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	payload := &models.EmailDraftPayload{To: []string{"borrower@example.com"}, Subject: "Missing financials", Body: "Hi"}

	backend := &mocks.MockEmailBackend{}
	backend.On("CreateDraft", mock.Anything, payload).Return("draft-9", nil)

	action, err := draftemail.NewActionFactory(backend).Create(context.Background(), nil)
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), protocol.ActionRequest{Payload: payload}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"draft_id": "draft-9"}, result)
}

func TestAction_ExecuteBackendFailure(t *testing.T) {
	t.Parallel()

	backend := &mocks.MockEmailBackend{}
	backend.On("CreateDraft", mock.Anything, mock.Anything).Return("", errors.New("mailbox locked"))

	_, err := draftemail.NewAction(backend).Execute(context.Background(), protocol.ActionRequest{
		Payload: &models.EmailDraftPayload{Subject: "s"},
	}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox locked")
}

func TestActionFactory_Metadata(t *testing.T) {
	t.Parallel()

	factory := draftemail.NewActionFactory(nil)

	assert.Equal(t, models.ActionTypeDraftEmail, factory.ID())
	assert.Equal(t, []string{"to", "subject"}, factory.Schema()["required"])
}

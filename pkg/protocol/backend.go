package protocol

import (
	"context"

	"github.com/dukex/missionflow/pkg/models"
)

// TaskBackend creates tasks and deadlines in the user's calendar or task list.
type TaskBackend interface {
	CreateTask(ctx context.Context, task *models.TaskPayload) (string, error)
	CreateDeadline(ctx context.Context, deadline *models.DeadlinePayload) (string, error)
}

// EmailBackend stores email drafts. It never sends.
type EmailBackend interface {
	CreateDraft(ctx context.Context, draft *models.EmailDraftPayload) (string, error)
}

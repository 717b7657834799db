// Package createdeadline adds deadlines to the user's calendar.
package createdeadline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

type Action struct {
	backend protocol.TaskBackend
}

func NewAction(backend protocol.TaskBackend) *Action {
	return &Action{backend: backend}
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	payload, ok := req.Payload.(*models.DeadlinePayload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrPayloadMismatch, req.Payload)
	}

	id, err := a.backend.CreateDeadline(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create deadline %q due %s: %w", payload.Title, payload.DueDate, err)
	}

	logger.InfoContext(ctx, "Deadline created",
		"module", "create_deadline_action",
		"action_id", req.ActionID,
		"deadline_id", id,
		"due_date", payload.DueDate,
	)

	return map[string]any{"deadline_id": id, "due_date": payload.DueDate}, nil
}

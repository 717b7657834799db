// Package createtask creates tasks in the configured task back-end.
package createtask

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
	payload, ok := req.Payload.(*models.TaskPayload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrPayloadMismatch, req.Payload)
	}

	id, err := a.backend.CreateTask(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create task %q: %w", payload.Title, err)
	}

	logger.InfoContext(ctx, "Task created", "module", "create_task_action", "action_id", req.ActionID, "task_id", id)

	return map[string]any{"task_id": id}, nil
}

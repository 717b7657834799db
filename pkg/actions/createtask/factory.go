package createtask

import (
	"context"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

type ActionFactory struct {
	backend protocol.TaskBackend
}

func NewActionFactory(backend protocol.TaskBackend) *ActionFactory {
	return &ActionFactory{backend: backend}
}

func (f *ActionFactory) Create(_ context.Context, _ map[string]any) (protocol.Action, error) {
	return NewAction(f.backend), nil
}

func (f *ActionFactory) ID() models.ActionType {
	return models.ActionTypeCreateTask
}

func (f *ActionFactory) Name() string {
	return "Create Task"
}

func (f *ActionFactory) Description() string {
	return "Creates a task in the user's task list. Requires approval."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"title"},
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Task title.",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Task notes. Defaults to the automation summary.",
			},
			"due_date": map[string]any{
				"type":        "string",
				"description": "Due date, YYYY-MM-DD.",
				"examples":    []string{"2026-03-31"},
			},
		},
	}
}

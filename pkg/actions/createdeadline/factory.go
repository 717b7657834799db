package createdeadline

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
	return models.ActionTypeCreateDeadline
}

func (f *ActionFactory) Name() string {
	return "Create Deadline"
}

func (f *ActionFactory) Description() string {
	return "Adds a dated deadline to the user's calendar. Requires approval."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"title", "due_date"},
		"properties": map[string]any{
			"title": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"due_date": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Due date, YYYY-MM-DD.",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Defaults to the automation summary.",
			},
		},
	}
}

package draftemail

import (
	"context"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

type ActionFactory struct {
	backend protocol.EmailBackend
}

func NewActionFactory(backend protocol.EmailBackend) *ActionFactory {
	return &ActionFactory{backend: backend}
}

func (f *ActionFactory) Create(_ context.Context, _ map[string]any) (protocol.Action, error) {
	return NewAction(f.backend), nil
}

func (f *ActionFactory) ID() models.ActionType {
	return models.ActionTypeDraftEmail
}

func (f *ActionFactory) Name() string {
	return "Draft Email"
}

func (f *ActionFactory) Description() string {
	return "Saves an email draft for the user to review and send. Requires approval."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"to", "subject"},
		"properties": map[string]any{
			"to": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":   "string",
					"format": "email",
				},
			},
			"subject": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Defaults to the automation summary.",
			},
		},
	}
}

package notification

import (
	"context"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

// ActionFactory creates notification executors bound to one publisher.
type ActionFactory struct {
	publisher eventbus.EventPublisher
}

func NewActionFactory(publisher eventbus.EventPublisher) *ActionFactory {
	return &ActionFactory{publisher: publisher}
}

func (f *ActionFactory) Create(_ context.Context, _ map[string]any) (protocol.Action, error) {
	return NewAction(f.publisher), nil
}

func (f *ActionFactory) ID() models.ActionType {
	return models.ActionTypeNotification
}

func (f *ActionFactory) Name() string {
	return "Notification"
}

func (f *ActionFactory) Description() string {
	return "Raises an in-app notification. Runs without approval."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Notification title. Defaults to \"Automation result\".",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Notification body. Defaults to the automation summary.",
			},
			"severity": map[string]any{
				"type":    "string",
				"enum":    []string{"low", "medium", "high", "critical"},
				"default": "medium",
			},
		},
	}
}

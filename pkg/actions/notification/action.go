// Package notification raises in-app notifications. It never needs approval.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

// Action publishes a notification.raised event on the bus.
type Action struct {
	publisher eventbus.EventPublisher
}

func NewAction(publisher eventbus.EventPublisher) *Action {
	return &Action{publisher: publisher}
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	payload, ok := req.Payload.(*models.NotificationPayload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrPayloadMismatch, req.Payload)
	}

	if payload.DomainID == "" {
		payload.DomainID = req.DomainID
	}

	payload.Severity = models.NormalizeSeverity(string(payload.Severity))

	logger = logger.With("module", "notification_action", "action_id", req.ActionID)

	event := events.NewNotificationRaised(req.RunID, payload)

	if err := a.publisher.Publish(ctx, req.RunID, event); err != nil {
		return nil, fmt.Errorf("failed to publish notification: %w", err)
	}

	logger.InfoContext(ctx, "Notification raised", "title", payload.Title, "severity", payload.Severity)

	return map[string]any{
		"event_id": event.ID,
		"severity": string(payload.Severity),
	}, nil
}

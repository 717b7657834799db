// Package draftemail stores email drafts. Drafts are never sent.
package draftemail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/protocol"
)

type Action struct {
	backend protocol.EmailBackend
}

func NewAction(backend protocol.EmailBackend) *Action {
	return &Action{backend: backend}
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest, logger *slog.Logger) (map[string]any, error) {
	payload, ok := req.Payload.(*models.EmailDraftPayload)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrPayloadMismatch, req.Payload)
	}

	id, err := a.backend.CreateDraft(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to save draft %q: %w", payload.Subject, err)
	}

	logger.InfoContext(ctx, "Email draft saved",
		"module", "draft_email_action",
		"action_id", req.ActionID,
		"draft_id", id,
		"recipients", len(payload.To),
	)

	return map[string]any{"draft_id": id}, nil
}

// Package protocol defines the interfaces and contracts between the engine and
// its pluggable collaborators.
package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/missionflow/pkg/models"
)

// ActionRequest is one approved action handed to an executor.
type ActionRequest struct {
	RunID    string
	ActionID string
	DomainID string
	Payload  models.ActionPayload
}

// Action executes one approved action payload.
type Action interface {
	Execute(ctx context.Context, req ActionRequest, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates executors and provides metadata about the action type.
type ActionFactory interface {
	// Create creates a new executor with the given configuration
	Create(ctx context.Context, config map[string]any) (Action, error)

	// ID returns the action type this factory executes
	ID() models.ActionType

	// Name returns the human-readable name for this action type
	Name() string

	// Description returns a description of what this action does
	Description() string

	// Schema returns the JSON schema for the action payload defaults an
	// automation may configure
	Schema() map[string]any
}

// ErrPayloadMismatch is returned by an executor handed a payload of another action type.
var ErrPayloadMismatch = errors.New("payload does not match action type")

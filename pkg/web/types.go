// Package web provides HTTP request and response types for the missionflow API.
package web

import (
	"github.com/dukex/missionflow/pkg/models"
)

// StartRunRequest represents the request body for starting a mission run.
type StartRunRequest struct {
	MissionID string         `json:"mission_id" validate:"required"`
	DomainID  string         `json:"domain_id"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	// Wait blocks the request until the run is gated or finished.
	Wait bool `json:"wait"`
}

// DecisionRequest approves or rejects the pending actions of a gated run.
type DecisionRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// EnablementRequest toggles a mission for one domain.
type EnablementRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// AutomationRequest represents the request body for creating or replacing an automation.
type AutomationRequest struct {
	DomainID        string                 `json:"domain_id"        validate:"required"`
	Name            string                 `json:"name"             validate:"required,min=3"`
	Description     string                 `json:"description"`
	Trigger         models.TriggerType     `json:"trigger"          validate:"required,oneof=schedule event manual"`
	Cron            string                 `json:"cron"`
	Event           models.DomainEventName `json:"event"`
	PromptTemplate  string                 `json:"prompt_template"`
	MissionID       string                 `json:"mission_id"`
	MissionInputs   map[string]any         `json:"mission_inputs"`
	Action          *models.ActionConfig   `json:"action"`
	RequireApproval *bool                  `json:"require_approval"`
	Enabled         bool                   `json:"enabled"`
	CatchUp         bool                   `json:"catch_up"`
	StorePayloads   bool                   `json:"store_payloads"`
}

// toModel builds the automation. Side-effecting actions stay gated unless
// require_approval is explicitly false.
func (r AutomationRequest) toModel(id string) *models.Automation {
	requireApproval := true
	if r.RequireApproval != nil {
		requireApproval = *r.RequireApproval
	}

	return &models.Automation{
		ID:              id,
		DomainID:        r.DomainID,
		Name:            r.Name,
		Description:     r.Description,
		Trigger:         r.Trigger,
		Cron:            r.Cron,
		Event:           r.Event,
		PromptTemplate:  r.PromptTemplate,
		MissionID:       r.MissionID,
		MissionInputs:   r.MissionInputs,
		Action:          r.Action,
		RequireApproval: requireApproval,
		Enabled:         r.Enabled,
		CatchUp:         r.CatchUp,
		StorePayloads:   r.StorePayloads,
	}
}

// DomainEventRequest emits a domain event onto the bus.
type DomainEventRequest struct {
	Name     models.DomainEventName `json:"name"      validate:"required"`
	DomainID string                 `json:"domain_id" validate:"required"`
	Payload  map[string]any         `json:"payload"`
}

// ActionTypeResponse describes a registered action executor.
type ActionTypeResponse struct {
	ID          models.ActionType `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schema      map[string]any    `json:"schema"`
}

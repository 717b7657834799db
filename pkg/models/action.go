package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType names an executor.
type ActionType string

const (
	ActionTypeNotification   ActionType = "notification"
	ActionTypeCreateTask     ActionType = "create_task"
	ActionTypeDraftEmail     ActionType = "draft_email"
	ActionTypeCreateDeadline ActionType = "create_deadline"
)

// Valid reports whether t names a known executor.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeNotification, ActionTypeCreateTask, ActionTypeDraftEmail, ActionTypeCreateDeadline:
		return true
	}

	return false
}

// SideEffecting reports whether the action changes state outside the app
// and therefore needs user approval.
func (t ActionType) SideEffecting() bool {
	return t == ActionTypeCreateTask || t == ActionTypeDraftEmail || t == ActionTypeCreateDeadline
}

// ActionStatus represents the lifecycle of a single proposed action.
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusApproved ActionStatus = "approved"
	ActionStatusRejected ActionStatus = "rejected"
	ActionStatusExecuted ActionStatus = "executed"
	ActionStatusFailed   ActionStatus = "failed"
)

// ActionPayload is the typed input of an executor.
type ActionPayload interface {
	ActionType() ActionType
}

type NotificationPayload struct {
	Title    string   `json:"title"    validate:"required"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	DomainID string   `json:"domain_id,omitempty"`
}

func (NotificationPayload) ActionType() ActionType { return ActionTypeNotification }

type TaskPayload struct {
	Title   string `json:"title"              validate:"required"`
	Notes   string `json:"notes,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

func (TaskPayload) ActionType() ActionType { return ActionTypeCreateTask }

type EmailDraftPayload struct {
	To      []string `json:"to"      validate:"dive,required"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body"`
}

func (EmailDraftPayload) ActionType() ActionType { return ActionTypeDraftEmail }

type DeadlinePayload struct {
	Title   string `json:"title"           validate:"required"`
	DueDate string `json:"due_date"        validate:"required"`
	Notes   string `json:"notes,omitempty"`
}

func (DeadlinePayload) ActionType() ActionType { return ActionTypeCreateDeadline }

func newPayload(t ActionType) (ActionPayload, error) {
	switch t {
	case ActionTypeNotification:
		return &NotificationPayload{}, nil
	case ActionTypeCreateTask:
		return &TaskPayload{}, nil
	case ActionTypeDraftEmail:
		return &EmailDraftPayload{}, nil
	case ActionTypeCreateDeadline:
		return &DeadlinePayload{}, nil
	}

	return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidPayload, t)
}

// DecodeActionPayload decodes and validates a payload at the storage boundary.
func DecodeActionPayload(t ActionType, raw []byte) (ActionPayload, error) {
	payload, err := newPayload(t)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, t, err)
	}

	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, t, err)
	}

	return payload, nil
}

// ValidatePayload checks the required fields of a payload built in code.
func ValidatePayload(payload ActionPayload) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, payload.ActionType(), err)
	}

	return nil
}

// ActionConfig is the action an automation derives from its summary.
type ActionConfig struct {
	Type   ActionType     `json:"type"             validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// BuildPayload fills the configured defaults with the automation summary.
func (c ActionConfig) BuildPayload(summary string) (ActionPayload, error) {
	raw, err := json.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	payload, err := newPayload(c.Type)
	if err != nil {
		return nil, err
	}

	if c.Config != nil {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, c.Type, err)
		}
	}

	switch p := payload.(type) {
	case *NotificationPayload:
		if p.Message == "" {
			p.Message = summary
		}

		if p.Title == "" {
			p.Title = "Automation result"
		}

		p.Severity = NormalizeSeverity(string(p.Severity))
	case *TaskPayload:
		if p.Notes == "" {
			p.Notes = summary
		}
	case *EmailDraftPayload:
		if p.Body == "" {
			p.Body = summary
		}
	case *DeadlinePayload:
		if p.Notes == "" {
			p.Notes = summary
		}
	}

	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, c.Type, err)
	}

	return payload, nil
}

// MissionRunAction is an action proposed by a run.
type MissionRunAction struct {
	ID                string         `json:"id"`
	RunID             string         `json:"run_id"`
	Type              ActionType     `json:"type"`
	Status            ActionStatus   `json:"status"`
	Payload           ActionPayload  `json:"payload"`
	SourceOutputIndex int            `json:"source_output_index"`
	Result            map[string]any `json:"result,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ExecutedAt        *time.Time     `json:"executed_at,omitempty"`
}

type actionJSON struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id"`
	Type              ActionType      `json:"type"`
	Status            ActionStatus    `json:"status"`
	Payload           json.RawMessage `json:"payload"`
	SourceOutputIndex int             `json:"source_output_index"`
	Result            map[string]any  `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
}

// UnmarshalJSON decodes Payload according to Type.
func (a *MissionRunAction) UnmarshalJSON(data []byte) error {
	var aux actionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	payload, err := DecodeActionPayload(aux.Type, aux.Payload)
	if err != nil {
		return err
	}

	*a = MissionRunAction{
		ID:                aux.ID,
		RunID:             aux.RunID,
		Type:              aux.Type,
		Status:            aux.Status,
		Payload:           payload,
		SourceOutputIndex: aux.SourceOutputIndex,
		Result:            aux.Result,
		Error:             aux.Error,
		CreatedAt:         aux.CreatedAt,
		UpdatedAt:         aux.UpdatedAt,
		ExecutedAt:        aux.ExecutedAt,
	}

	return nil
}

package models

import (
	"fmt"
	"time"
)

// DefaultFailureThreshold is the consecutive failure count that disables an automation.
const DefaultFailureThreshold = 5

// TriggerType selects how an automation fires.
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeManual   TriggerType = "manual"
)

// DomainEventName is one of the fixed domain events automations can react to.
type DomainEventName string

const (
	EventIntakeCreated       DomainEventName = "intake_created"
	EventKBChanged           DomainEventName = "kb_changed"
	EventGapFlagRaised       DomainEventName = "gap_flag_raised"
	EventDeadlineApproaching DomainEventName = "deadline_approaching"
)

// Valid reports whether n is a supported domain event.
func (n DomainEventName) Valid() bool {
	switch n {
	case EventIntakeCreated, EventKBChanged, EventGapFlagRaised, EventDeadlineApproaching:
		return true
	}

	return false
}

// Automation is a user-configured recurring or reactive mission invocation.
type Automation struct {
	ID              string          `json:"id"`
	DomainID        string          `json:"domain_id"                validate:"required"`
	Name            string          `json:"name"                     validate:"required,min=3"`
	Description     string          `json:"description,omitempty"`
	Trigger         TriggerType     `json:"trigger"                  validate:"required,oneof=schedule event manual"`
	Cron            string          `json:"cron,omitempty"`
	Event           DomainEventName `json:"event,omitempty"`
	PromptTemplate  string          `json:"prompt_template,omitempty"`
	MissionID       string          `json:"mission_id,omitempty"`
	MissionInputs   map[string]any  `json:"mission_inputs,omitempty"`
	Action          *ActionConfig   `json:"action,omitempty"`
	RequireApproval bool            `json:"require_approval"`
	Enabled         bool            `json:"enabled"`
	CatchUp         bool            `json:"catch_up"`
	StorePayloads   bool            `json:"store_payloads"`
	FailureStreak   int             `json:"failure_streak"`
	LastError       string          `json:"last_error,omitempty"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	RunCount        int             `json:"run_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate checks trigger-specific fields and the action config.
func (a *Automation) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}

	switch a.Trigger {
	case TriggerTypeSchedule:
		if _, err := ParseCron(a.Cron); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
		}
	case TriggerTypeEvent:
		if !a.Event.Valid() {
			return fmt.Errorf("%w: unsupported event %q", ErrInvalidAutomation, a.Event)
		}
	case TriggerTypeManual:
	}

	if a.PromptTemplate == "" && a.MissionID == "" {
		return fmt.Errorf("%w: prompt template or mission is required", ErrInvalidAutomation)
	}

	if a.Action != nil {
		if !a.Action.Type.Valid() {
			return fmt.Errorf("%w: unknown action type %q", ErrInvalidAutomation, a.Action.Type)
		}

		if _, err := a.Action.BuildPayload("validation"); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
		}
	}

	return nil
}

// ComputeNextRun recomputes NextRunAt from the given reference time.
// Non-schedule automations have no next run.
func (a *Automation) ComputeNextRun(from time.Time) error {
	if a.Trigger != TriggerTypeSchedule {
		a.NextRunAt = nil

		return nil
	}

	next, err := NextRun(a.Cron, from)
	if err != nil {
		return err
	}

	a.NextRunAt = &next

	return nil
}

// IsDue reports whether a scheduled automation should fire at now.
func (a *Automation) IsDue(now time.Time) bool {
	return a.Enabled && a.Trigger == TriggerTypeSchedule && a.NextRunAt != nil && !a.NextRunAt.After(now)
}

// RecordOutcome applies a finished run to the failure streak. It returns true
// when this outcome disabled the automation.
func (a *Automation) RecordOutcome(status AutomationRunStatus, errMsg string, at time.Time, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	a.UpdatedAt = at

	switch status {
	case AutomationRunSuccess, AutomationRunGated:
		a.FailureStreak = 0
		a.LastError = ""
		a.RunCount++
		a.LastRunAt = &at
	case AutomationRunFailed:
		a.FailureStreak++
		a.LastError = errMsg
		a.RunCount++
		a.LastRunAt = &at

		if a.FailureStreak >= threshold && a.Enabled {
			a.Enabled = false

			return true
		}
	case AutomationRunSkipped, AutomationRunCancelled, AutomationRunRunning:
	}

	return false
}

// Enable re-enables the automation and clears its failure streak.
func (a *Automation) Enable(now time.Time) error {
	a.Enabled = true
	a.FailureStreak = 0
	a.UpdatedAt = now

	return a.ComputeNextRun(now)
}

// Disable turns the automation off, keeping its history.
func (a *Automation) Disable(now time.Time) {
	a.Enabled = false
	a.UpdatedAt = now
}

// AutomationRunStatus is the outcome of one automation fire.
type AutomationRunStatus string

const (
	AutomationRunRunning   AutomationRunStatus = "running"
	AutomationRunSuccess   AutomationRunStatus = "success"
	AutomationRunFailed    AutomationRunStatus = "failed"
	AutomationRunGated     AutomationRunStatus = "gated"
	AutomationRunSkipped   AutomationRunStatus = "skipped"
	AutomationRunCancelled AutomationRunStatus = "cancelled"
)

// TriggerSource records what fired an automation run.
type TriggerSource string

const (
	TriggerSourceSchedule TriggerSource = "schedule"
	TriggerSourceEvent    TriggerSource = "event"
	TriggerSourceManual   TriggerSource = "manual"
	TriggerSourceCatchUp  TriggerSource = "catch_up"
)

// AutomationRun is one append-only history entry of an automation.
type AutomationRun struct {
	ID           string              `json:"id"`
	AutomationID string              `json:"automation_id"`
	MissionRunID string              `json:"mission_run_id,omitempty"`
	Trigger      TriggerSource       `json:"trigger"`
	Status       AutomationRunStatus `json:"status"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	PromptHash   string              `json:"prompt_hash,omitempty"`
	Prompt       string              `json:"prompt,omitempty"`
	Response     string              `json:"response,omitempty"`
}

// Finish stamps the outcome of the run.
func (r *AutomationRun) Finish(status AutomationRunStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
	r.DurationMS = at.Sub(r.StartedAt).Milliseconds()
}

package models

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a mission run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusGated     RunStatus = "gated"     // Waiting for a user decision on pending actions
	RunStatusSuccess   RunStatus = "success"   // Terminal
	RunStatusFailed    RunStatus = "failed"    // Terminal
	RunStatusCancelled RunStatus = "cancelled" // Terminal
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusRunning, RunStatusFailed, RunStatusCancelled},
	RunStatusRunning: {RunStatusGated, RunStatusSuccess, RunStatusFailed, RunStatusCancelled},
	RunStatusGated:   {RunStatusRunning, RunStatusCancelled},
}

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive reports whether the run holds its domain.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning || s == RunStatusGated
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	ErrorKindStream      ErrorKind = "stream"
	ErrorKindNoOutput    ErrorKind = "no_output"
	ErrorKindParser      ErrorKind = "parser"
	ErrorKindExecutor    ErrorKind = "executor"
	ErrorKindStorage     ErrorKind = "storage"
	ErrorKindInterrupted ErrorKind = "interrupted"
	ErrorKindDigest      ErrorKind = "digest"
)

// RunError is the failure recorded on a run.
type RunError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	ActionID string    `json:"action_id,omitempty"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Diagnostics are the non-fatal parser findings kept on a run.
type Diagnostics struct {
	SkippedBlocks int      `json:"skipped_blocks"`
	Errors        []string `json:"errors"`
}

// Empty reports whether there is nothing to surface.
func (d Diagnostics) Empty() bool {
	return d.SkippedBlocks == 0 && len(d.Errors) == 0
}

// Provenance records what a run was built from.
type Provenance struct {
	DefinitionHash string     `json:"definition_hash"`
	PromptHash     string     `json:"prompt_hash,omitempty"`
	ContextHash    string     `json:"context_hash,omitempty"`
	Model          string     `json:"model,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	SystemChars    int        `json:"system_chars"`
	UserChars      int        `json:"user_chars"`
	DomainsRead    []string   `json:"domains_read,omitempty"`
	DigestReadAt   *time.Time `json:"digest_read_at,omitempty"`
}

// MissionRun is one execution of a mission against a domain.
type MissionRun struct {
	ID           string              `json:"id"`
	MissionID    string              `json:"mission_id"`
	AutomationID string              `json:"automation_id,omitempty"`
	DomainID     string              `json:"domain_id"`
	Status       RunStatus           `json:"status"`
	Mode         string              `json:"mode,omitempty"`
	Inputs       map[string]any      `json:"inputs,omitempty"`
	Provenance   Provenance          `json:"provenance"`
	RawText      string              `json:"raw_text,omitempty"`
	RawTextHash  string              `json:"raw_text_hash,omitempty"`
	Diagnostics  Diagnostics         `json:"diagnostics"`
	Error        *RunError           `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	Outputs      []*MissionRunOutput `json:"outputs,omitempty"`
	Actions      []*MissionRunAction `json:"actions,omitempty"`
}

// Transition moves the run to next, stamping start and finish times.
func (r *MissionRun) Transition(next RunStatus, at time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}

	r.Status = next

	if next == RunStatusRunning && r.StartedAt == nil {
		started := at
		r.StartedAt = &started
	}

	if next.IsTerminal() {
		finished := at
		r.FinishedAt = &finished

		if r.StartedAt != nil {
			r.DurationMS = at.Sub(*r.StartedAt).Milliseconds()
		}
	}

	return nil
}

// Fail transitions the run to failed with the given error.
func (r *MissionRun) Fail(kind ErrorKind, message string, at time.Time) error {
	if err := r.Transition(RunStatusFailed, at); err != nil {
		return err
	}

	r.Error = &RunError{Kind: kind, Message: message}

	return nil
}

// PendingActions returns the actions still awaiting a decision.
func (r *MissionRun) PendingActions() []*MissionRunAction {
	var pending []*MissionRunAction

	for _, a := range r.Actions {
		if a.Status == ActionStatusPending {
			pending = append(pending, a)
		}
	}

	return pending
}

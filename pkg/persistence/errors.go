// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRunNotFound indicates a mission run was not found by the given identifier.
	ErrRunNotFound = errors.New("mission run not found")

	// ErrRunTerminal indicates an update to a run that already reached a terminal status.
	ErrRunTerminal = errors.New("mission run is in a terminal status")

	// ErrActionNotFound indicates a mission run action was not found.
	ErrActionNotFound = errors.New("mission run action not found")

	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrEnablementNotFound indicates no enablement was stored for a mission and domain.
	ErrEnablementNotFound = errors.New("mission enablement not found")
)

// RunError wraps mission run errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "RunByID", "UpdateRun")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// AutomationError wraps automation errors with additional context.
type AutomationError struct {
	Op           string
	AutomationID string
	Err          error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s operation failed for automation %s: %v", e.Op, e.AutomationID, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

func (e *AutomationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAutomationError creates a new automation error with context.
func NewAutomationError(op, automationID string, err error) *AutomationError {
	return &AutomationError{Op: op, AutomationID: automationID, Err: err}
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsRunTerminal checks if an error indicates a terminal run was modified.
func IsRunTerminal(err error) bool {
	return errors.Is(err, ErrRunTerminal)
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsEnablementNotFound checks if an error indicates no enablement exists.
func IsEnablementNotFound(err error) bool {
	return errors.Is(err, ErrEnablementNotFound)
}

// Package events defines the domain events automations react to and the
// lifecycle notifications published by the engine.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/missionflow/pkg/models"
)

type EventType string

// Topic carries every missionflow event.
const Topic = "missionflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Incoming domain events.
	DomainEventType EventType = "domain.event"

	// Mission run lifecycle events.
	MissionRunStartedEvent  EventType = "mission.run.started"
	MissionRunGatedEvent    EventType = "mission.run.gated"
	MissionRunFinishedEvent EventType = "mission.run.finished"

	// Executor and scheduler notifications.
	NotificationRaisedEvent EventType = "notification.raised"
	AutomationDisabledEvent EventType = "automation.disabled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	DomainID  string         `json:"domain_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newBase(t EventType, domainID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		DomainID:  domainID,
	}
}

// DomainEvent is raised by the knowledge base or intake side of the app.
type DomainEvent struct {
	BaseEvent

	Name    models.DomainEventName `json:"name"`
	Payload map[string]any         `json:"payload,omitempty"`
}

func (DomainEvent) GetType() EventType {
	return DomainEventType
}

// NewDomainEvent creates a domain event for the given domain.
func NewDomainEvent(name models.DomainEventName, domainID string, payload map[string]any) *DomainEvent {
	return &DomainEvent{
		BaseEvent: newBase(DomainEventType, domainID),
		Name:      name,
		Payload:   payload,
	}
}

type MissionRunStarted struct {
	BaseEvent

	RunID        string `json:"run_id"`
	MissionID    string `json:"mission_id"`
	AutomationID string `json:"automation_id,omitempty"`
}

func (MissionRunStarted) GetType() EventType {
	return MissionRunStartedEvent
}

type MissionRunGated struct {
	BaseEvent

	RunID          string `json:"run_id"`
	PendingActions int    `json:"pending_actions"`
}

func (MissionRunGated) GetType() EventType {
	return MissionRunGatedEvent
}

type MissionRunFinished struct {
	BaseEvent

	RunID      string           `json:"run_id"`
	Status     models.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

func (MissionRunFinished) GetType() EventType {
	return MissionRunFinishedEvent
}

type NotificationRaised struct {
	BaseEvent

	RunID    string          `json:"run_id"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Severity models.Severity `json:"severity"`
}

func (NotificationRaised) GetType() EventType {
	return NotificationRaisedEvent
}

type AutomationDisabled struct {
	BaseEvent

	AutomationID  string `json:"automation_id"`
	FailureStreak int    `json:"failure_streak"`
	LastError     string `json:"last_error"`
}

func (AutomationDisabled) GetType() EventType {
	return AutomationDisabledEvent
}

// NewRunStarted builds the started notification for run.
func NewRunStarted(run *models.MissionRun) *MissionRunStarted {
	return &MissionRunStarted{
		BaseEvent:    newBase(MissionRunStartedEvent, run.DomainID),
		RunID:        run.ID,
		MissionID:    run.MissionID,
		AutomationID: run.AutomationID,
	}
}

// NewRunGated builds the gated notification for run.
func NewRunGated(run *models.MissionRun) *MissionRunGated {
	return &MissionRunGated{
		BaseEvent:      newBase(MissionRunGatedEvent, run.DomainID),
		RunID:          run.ID,
		PendingActions: len(run.PendingActions()),
	}
}

// NewRunFinished builds the terminal notification for run.
func NewRunFinished(run *models.MissionRun) *MissionRunFinished {
	event := &MissionRunFinished{
		BaseEvent:  newBase(MissionRunFinishedEvent, run.DomainID),
		RunID:      run.ID,
		Status:     run.Status,
		DurationMS: run.DurationMS,
	}

	if run.Error != nil {
		event.Error = run.Error.Error()
	}

	return event
}

// NewNotificationRaised builds a notification from an executed payload.
func NewNotificationRaised(runID string, p *models.NotificationPayload) *NotificationRaised {
	return &NotificationRaised{
		BaseEvent: newBase(NotificationRaisedEvent, p.DomainID),
		RunID:     runID,
		Title:     p.Title,
		Message:   p.Message,
		Severity:  p.Severity,
	}
}

// NewAutomationDisabled builds the auto-disable notification.
func NewAutomationDisabled(a *models.Automation) *AutomationDisabled {
	return &AutomationDisabled{
		BaseEvent:     newBase(AutomationDisabledEvent, a.DomainID),
		AutomationID:  a.ID,
		FailureStreak: a.FailureStreak,
		LastError:     a.LastError,
	}
}

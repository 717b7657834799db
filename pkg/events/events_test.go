package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/models"
)

func TestNewDomainEvent(t *testing.T) {
	event := NewDomainEvent(models.EventKBChanged, "acme", map[string]any{"path": "leases/a.pdf"})

	assert.Equal(t, DomainEventType, event.GetType())
	assert.Equal(t, DomainEventType, event.Type)
	assert.Equal(t, "acme", event.DomainID)
	assert.NotEmpty(t, event.ID)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded DomainEvent
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, models.EventKBChanged, decoded.Name)
	assert.Equal(t, "leases/a.pdf", decoded.Payload["path"])
}

func TestNewRunFinished_CarriesError(t *testing.T) {
	run := &models.MissionRun{
		ID:       "run-1",
		DomainID: "acme",
		Status:   models.RunStatusFailed,
		Error:    &models.RunError{Kind: models.ErrorKindStream, Message: "reset"},
	}

	event := NewRunFinished(run)

	assert.Equal(t, MissionRunFinishedEvent, event.GetType())
	assert.Equal(t, models.RunStatusFailed, event.Status)
	assert.Equal(t, "stream: reset", event.Error)
}

func TestNewRunGated_CountsPending(t *testing.T) {
	run := &models.MissionRun{
		ID: "run-1",
		Actions: []*models.MissionRunAction{
			{Status: models.ActionStatusPending},
			{Status: models.ActionStatusExecuted},
			{Status: models.ActionStatusPending},
		},
	}

	assert.Equal(t, 2, NewRunGated(run).PendingActions)
}

func TestNewAutomationDisabled(t *testing.T) {
	event := NewAutomationDisabled(&models.Automation{ID: "a1", DomainID: "acme", FailureStreak: 5, LastError: "boom"})

	assert.Equal(t, AutomationDisabledEvent, event.GetType())
	assert.Equal(t, 5, event.FailureStreak)
	assert.Equal(t, "boom", event.LastError)
}

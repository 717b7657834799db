// Package persistence provides the storage abstraction for mission runs,
// automations and their history.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/missionflow/pkg/models"
)

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	DomainID     string
	MissionID    string
	AutomationID string
	Status       models.RunStatus
	Limit        int
}

// ActionUpdate is a compare-and-swap on a single action status.
type ActionUpdate struct {
	ID     string
	From   models.ActionStatus
	To     models.ActionStatus
	Result map[string]any
	Error  string
	At     time.Time
}

type MissionRunRepository interface {
	CreateRun(ctx context.Context, run *models.MissionRun) error
	// UpdateRun rejects updates to runs already stored in a terminal status.
	UpdateRun(ctx context.Context, run *models.MissionRun) error
	// RunByID returns the run with its outputs and actions.
	RunByID(ctx context.Context, id string) (*models.MissionRun, error)
	// Runs returns runs newest first.
	Runs(ctx context.Context, filter RunFilter) ([]*models.MissionRun, error)
	// ActiveRuns returns pending, running and gated runs.
	ActiveRuns(ctx context.Context) ([]*models.MissionRun, error)

	SaveOutputs(ctx context.Context, runID string, outputs []*models.MissionRunOutput) error
	SaveActions(ctx context.Context, actions []*models.MissionRunAction) error
	Actions(ctx context.Context, runID string) ([]*models.MissionRunAction, error)
	// UpdateActionStatus applies the update only if the action is still in
	// update.From. It reports whether the swap happened.
	UpdateActionStatus(ctx context.Context, update ActionUpdate) (bool, error)
}

type AutomationRepository interface {
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	// UpdateAutomation applies mutate to the latest stored automation and
	// saves it atomically. An error from mutate aborts the update.
	UpdateAutomation(ctx context.Context, id string, mutate func(*models.Automation) error) (*models.Automation, error)
	AutomationByID(ctx context.Context, id string) (*models.Automation, error)
	// Automations lists automations of a domain, or all when domainID is empty.
	Automations(ctx context.Context, domainID string) ([]*models.Automation, error)
	DeleteAutomation(ctx context.Context, id string) error

	AppendAutomationRun(ctx context.Context, run *models.AutomationRun) error
	FinishAutomationRun(ctx context.Context, run *models.AutomationRun) error
	// AutomationRuns returns history newest first.
	AutomationRuns(ctx context.Context, automationID string, limit int) ([]*models.AutomationRun, error)
}

type EnablementRepository interface {
	SetEnablement(ctx context.Context, enablement *models.MissionEnablement) error
	Enablement(ctx context.Context, missionID, domainID string) (*models.MissionEnablement, error)
	Enablements(ctx context.Context, domainID string) ([]*models.MissionEnablement, error)
}

type Persistence interface {
	MissionRunRepository
	AutomationRepository
	EnablementRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

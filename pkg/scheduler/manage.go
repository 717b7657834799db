package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/template"
)

// Register subscribes the scheduler to domain events on sub.
func (s *Scheduler) Register(sub eventbus.EventSubscriber) error {
	return sub.Handle(events.DomainEventType, s.HandleEvent)
}

// HandleEvent fires every enabled automation of the event's domain that
// listens for it.
func (s *Scheduler) HandleEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	if !domainEvent.Name.Valid() {
		s.logger.WarnContext(ctx, "Ignoring unsupported domain event", "name", domainEvent.Name)

		return nil
	}

	automations, err := s.store.Automations(ctx, domainEvent.DomainID)
	if err != nil {
		return err
	}

	data := &template.EventData{Name: domainEvent.Name, Payload: domainEvent.Payload}

	for _, a := range automations {
		if !a.Enabled || a.Trigger != models.TriggerTypeEvent || a.Event != domainEvent.Name {
			continue
		}

		s.logger.InfoContext(ctx, "Domain event matched automation",
			"automation_id", a.ID,
			"domain_id", a.DomainID,
			"event", domainEvent.Name,
		)
		s.dispatch(ctx, a, models.TriggerSourceEvent, nil, data)
	}

	return nil
}

// RunNow fires an automation immediately and waits for the outcome. It works
// on disabled automations too.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*models.AutomationRun, error) {
	a, err := s.store.AutomationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Running automation on demand", "automation_id", id)

	return s.fire(ctx, a, models.TriggerSourceManual, nil, nil)
}

// Upsert validates and stores an automation, recomputing its next run.
func (s *Scheduler) Upsert(ctx context.Context, a *models.Automation) (*models.Automation, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	if err := template.ValidateAutomationTemplate(a.PromptTemplate); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidAutomation, err)
	}

	now := s.Now()

	if err := a.ComputeNextRun(now); err != nil {
		return nil, err
	}

	a.UpdatedAt = now

	if a.ID != "" {
		updated, err := s.store.UpdateAutomation(ctx, a.ID, func(existing *models.Automation) error {
			a.CreatedAt = existing.CreatedAt
			a.FailureStreak = existing.FailureStreak
			a.LastError = existing.LastError
			a.LastRunAt = existing.LastRunAt
			a.RunCount = existing.RunCount
			*existing = *a

			return nil
		})
		if err == nil {
			s.forget(a.ID)

			return updated, nil
		}

		if !persistence.IsAutomationNotFound(err) {
			return nil, err
		}
	} else {
		a.ID = uuid.NewString()
	}

	a.CreatedAt = now

	if err := s.store.SaveAutomation(ctx, a); err != nil {
		return nil, err
	}

	s.forget(a.ID)

	return a, nil
}

// Enable turns an automation back on and clears its failure streak.
func (s *Scheduler) Enable(ctx context.Context, id string) (*models.Automation, error) {
	a, err := s.store.UpdateAutomation(ctx, id, func(a *models.Automation) error {
		return a.Enable(s.Now())
	})
	if err != nil {
		return nil, err
	}

	s.forget(id)
	s.logger.InfoContext(ctx, "Automation enabled", "automation_id", id, "next_run_at", a.NextRunAt)

	return a, nil
}

func (s *Scheduler) Disable(ctx context.Context, id string) (*models.Automation, error) {
	a, err := s.store.UpdateAutomation(ctx, id, func(a *models.Automation) error {
		a.Disable(s.Now())

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Automation disabled", "automation_id", id)

	return a, nil
}

func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAutomation(ctx, id); err != nil {
		return err
	}

	s.forget(id)

	return nil
}

// History returns the automation's runs, newest first.
func (s *Scheduler) History(ctx context.Context, id string, limit int) ([]*models.AutomationRun, error) {
	return s.store.AutomationRuns(ctx, id, limit)
}

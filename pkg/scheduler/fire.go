package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/metrics"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/template"
)

// Error codes stored on automation runs that failed before or around the
// mission run itself.
const (
	ErrorCodeTemplate   = "template"
	ErrorCodeStart      = "start"
	ErrorCodeDomainBusy = "domain_busy"
	ErrorCodeBusy       = "automation_busy"
)

// dispatch fires a in the background. Fires of one automation never overlap.
func (s *Scheduler) dispatch(ctx context.Context, a *models.Automation, trigger models.TriggerSource, scheduledFor *time.Time, event *template.EventData) {
	s.fires.Add(1)

	go func() {
		defer s.fires.Done()

		run, err := s.fire(context.WithoutCancel(ctx), a, trigger, scheduledFor, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "Automation fire failed", "automation_id", a.ID, "trigger", trigger, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Automation fired",
			"automation_id", a.ID,
			"trigger", trigger,
			"status", run.Status,
			"mission_run_id", run.MissionRunID,
		)
	}()
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[id] {
		return false
	}

	s.inflight[id] = true

	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, id)
}

// fire runs one automation occurrence end to end and records it in the
// automation history. Concurrent fires of the same automation are recorded as
// skipped, except manual ones which return ErrAutomationBusy.
func (s *Scheduler) fire(
	ctx context.Context,
	a *models.Automation,
	trigger models.TriggerSource,
	scheduledFor *time.Time,
	event *template.EventData,
) (*models.AutomationRun, error) {
	logger := s.logger.With("automation_id", a.ID, "domain_id", a.DomainID, "trigger", trigger)
	started := s.Now()

	record := &models.AutomationRun{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		Trigger:      trigger,
		Status:       models.AutomationRunRunning,
		ScheduledFor: scheduledFor,
		StartedAt:    started,
	}

	if !s.acquire(a.ID) {
		if trigger == models.TriggerSourceManual {
			return nil, fmt.Errorf("%w: %s", ErrAutomationBusy, a.ID)
		}

		record.ErrorCode = ErrorCodeBusy
		record.ErrorMessage = "previous run still in progress"
		record.Finish(models.AutomationRunSkipped, started)
		metrics.AutomationFiresTotal.WithLabelValues(string(trigger), string(record.Status)).Inc()
		logger.WarnContext(ctx, "Skipping fire, automation already running")

		return record, s.store.AppendAutomationRun(ctx, record)
	}
	defer s.release(a.ID)

	instructions, err := s.instructions(a, trigger, event, started)
	if err != nil {
		record.ErrorCode = ErrorCodeTemplate
		record.ErrorMessage = err.Error()
		record.Finish(models.AutomationRunFailed, s.Now())

		if err := s.store.AppendAutomationRun(ctx, record); err != nil {
			return nil, err
		}

		return record, s.recordOutcome(ctx, a.ID, record, logger)
	}

	record.PromptHash = hash(instructions)
	if a.StorePayloads {
		record.Prompt = instructions
	}

	if err := s.store.AppendAutomationRun(ctx, record); err != nil {
		return nil, err
	}

	missionID := a.MissionID
	if missionID == "" {
		missionID = missions.AutomationMissionID
	}

	run, err := s.runner.Run(ctx, engine.Request{
		MissionID:     missionID,
		DomainID:      a.DomainID,
		Inputs:        a.MissionInputs,
		AutomationID:  a.ID,
		Instructions:  instructions,
		Action:        a.Action,
		AutoApprove:   !a.RequireApproval,
		StorePayloads: a.StorePayloads,
	})

	status := outcome(record, run, err)
	record.Finish(status, s.Now())

	if err := s.store.FinishAutomationRun(ctx, record); err != nil {
		return nil, err
	}

	return record, s.recordOutcome(ctx, a.ID, record, logger)
}

// outcome maps the mission run onto the automation run record. A gated run
// counts as a success: the automation did its job and the decision is the
// user's.
func outcome(record *models.AutomationRun, run *models.MissionRun, err error) models.AutomationRunStatus {
	switch {
	case errors.Is(err, engine.ErrDomainBusy):
		record.ErrorCode = ErrorCodeDomainBusy
		record.ErrorMessage = err.Error()

		return models.AutomationRunSkipped
	case err != nil:
		record.ErrorCode = ErrorCodeStart
		record.ErrorMessage = err.Error()

		return models.AutomationRunFailed
	}

	record.MissionRunID = run.ID
	record.Response = run.RawText

	switch run.Status {
	case models.RunStatusSuccess:
		return models.AutomationRunSuccess
	case models.RunStatusGated:
		return models.AutomationRunGated
	case models.RunStatusCancelled:
		return models.AutomationRunCancelled
	case models.RunStatusFailed:
		if run.Error != nil {
			record.ErrorCode = string(run.Error.Kind)
			record.ErrorMessage = run.Error.Message
		}

		return models.AutomationRunFailed
	case models.RunStatusPending, models.RunStatusRunning:
	}

	record.ErrorCode = ErrorCodeStart
	record.ErrorMessage = fmt.Sprintf("mission run %s left in status %s", run.ID, run.Status)

	return models.AutomationRunFailed
}

// recordOutcome applies the finished fire to the latest stored automation.
func (s *Scheduler) recordOutcome(ctx context.Context, id string, record *models.AutomationRun, logger *slog.Logger) error {
	metrics.AutomationFiresTotal.WithLabelValues(string(record.Trigger), string(record.Status)).Inc()

	var disabled bool

	a, err := s.store.UpdateAutomation(ctx, id, func(a *models.Automation) error {
		disabled = a.RecordOutcome(record.Status, record.ErrorMessage, s.Now(), s.threshold)

		return nil
	})
	if err != nil {
		return err
	}

	if !disabled {
		return nil
	}

	metrics.AutomationsDisabledTotal.Inc()
	logger.WarnContext(ctx, "Automation disabled after repeated failures",
		"failure_streak", a.FailureStreak,
		"last_error", a.LastError,
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, a.ID, events.NewAutomationDisabled(a)); err != nil {
			logger.WarnContext(ctx, "Failed to publish automation disabled event", "error", err)
		}
	}

	return nil
}

func (s *Scheduler) instructions(a *models.Automation, trigger models.TriggerSource, event *template.EventData, now time.Time) (string, error) {
	if a.PromptTemplate == "" {
		return "", nil
	}

	return template.RenderForAutomation(a, trigger, event, now)
}

func hash(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

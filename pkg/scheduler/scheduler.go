// Package scheduler fires automations on their cron schedule, on domain
// events and on demand, and keeps each automation's failure streak.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
)

// DefaultInterval is how often due schedules are evaluated.
const DefaultInterval = 15 * time.Second

// maxCatchUpSteps bounds the walk to the most recent missed occurrence.
const maxCatchUpSteps = 100_000

var ErrAutomationBusy = errors.New("automation already has a run in progress")

// MissionRunner starts a mission run and waits until it is gated or finished.
type MissionRunner interface {
	Run(ctx context.Context, req engine.Request) (*models.MissionRun, error)
}

type Scheduler struct {
	// Now is the scheduler clock. Tests replace it.
	Now func() time.Time

	logger    *slog.Logger
	store     persistence.AutomationRepository
	runner    MissionRunner
	publisher eventbus.EventPublisher
	interval  time.Duration
	threshold int

	mu        sync.Mutex
	evaluated map[string]time.Time
	inflight  map[string]bool
	fires     sync.WaitGroup

	loopMu  sync.Mutex
	started bool
	done    chan struct{}
	stopped chan struct{}
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.interval = interval }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.Now = now }
}

// WithPublisher announces automations disabled by their failure streak.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Scheduler) { s.publisher = publisher }
}

// WithFailureThreshold sets the consecutive failures that disable an automation.
func WithFailureThreshold(threshold int) Option {
	return func(s *Scheduler) { s.threshold = threshold }
}

func New(logger *slog.Logger, store persistence.AutomationRepository, runner MissionRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		Now:       time.Now,
		logger:    logger.With("module", "scheduler"),
		store:     store,
		runner:    runner,
		interval:  DefaultInterval,
		threshold: models.DefaultFailureThreshold,
		evaluated: make(map[string]time.Time),
		inflight:  make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start catches up missed schedules and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting automation scheduler", "interval", s.interval)

	if err := s.CatchUp(ctx); err != nil {
		return err
	}

	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	s.started = true

	go s.loop(context.WithoutCancel(ctx), s.done, s.stopped)

	return nil
}

// Stop ends the tick loop and waits for in-flight fires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.loopMu.Lock()

	if s.started {
		close(s.done)
		<-s.stopped
		s.started = false
	}

	s.loopMu.Unlock()

	waited := make(chan struct{})

	go func() {
		s.fires.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.logger.InfoContext(ctx, "Automation scheduler stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Wait blocks until every fire dispatched so far has finished.
func (s *Scheduler) Wait() {
	s.fires.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to evaluate schedules", "error", err)
			}
		}
	}
}

// Tick dispatches every enabled schedule whose next occurrence has passed.
// Each occurrence is dispatched at most once.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.Now()

	automations, err := s.store.Automations(ctx, "")
	if err != nil {
		return err
	}

	for _, a := range automations {
		if !a.Enabled || a.Trigger != models.TriggerTypeSchedule {
			continue
		}

		logger := s.logger.With("automation_id", a.ID, "domain_id", a.DomainID)

		if a.NextRunAt == nil {
			if _, _, err := s.advance(ctx, a.ID, now, false); err != nil && !errors.Is(err, errNotScheduled) {
				logger.ErrorContext(ctx, "Failed to schedule automation", "error", err)
			}

			continue
		}

		if !a.IsDue(now) || !s.markEvaluated(a.ID, *a.NextRunAt) {
			continue
		}

		current, occurrence, err := s.advance(ctx, a.ID, now, true)
		if errors.Is(err, errNotScheduled) {
			logger.DebugContext(ctx, "Automation changed before it could fire")

			continue
		}

		if err != nil {
			logger.ErrorContext(ctx, "Failed to advance schedule", "error", err)

			continue
		}

		logger.InfoContext(ctx, "Automation due", "scheduled_for", occurrence, "next_run_at", current.NextRunAt)
		s.dispatch(ctx, current, models.TriggerSourceSchedule, &occurrence, nil)
	}

	return nil
}

// CatchUp handles schedules whose persisted next run passed while the
// process was down. Automations with catch up enabled fire once for the
// most recent missed occurrence; the others skip to their next occurrence.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	now := s.Now()

	automations, err := s.store.Automations(ctx, "")
	if err != nil {
		return err
	}

	for _, a := range automations {
		if !a.Enabled || a.Trigger != models.TriggerTypeSchedule {
			continue
		}

		logger := s.logger.With("automation_id", a.ID, "domain_id", a.DomainID)

		if a.NextRunAt == nil || a.NextRunAt.After(now) {
			if _, _, err := s.advance(ctx, a.ID, now, false); err != nil && !errors.Is(err, errNotScheduled) {
				logger.ErrorContext(ctx, "Failed to schedule automation", "error", err)
			}

			continue
		}

		current, first, err := s.advance(ctx, a.ID, now, true)
		if errors.Is(err, errNotScheduled) {
			continue
		}

		if err != nil {
			logger.ErrorContext(ctx, "Failed to advance schedule", "error", err)

			continue
		}

		missed := lastOccurrence(current.Cron, first, now)

		if !current.CatchUp {
			logger.InfoContext(ctx, "Skipping missed occurrence", "missed", missed)

			continue
		}

		s.markEvaluated(current.ID, missed)
		logger.InfoContext(ctx, "Catching up missed occurrence", "missed", missed)
		s.dispatch(ctx, current, models.TriggerSourceCatchUp, &missed, nil)
	}

	return nil
}

// lastOccurrence walks from the first missed occurrence to the latest one
// not after now.
func lastOccurrence(expr string, first, now time.Time) time.Time {
	last := first

	for range maxCatchUpSteps {
		next, err := models.NextRun(expr, last)
		if err != nil || next.After(now) {
			break
		}

		last = next
	}

	return last
}

// errNotScheduled aborts advance when the stored automation is no longer an
// enabled schedule, or no longer due.
var errNotScheduled = errors.New("automation is not scheduled")

// advance moves the stored next run of id past now and returns the stored
// automation with the occurrence it replaced. With due set it only advances
// an occurrence that has passed.
func (s *Scheduler) advance(ctx context.Context, id string, now time.Time, due bool) (*models.Automation, time.Time, error) {
	var occurrence time.Time

	a, err := s.store.UpdateAutomation(ctx, id, func(a *models.Automation) error {
		if !a.Enabled || a.Trigger != models.TriggerTypeSchedule {
			return errNotScheduled
		}

		if due {
			if !a.IsDue(now) {
				return errNotScheduled
			}

			occurrence = *a.NextRunAt
		}

		a.UpdatedAt = now

		return a.ComputeNextRun(now)
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	return a, occurrence, nil
}

// markEvaluated records occurrence as dispatched for id. It reports false
// when that occurrence was already dispatched.
func (s *Scheduler) markEvaluated(id string, occurrence time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.evaluated[id]; ok && !occurrence.After(last) {
		return false
	}

	s.evaluated[id] = occurrence

	return true
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.evaluated, id)
}



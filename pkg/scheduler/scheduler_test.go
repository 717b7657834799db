package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/mocks"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
	"github.com/dukex/missionflow/pkg/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []engine.Request
	status   models.RunStatus
	err      error
	started  chan struct{}
	release  chan struct{}
	count    int
}

func (f *fakeRunner) Run(ctx context.Context, req engine.Request) (*models.MissionRun, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.count++
	status, err, id := f.status, f.err, fmt.Sprintf("run-%d", f.count)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}

	if f.release != nil {
		<-f.release
	}

	if err != nil {
		return nil, err
	}

	run := &models.MissionRun{ID: id, AutomationID: req.AutomationID, Status: status, RawText: "reply"}
	if status == models.RunStatusFailed {
		run.Error = &models.RunError{Kind: models.ErrorKindStream, Message: "upstream closed"}
	}

	return run, nil
}

func (f *fakeRunner) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]engine.Request(nil), f.requests...)
}

func (f *fakeRunner) set(status models.RunStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status, f.err = status, err
}

// monday is 2026-01-05, a Monday, at 08:00 local time.
var monday = time.Date(2026, 1, 5, 8, 0, 0, 0, time.Local)

func setup(t *testing.T, runner *fakeRunner, opts ...scheduler.Option) (*scheduler.Scheduler, *sqlstore.Store, *clock) {
	t.Helper()

	ctx := context.Background()

	store, err := sqlstore.Open(ctx, testLogger(), filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	c := &clock{now: monday}
	s := scheduler.New(testLogger(), store, runner, append([]scheduler.Option{scheduler.WithClock(c.Now)}, opts...)...)

	t.Cleanup(func() { require.NoError(t, s.Stop(ctx)) })

	return s, store, c
}

func scheduled(cron string) *models.Automation {
	return &models.Automation{
		DomainID:        "acme",
		Name:            "Morning check",
		Trigger:         models.TriggerTypeSchedule,
		Cron:            cron,
		PromptTemplate:  "Check {{ .domain }} ({{ .trigger }})",
		RequireApproval: true,
		Enabled:         true,
	}
}

func TestUpsert_ComputesNextWeekdayRun(t *testing.T) {
	t.Parallel()

	s, _, c := setup(t, &fakeRunner{status: models.RunStatusSuccess})
	ctx := context.Background()

	friday := time.Date(2026, 1, 9, 10, 0, 0, 0, time.Local)
	c.Set(friday)

	a, err := s.Upsert(ctx, scheduled("0 9 * * 1-5"))
	require.NoError(t, err)

	require.NotNil(t, a.NextRunAt)
	assert.True(t, a.NextRunAt.Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, time.Local)), "got %s", a.NextRunAt)
	assert.NotEmpty(t, a.ID)

	_, err = s.Upsert(ctx, scheduled("not a cron"))
	require.ErrorIs(t, err, models.ErrInvalidAutomation)
}

func TestTick_FiresDueOccurrenceOnce(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusSuccess}
	s, store, c := setup(t, runner)
	ctx := context.Background()

	a, err := s.Upsert(ctx, scheduled("0 9 * * 1-5"))
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx))
	s.Wait()
	assert.Empty(t, runner.Requests())

	c.Set(monday.Add(time.Hour + 10*time.Second))

	require.NoError(t, s.Tick(ctx))
	s.Wait()
	require.NoError(t, s.Tick(ctx))
	s.Wait()

	requests := runner.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, missions.AutomationMissionID, requests[0].MissionID)
	assert.Equal(t, "acme", requests[0].DomainID)
	assert.Equal(t, a.ID, requests[0].AutomationID)
	assert.Equal(t, "Check acme (schedule)", requests[0].Instructions)
	assert.False(t, requests[0].AutoApprove)

	history, err := s.History(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AutomationRunSuccess, history[0].Status)
	assert.Equal(t, models.TriggerSourceSchedule, history[0].Trigger)
	assert.Equal(t, "run-1", history[0].MissionRunID)
	require.NotNil(t, history[0].ScheduledFor)
	assert.True(t, history[0].ScheduledFor.Equal(monday.Add(time.Hour)))

	stored, err := store.AutomationByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
	assert.True(t, stored.NextRunAt.Equal(time.Date(2026, 1, 6, 9, 0, 0, 0, time.Local)))
}

func TestRunNow_FailureStreakDisables(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusFailed}
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.AnythingOfType("*events.AutomationDisabled")).Return(nil).Once()

	s, store, _ := setup(t, runner, scheduler.WithPublisher(bus))
	ctx := context.Background()

	a, err := s.Upsert(ctx, scheduled("*/5 * * * *"))
	require.NoError(t, err)

	for i := 1; i <= models.DefaultFailureThreshold; i++ {
		record, err := s.RunNow(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AutomationRunFailed, record.Status)
		assert.Equal(t, string(models.ErrorKindStream), record.ErrorCode)

		stored, err := store.AutomationByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, i, stored.FailureStreak)
		assert.Equal(t, i < models.DefaultFailureThreshold, stored.Enabled)
	}

	stored, err := store.AutomationByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, "upstream closed", stored.LastError)
	bus.AssertExpectations(t)

	// Manual runs still work on a disabled automation.
	runner.set(models.RunStatusSuccess, nil)

	record, err := s.RunNow(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationRunSuccess, record.Status)

	stored, err = store.AutomationByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailureStreak)
	assert.False(t, stored.Enabled)

	enabled, err := s.Enable(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.NotNil(t, enabled.NextRunAt)
}

func TestRunNow_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status models.RunStatus
		err    error
		want   models.AutomationRunStatus
		code   string
		streak int
	}{
		{name: "gated counts as success", status: models.RunStatusGated, want: models.AutomationRunGated},
		{name: "cancelled", status: models.RunStatusCancelled, want: models.AutomationRunCancelled},
		{
			name: "domain busy is skipped",
			err:  &engine.BusyError{DomainID: "acme", RunID: "other"},
			want: models.AutomationRunSkipped,
			code: scheduler.ErrorCodeDomainBusy,
		},
		{
			name:   "start error fails",
			err:    engine.ErrMissionNotEnabled,
			want:   models.AutomationRunFailed,
			code:   scheduler.ErrorCodeStart,
			streak: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{status: tt.status, err: tt.err}
			s, store, _ := setup(t, runner)
			ctx := context.Background()

			a, err := s.Upsert(ctx, scheduled("0 9 * * *"))
			require.NoError(t, err)

			record, err := s.RunNow(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, record.Status)
			assert.Equal(t, tt.code, record.ErrorCode)
			assert.Equal(t, models.TriggerSourceManual, record.Trigger)
			assert.NotNil(t, record.FinishedAt)

			stored, err := store.AutomationByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.streak, stored.FailureStreak)
		})
	}
}

func TestRunNow_TemplateErrorFails(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusSuccess}
	s, store, _ := setup(t, runner)
	ctx := context.Background()

	a := scheduled("0 9 * * *")
	a.ID = "broken"
	a.PromptTemplate = "{{ .domain"
	require.NoError(t, store.SaveAutomation(ctx, a))

	record, err := s.RunNow(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationRunFailed, record.Status)
	assert.Equal(t, scheduler.ErrorCodeTemplate, record.ErrorCode)
	assert.Empty(t, runner.Requests())
}

func TestRunNow_NeverConcurrentPerAutomation(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		status:  models.RunStatusSuccess,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _, _ := setup(t, runner)
	ctx := context.Background()

	a, err := s.Upsert(ctx, scheduled("0 9 * * *"))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := s.RunNow(ctx, a.ID)
		done <- err
	}()

	<-runner.started

	_, err = s.RunNow(ctx, a.ID)
	require.ErrorIs(t, err, scheduler.ErrAutomationBusy)

	close(runner.release)
	require.NoError(t, <-done)
}

func TestStart_CatchUpFiresOnce(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusSuccess}
	s, store, c := setup(t, runner)
	ctx := context.Background()

	c.Set(time.Date(2026, 1, 8, 12, 0, 0, 0, time.Local))

	missedSince := time.Date(2026, 1, 5, 9, 0, 0, 0, time.Local)

	catchUp := scheduled("0 9 * * *")
	catchUp.ID = "catch-up"
	catchUp.CatchUp = true
	catchUp.NextRunAt = &missedSince
	require.NoError(t, store.SaveAutomation(ctx, catchUp))

	skip := scheduled("0 9 * * *")
	skip.ID = "no-catch-up"
	skip.NextRunAt = &missedSince
	require.NoError(t, store.SaveAutomation(ctx, skip))

	require.NoError(t, s.Start(ctx))
	s.Wait()

	require.NoError(t, s.Tick(ctx))
	s.Wait()

	requests := runner.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "catch-up", requests[0].AutomationID)
	assert.Equal(t, "Check acme (catch_up)", requests[0].Instructions)

	history, err := s.History(ctx, "catch-up", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TriggerSourceCatchUp, history[0].Trigger)
	assert.True(t, history[0].ScheduledFor.Equal(time.Date(2026, 1, 8, 9, 0, 0, 0, time.Local)))

	next := time.Date(2026, 1, 9, 9, 0, 0, 0, time.Local)

	for _, id := range []string{"catch-up", "no-catch-up"} {
		stored, err := store.AutomationByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.NextRunAt.Equal(next), "%s next run %s", id, stored.NextRunAt)
	}
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusSuccess}
	s, _, _ := setup(t, runner)
	ctx := context.Background()

	listener := &models.Automation{
		DomainID:       "acme",
		Name:           "Intake triage",
		Trigger:        models.TriggerTypeEvent,
		Event:          models.EventIntakeCreated,
		PromptTemplate: "New intake from {{ .event.payload.borrower }}",
		Enabled:        true,
	}
	_, err := s.Upsert(ctx, listener)
	require.NoError(t, err)

	otherEvent := *listener
	otherEvent.ID = ""
	otherEvent.Event = models.EventKBChanged
	_, err = s.Upsert(ctx, &otherEvent)
	require.NoError(t, err)

	otherDomain := *listener
	otherDomain.ID = ""
	otherDomain.DomainID = "globex"
	_, err = s.Upsert(ctx, &otherDomain)
	require.NoError(t, err)

	err = s.HandleEvent(ctx, events.NewDomainEvent(models.EventIntakeCreated, "acme", map[string]any{"borrower": "Acme LLC"}))
	require.NoError(t, err)
	s.Wait()

	requests := runner.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, listener.ID, requests[0].AutomationID)
	assert.Equal(t, "New intake from Acme LLC", requests[0].Instructions)
	assert.True(t, requests[0].AutoApprove)

	require.Error(t, s.HandleEvent(ctx, "not an event"))
}

func TestRegister(t *testing.T) {
	t.Parallel()

	s, _, _ := setup(t, &fakeRunner{})

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.DomainEventType, mock.Anything).Return(nil)

	require.NoError(t, s.Register(bus))
	bus.AssertExpectations(t)

	failing := &mocks.MockEventBus{}
	failing.On("Handle", events.DomainEventType, mock.Anything).Return(errors.New("closed"))
	require.Error(t, s.Register(failing))
}

// staleListStore runs afterList between reading the automation list and
// returning it, so Tick works on a snapshot that is already out of date.
type staleListStore struct {
	*sqlstore.Store
	afterList func()
}

func (s *staleListStore) Automations(ctx context.Context, domainID string) ([]*models.Automation, error) {
	list, err := s.Store.Automations(ctx, domainID)

	if s.afterList != nil {
		s.afterList()
		s.afterList = nil
	}

	return list, err
}

func TestTick_StaleSnapshotKeepsConcurrentChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		change func(ctx context.Context, s *scheduler.Scheduler, store *sqlstore.Store, id string, now time.Time) error
		streak int
	}{
		{
			name: "failure streak disables",
			change: func(ctx context.Context, _ *scheduler.Scheduler, store *sqlstore.Store, id string, now time.Time) error {
				_, err := store.UpdateAutomation(ctx, id, func(a *models.Automation) error {
					a.RecordOutcome(models.AutomationRunFailed, "upstream closed", now, models.DefaultFailureThreshold)

					return nil
				})

				return err
			},
			streak: models.DefaultFailureThreshold,
		},
		{
			name: "user disables",
			change: func(ctx context.Context, s *scheduler.Scheduler, _ *sqlstore.Store, id string, _ time.Time) error {
				_, err := s.Disable(ctx, id)

				return err
			},
			streak: models.DefaultFailureThreshold - 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			inner, err := sqlstore.Open(ctx, testLogger(), filepath.Join(t.TempDir(), "scheduler.db"))
			require.NoError(t, err)

			t.Cleanup(func() { _ = inner.Close(ctx) })

			store := &staleListStore{Store: inner}
			runner := &fakeRunner{status: models.RunStatusFailed}
			c := &clock{now: monday}

			s := scheduler.New(testLogger(), store, runner, scheduler.WithClock(c.Now))
			t.Cleanup(func() { require.NoError(t, s.Stop(ctx)) })

			a, err := s.Upsert(ctx, scheduled("0 9 * * 1-5"))
			require.NoError(t, err)

			_, err = inner.UpdateAutomation(ctx, a.ID, func(stored *models.Automation) error {
				stored.FailureStreak = models.DefaultFailureThreshold - 1

				return nil
			})
			require.NoError(t, err)

			c.Set(monday.Add(2 * time.Hour))

			store.afterList = func() {
				require.NoError(t, tt.change(ctx, s, inner, a.ID, c.Now()))
			}

			require.NoError(t, s.Tick(ctx))
			s.Wait()

			assert.Empty(t, runner.Requests())

			stored, err := inner.AutomationByID(ctx, a.ID)
			require.NoError(t, err)
			assert.False(t, stored.Enabled)
			assert.Equal(t, tt.streak, stored.FailureStreak)

			require.NoError(t, s.Tick(ctx))
			s.Wait()
			assert.Empty(t, runner.Requests())
		})
	}
}

func TestUpdateAutomation_SerializesOutcomes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: models.RunStatusFailed}
	s, store, _ := setup(t, runner)
	ctx := context.Background()

	a := scheduled("0 9 * * 1-5")
	a.Trigger = models.TriggerTypeManual
	a.Cron = ""

	a, err := s.Upsert(ctx, a)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.UpdateAutomation(ctx, a.ID, func(stored *models.Automation) error {
				stored.RecordOutcome(models.AutomationRunSuccess, "", monday, models.DefaultFailureThreshold)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	stored, err := store.AutomationByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.RunCount)
}

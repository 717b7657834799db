package engine_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence/sqlstore"
	"github.com/dukex/missionflow/pkg/protocol"
	"github.com/dukex/missionflow/pkg/registry"
)

// blockingFactory executes create_task actions by waiting for the run
// context to be cancelled. With completeAnyway the action then succeeds, as
// an executor already past its point of no return would.
type blockingFactory struct {
	started        chan struct{}
	completeAnyway bool
	rec            *recorder
}

func (f blockingFactory) Create(context.Context, map[string]any) (protocol.Action, error) { return f, nil }
func (f blockingFactory) ID() models.ActionType                                           { return models.ActionTypeCreateTask }
func (f blockingFactory) Name() string                                                    { return "blocking task" }
func (f blockingFactory) Description() string                                             { return "" }
func (f blockingFactory) Schema() map[string]any                                          { return map[string]any{"type": "object"} }

func (f blockingFactory) Execute(ctx context.Context, req protocol.ActionRequest, _ *slog.Logger) (map[string]any, error) {
	f.started <- struct{}{}

	<-ctx.Done()

	if !f.completeAnyway {
		return nil, ctx.Err()
	}

	f.rec.record("create_task:" + req.Payload.(*models.TaskPayload).Title)

	return map[string]any{"ok": true}, nil
}

func setupWithTaskFactory(t *testing.T, streamer *fakeStreamer, tasks protocol.ActionFactory, rec *recorder) (*engine.Engine, *sqlstore.Store) {
	t.Helper()

	ctx := context.Background()
	logger := testLogger()

	store, err := sqlstore.Open(ctx, logger, filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	catalog, err := missions.Load("")
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(recordingFactory{typ: models.ActionTypeNotification, rec: rec})
	reg.RegisterAction(recordingFactory{typ: models.ActionTypeCreateDeadline, rec: rec})
	reg.RegisterAction(recordingFactory{typ: models.ActionTypeDraftEmail, rec: rec})
	reg.RegisterAction(tasks)

	eng := engine.New(logger, store, catalog, reg, streamer, fakeDigests{})

	t.Cleanup(func() { require.NoError(t, eng.Stop(ctx)) })

	return eng, store
}

func TestCancel_DuringApprovedExecution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		completeAnyway bool
		taskStatus     models.ActionStatus
		calls          []string
	}{
		{name: "in-flight action aborts", taskStatus: models.ActionStatusFailed, calls: nil},
		{
			name:           "in-flight action completes",
			completeAnyway: true,
			taskStatus:     models.ActionStatusExecuted,
			calls:          []string{"create_task:Order appraisal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reply := fence("task", `{"title": "Order appraisal"}`) +
				fence("deadline", `{"title": "Maturity", "due_date": "2027-01-01"}`)

			rec := &recorder{}
			tasks := blockingFactory{started: make(chan struct{}, 1), completeAnyway: tt.completeAnyway, rec: rec}
			eng, store := setupWithTaskFactory(t, &fakeStreamer{reply: reply}, tasks, rec)
			ctx := context.Background()

			run, err := eng.Run(ctx, engine.Request{MissionID: "deadline-sweep", DomainID: "acme"})
			require.NoError(t, err)
			require.Equal(t, models.RunStatusGated, run.Status)
			require.Len(t, run.Actions, 2)

			decided := make(chan error, 1)

			go func() {
				_, err := eng.Decide(ctx, run.ID, true)
				decided <- err
			}()

			<-tasks.started

			cancelled, err := eng.Cancel(ctx, run.ID)
			require.NoError(t, err)
			require.NoError(t, <-decided)

			assert.Equal(t, models.RunStatusCancelled, cancelled.Status)

			stored, err := store.RunByID(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusCancelled, stored.Status)

			statuses := actionStatuses(stored)
			assert.Equal(t, tt.taskStatus, statuses[models.ActionTypeCreateTask])
			assert.Equal(t, models.ActionStatusRejected, statuses[models.ActionTypeCreateDeadline])
			assert.Equal(t, tt.calls, rec.Calls())

			_, busy := eng.ActiveRun("acme")
			assert.False(t, busy)
		})
	}
}

func TestDecideAndCancel_Concurrent(t *testing.T) {
	t.Parallel()

	for range 10 {
		f := setup(t, &fakeStreamer{reply: fence("deadline", `{"title": "Maturity", "due_date": "2027-01-01"}`)})
		ctx := context.Background()

		run, err := f.engine.Run(ctx, engine.Request{MissionID: "deadline-sweep", DomainID: "acme"})
		require.NoError(t, err)
		require.Equal(t, models.RunStatusGated, run.Status)

		var wg sync.WaitGroup

		start := make(chan struct{})

		wg.Add(2)

		go func() {
			defer wg.Done()

			<-start
			_, err := f.engine.Decide(ctx, run.ID, true)
			assert.NoError(t, err)
		}()

		go func() {
			defer wg.Done()

			<-start
			_, err := f.engine.Cancel(ctx, run.ID)
			assert.NoError(t, err)
		}()

		close(start)
		wg.Wait()

		stored, err := f.store.RunByID(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, stored.Actions, 1)

		switch stored.Status {
		case models.RunStatusCancelled:
			assert.NotEqual(t, models.ActionStatusExecuted, stored.Actions[0].Status)
			assert.Empty(t, f.rec.Calls())
		case models.RunStatusSuccess:
			assert.Equal(t, models.ActionStatusExecuted, stored.Actions[0].Status)
			assert.Equal(t, []string{"create_deadline:Maturity"}, f.rec.Calls())
		default:
			t.Fatalf("run ended in %s", stored.Status)
		}

		_, busy := f.engine.ActiveRun("acme")
		assert.False(t, busy)
	}
}

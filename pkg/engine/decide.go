package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/metrics"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/otelhelper"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/protocol"
)

var errCancelled = &models.RunError{Kind: "cancelled", Message: "run cancelled"}

// Decide approves or rejects every pending action of a gated run. A second
// decision, or a decision on a cancelled run, returns the run unchanged. A
// gated run this engine does not hold, because Recover has not reclaimed it,
// returns ErrRunNotRecovered.
func (e *Engine) Decide(ctx context.Context, runID string, approved bool) (*models.MissionRun, error) {
	run, err := e.store.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.IsTerminal() {
		return run, nil
	}

	h := e.handle(runID)
	if h == nil {
		run, err = e.store.RunByID(ctx, runID)
		if err != nil {
			return nil, err
		}

		if run.Status.IsTerminal() {
			return run, nil
		}

		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotRecovered, runID, run.Status)
	}

	if run.Status != models.RunStatusGated && !h.decided.Load() {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotGated, runID, run.Status)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	run, err = e.store.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusGated || h.cancelled.Load() {
		return run, nil
	}

	h.decided.Store(true)

	logger := e.logger.With("run_id", run.ID, "mission_id", run.MissionID, "domain_id", run.DomainID)
	storeCtx := context.WithoutCancel(ctx)

	ctx, span := otelhelper.StartSpan(storeCtx, e.tracer, "mission.decide",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.Bool("missionflow.approved", approved),
	)
	defer span.End()

	if !approved {
		logger.InfoContext(ctx, "Pending actions rejected")
		e.cancelRun(storeCtx, h, run, logger)

		return e.store.RunByID(storeCtx, runID)
	}

	var toExecute []*models.MissionRunAction

	for _, a := range run.PendingActions() {
		ok, err := e.store.UpdateActionStatus(storeCtx, persistence.ActionUpdate{
			ID:   a.ID,
			From: models.ActionStatusPending,
			To:   models.ActionStatusApproved,
			At:   e.now(),
		})
		if err != nil {
			return nil, err
		}

		if ok {
			a.Status = models.ActionStatusApproved
			toExecute = append(toExecute, a)
		}
	}

	if !e.transition(storeCtx, h, run, models.RunStatusRunning, logger) {
		return e.store.RunByID(storeCtx, runID)
	}

	logger.InfoContext(ctx, "Actions approved", "count", len(toExecute))

	execCtx, cancel := context.WithCancel(e.baseCtx)
	h.setCancel(cancel)

	defer cancel()

	if runErr := e.executeActions(execCtx, h, run, toExecute, logger); runErr != nil {
		if runErr != errCancelled {
			otelhelper.SetError(span, runErr)
		}

		e.finishWithError(storeCtx, h, run, runErr, logger)
	} else {
		e.transition(storeCtx, h, run, models.RunStatusSuccess, logger)
	}

	return e.store.RunByID(storeCtx, runID)
}

// Cancel stops a run. A streaming run is aborted, a gated run has its
// pending actions rejected. Terminal runs are returned unchanged.
func (e *Engine) Cancel(ctx context.Context, runID string) (*models.MissionRun, error) {
	h := e.handle(runID)
	if h == nil {
		return e.store.RunByID(ctx, runID)
	}

	e.logger.InfoContext(ctx, "Cancelling mission run", "run_id", runID)
	h.requestCancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	storeCtx := context.WithoutCancel(ctx)

	run, err := e.store.RunByID(storeCtx, runID)
	if err != nil {
		return nil, err
	}

	if !run.Status.IsTerminal() {
		e.cancelRun(storeCtx, h, run, e.logger.With("run_id", run.ID, "domain_id", run.DomainID))

		return e.store.RunByID(storeCtx, runID)
	}

	return run, nil
}

// executeActions runs approved actions in order. The first failure stops
// the batch: remaining actions fail without being executed and earlier ones
// are kept. A cancel request is honoured before every executor call.
func (e *Engine) executeActions(
	ctx context.Context,
	h *handle,
	run *models.MissionRun,
	actions []*models.MissionRunAction,
	logger *slog.Logger,
) *models.RunError {
	storeCtx := context.WithoutCancel(ctx)

	for i, a := range actions {
		if h.cancelled.Load() || ctx.Err() != nil {
			return errCancelled
		}

		result, err := e.executeOne(ctx, run, a, logger)
		if err != nil {
			if h.cancelled.Load() {
				e.settle(storeCtx, a, models.ActionStatusFailed, nil, fmt.Sprintf("aborted by cancel: %v", err))

				return errCancelled
			}

			e.settle(storeCtx, a, models.ActionStatusFailed, nil, err.Error())
			metrics.ActionExecutionsTotal.WithLabelValues(string(a.Type), string(models.ActionStatusFailed)).Inc()

			reason := fmt.Sprintf("not executed: earlier action %s failed", a.ID)
			for _, rest := range actions[i+1:] {
				e.settle(storeCtx, rest, models.ActionStatusFailed, nil, reason)
			}

			e.settleRemaining(storeCtx, run.Actions, models.ActionStatusFailed, reason)

			logger.ErrorContext(ctx, "Action failed", "action_id", a.ID, "type", a.Type, "error", err)

			return &models.RunError{
				Kind:     models.ErrorKindExecutor,
				Message:  fmt.Sprintf("action %s (%s) failed: %v", a.ID, a.Type, err),
				ActionID: a.ID,
			}
		}

		e.settle(storeCtx, a, models.ActionStatusExecuted, result, "")
		metrics.ActionExecutionsTotal.WithLabelValues(string(a.Type), string(models.ActionStatusExecuted)).Inc()
	}

	return nil
}

func (e *Engine) executeOne(ctx context.Context, run *models.MissionRun, a *models.MissionRunAction, logger *slog.Logger) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "mission.action",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.ActionIDKey, a.ID),
		attribute.String(otelhelper.ActionTypeKey, string(a.Type)),
	)
	defer span.End()

	executor, err := e.registry.CreateAction(ctx, a.Type, nil)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result, err := executor.Execute(ctx, protocol.ActionRequest{
		RunID:    run.ID,
		ActionID: a.ID,
		DomainID: run.DomainID,
		Payload:  a.Payload,
	}, logger)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return result, nil
}

// settle moves an approved action to its final status.
func (e *Engine) settle(ctx context.Context, a *models.MissionRunAction, to models.ActionStatus, result map[string]any, message string) {
	now := e.now()

	ok, err := e.store.UpdateActionStatus(ctx, persistence.ActionUpdate{
		ID:     a.ID,
		From:   a.Status,
		To:     to,
		Result: result,
		Error:  message,
		At:     now,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist action status", "action_id", a.ID, "status", to, "error", err)

		return
	}

	if !ok {
		e.logger.WarnContext(ctx, "Action status changed concurrently", "action_id", a.ID, "expected", a.Status)

		return
	}

	a.Status = to
	a.Result = result
	a.Error = message
	a.UpdatedAt = now

	if to == models.ActionStatusExecuted {
		a.ExecutedAt = &now
	}
}

// settleRemaining closes every action still pending or approved.
func (e *Engine) settleRemaining(ctx context.Context, actions []*models.MissionRunAction, to models.ActionStatus, message string) {
	for _, a := range actions {
		if a.Status == models.ActionStatusPending || a.Status == models.ActionStatusApproved {
			e.settle(ctx, a, to, nil, message)
		}
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}

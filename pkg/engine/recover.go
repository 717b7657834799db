package engine

import (
	"context"
	"fmt"

	"github.com/dukex/missionflow/pkg/metrics"
	"github.com/dukex/missionflow/pkg/models"
)

// Recover reconciles runs left active by a previous process. Pending and
// running runs fail as interrupted and their undecided actions are marked
// failed for manual reconciliation. Gated runs take their domain back and
// keep waiting for a decision.
func (e *Engine) Recover(ctx context.Context) error {
	runs, err := e.store.ActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	for _, run := range runs {
		logger := e.logger.With("run_id", run.ID, "domain_id", run.DomainID, "status", run.Status)

		if run.Status == models.RunStatusGated {
			h := newHandle(run.ID, run.DomainID)
			close(h.done)

			if err := e.acquire(h); err != nil {
				logger.WarnContext(ctx, "Gated run could not reclaim its domain", "error", err)

				continue
			}

			metrics.ActiveRuns.Inc()
			logger.InfoContext(ctx, "Gated run restored")

			continue
		}

		actions, err := e.store.Actions(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("recover run %s: %w", run.ID, err)
		}

		e.settleRemaining(ctx, actions, models.ActionStatusFailed, "interrupted before execution; reconcile manually")

		if err := run.Fail(models.ErrorKindInterrupted, "process stopped while the run was in progress", e.now()); err != nil {
			return fmt.Errorf("recover run %s: %w", run.ID, err)
		}

		if err := e.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("recover run %s: %w", run.ID, err)
		}

		metrics.MissionRunsTotal.WithLabelValues(run.MissionID, string(run.Status)).Inc()
		logger.WarnContext(ctx, "Interrupted run marked failed")
	}

	return nil
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/gate"
	"github.com/dukex/missionflow/pkg/metrics"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/otelhelper"
	"github.com/dukex/missionflow/pkg/parser"
	"github.com/dukex/missionflow/pkg/prompt"
	"github.com/dukex/missionflow/pkg/protocol"
)

// execute runs the streaming phase of a run. It returns once the run is
// gated or terminal. The caller holds h.mu.
func (e *Engine) execute(
	ctx context.Context,
	h *handle,
	run *models.MissionRun,
	def *models.MissionDefinition,
	req Request,
	logger *slog.Logger,
) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "mission.run",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.MissionIDKey, def.ID),
		attribute.String(otelhelper.DomainIDKey, run.DomainID),
		attribute.String(otelhelper.AutomationIDKey, req.AutomationID),
	)
	defer span.End()

	storeCtx := context.WithoutCancel(ctx)

	if h.cancelled.Load() {
		e.cancelRun(storeCtx, h, run, logger)

		return
	}

	if !e.transition(storeCtx, h, run, models.RunStatusRunning, logger) {
		return
	}

	metrics.ActiveRuns.Inc()
	e.publish(storeCtx, run.ID, events.NewRunStarted(run))

	digest, err := e.digests.ReadDigest(ctx, run.DomainID)
	if err != nil {
		e.interruptOr(storeCtx, h, run, models.ErrorKindDigest, fmt.Sprintf("failed to read knowledge base: %v", err), logger)

		return
	}

	p := prompt.Build(prompt.Context{
		Definition:   def,
		Digest:       digest,
		DomainID:     run.DomainID,
		Instructions: req.Instructions,
	}, req.Inputs)

	run.Mode = p.Mode
	run.Inputs = p.Inputs
	run.Provenance.PromptHash = p.Hash()
	run.Provenance.ContextHash = prompt.ContextHash(digest)
	run.Provenance.SystemChars = len(p.System)
	run.Provenance.UserChars = len(p.User)

	if digest != nil {
		readAt := digest.ReadAt
		run.Provenance.DomainsRead = digest.DomainsRead
		run.Provenance.DigestReadAt = &readAt
	}

	logger.InfoContext(ctx, "Streaming mission prompt", "mode", p.Mode, "system_chars", len(p.System))

	onToken := req.OnToken
	if onToken == nil {
		onToken = func(string) {}
	}

	result, err := e.streamer.Stream(ctx, protocol.StreamRequest{System: p.System, User: p.User}, onToken)
	if err != nil {
		otelhelper.SetError(span, err)
		e.interruptOr(storeCtx, h, run, models.ErrorKindStream, err.Error(), logger)

		return
	}

	if h.cancelled.Load() {
		e.cancelRun(storeCtx, h, run, logger)

		return
	}

	run.Provenance.Model = result.Model
	run.Provenance.Provider = result.Provider
	run.RawTextHash = hashText(result.Text)

	if req.StorePayloads || e.storePayloads {
		run.RawText = result.Text
	}

	if strings.TrimSpace(result.Text) == "" {
		e.fail(storeCtx, h, run, models.ErrorKindNoOutput, "the model returned an empty reply", logger)

		return
	}

	parsed, err := safeParse(result.Text, def.Kind)
	if err != nil {
		e.fail(storeCtx, h, run, models.ErrorKindParser, err.Error(), logger)

		return
	}

	run.Diagnostics = parsed.Diagnostics
	if !run.Diagnostics.Empty() {
		metrics.ParseDiagnosticsTotal.WithLabelValues(def.ID).Add(float64(len(run.Diagnostics.Errors)))
	}

	if len(parsed.Outputs) == 0 {
		e.fail(storeCtx, h, run, models.ErrorKindNoOutput, "the reply contained no recognised output blocks", logger)

		return
	}

	outputs := e.outputs(run.ID, parsed.Outputs)
	if err := e.store.SaveOutputs(storeCtx, run.ID, outputs); err != nil {
		e.fail(storeCtx, h, run, models.ErrorKindStorage, err.Error(), logger)

		return
	}

	run.Outputs = outputs

	actions, notes := gate.Classify(outputs, run.DomainID)
	run.Diagnostics.Errors = append(run.Diagnostics.Errors, notes...)

	if req.Action != nil {
		derived, err := deriveAction(*req.Action, outputs)
		if err != nil {
			run.Diagnostics.Errors = append(run.Diagnostics.Errors, err.Error())
		} else {
			actions = append(actions, derived)
		}
	}

	immediate, held := gate.Split(actions, !req.AutoApprove)
	now := e.now()

	for _, a := range actions {
		a.ID = uuid.NewString()
		a.RunID = run.ID
		a.CreatedAt = now
		a.UpdatedAt = now
	}

	gate.AutoApprove(immediate)

	if err := e.store.SaveActions(storeCtx, actions); err != nil {
		e.fail(storeCtx, h, run, models.ErrorKindStorage, err.Error(), logger)

		return
	}

	run.Actions = actions

	logger.InfoContext(ctx, "Reply parsed",
		"outputs", len(outputs),
		"actions", len(actions),
		"held", len(held),
		"skipped_blocks", run.Diagnostics.SkippedBlocks,
	)

	if runErr := e.executeActions(ctx, h, run, immediate, logger); runErr != nil {
		e.finishWithError(storeCtx, h, run, runErr, logger)

		return
	}

	if len(held) > 0 {
		if e.transition(storeCtx, h, run, models.RunStatusGated, logger) {
			metrics.MissionRunsTotal.WithLabelValues(run.MissionID, string(run.Status)).Inc()
			e.publish(storeCtx, run.ID, events.NewRunGated(run))
			logger.InfoContext(ctx, "Mission run awaiting approval", "pending_actions", len(held))
		}

		return
	}

	e.transition(storeCtx, h, run, models.RunStatusSuccess, logger)
}

func (e *Engine) outputs(runID string, contents []models.OutputContent) []*models.MissionRunOutput {
	now := e.now()
	outputs := make([]*models.MissionRunOutput, 0, len(contents))

	for i, content := range contents {
		outputs = append(outputs, &models.MissionRunOutput{
			ID:        uuid.NewString(),
			RunID:     runID,
			Index:     i,
			Type:      content.OutputType(),
			Content:   content,
			CreatedAt: now,
		})
	}

	return outputs
}

// deriveAction builds the automation's configured action from its summary.
func deriveAction(config models.ActionConfig, outputs []*models.MissionRunOutput) (*models.MissionRunAction, error) {
	summary, index := "", -1

	for _, o := range outputs {
		if s, ok := o.Content.(*models.Summary); ok {
			summary, index = s.Text, o.Index

			break
		}
	}

	payload, err := config.BuildPayload(summary)
	if err != nil {
		return nil, fmt.Errorf("configured %s action was not created: %w", config.Type, err)
	}

	return &models.MissionRunAction{
		Type:              payload.ActionType(),
		Status:            models.ActionStatusPending,
		Payload:           payload,
		SourceOutputIndex: index,
	}, nil
}

func safeParse(raw string, kind models.MissionKind) (result parser.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	return parser.Parse(raw, kind), nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

// transition persists run in next. Terminal statuses release the domain.
// It reports whether the run is still owned by this caller.
func (e *Engine) transition(ctx context.Context, h *handle, run *models.MissionRun, next models.RunStatus, logger *slog.Logger) bool {
	previous := run.Status

	if err := run.Transition(next, e.now()); err != nil {
		logger.ErrorContext(ctx, "Rejected run transition", "error", err)

		return false
	}

	if err := e.store.UpdateRun(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to persist run", "status", next, "error", err)

		if !next.IsTerminal() {
			run.Status = previous
			_ = run.Fail(models.ErrorKindStorage, err.Error(), e.now())
			_ = e.store.UpdateRun(ctx, run)
		}

		e.finished(ctx, h, run, logger)

		return false
	}

	if next.IsTerminal() {
		e.finished(ctx, h, run, logger)
	}

	return true
}

func (e *Engine) finished(ctx context.Context, h *handle, run *models.MissionRun, logger *slog.Logger) {
	e.release(h)

	if run.StartedAt != nil {
		metrics.ActiveRuns.Dec()
		metrics.MissionRunDuration.WithLabelValues(run.MissionID).Observe(float64(run.DurationMS) / 1000)
	}

	metrics.MissionRunsTotal.WithLabelValues(run.MissionID, string(run.Status)).Inc()
	e.publish(ctx, run.ID, events.NewRunFinished(run))

	attrs := []any{"status", run.Status, "duration_ms", run.DurationMS}
	if run.Error != nil {
		attrs = append(attrs, "error_kind", run.Error.Kind, "error", run.Error.Message)
	}

	logger.InfoContext(ctx, "Mission run finished", attrs...)
}

func (e *Engine) fail(ctx context.Context, h *handle, run *models.MissionRun, kind models.ErrorKind, message string, logger *slog.Logger) {
	e.finishWithError(ctx, h, run, &models.RunError{Kind: kind, Message: message}, logger)
}

func (e *Engine) finishWithError(ctx context.Context, h *handle, run *models.MissionRun, runErr *models.RunError, logger *slog.Logger) {
	if runErr == errCancelled {
		e.cancelRun(ctx, h, run, logger)

		return
	}

	run.Error = runErr
	e.transition(ctx, h, run, models.RunStatusFailed, logger)
}

// interruptOr classifies a failure of a blocking call: user cancel,
// engine shutdown, or a genuine error of kind.
func (e *Engine) interruptOr(ctx context.Context, h *handle, run *models.MissionRun, kind models.ErrorKind, message string, logger *slog.Logger) {
	switch {
	case h.cancelled.Load():
		e.cancelRun(ctx, h, run, logger)
	case e.baseCtx.Err() != nil:
		e.fail(ctx, h, run, models.ErrorKindInterrupted, "engine stopped while the run was in progress", logger)
	default:
		e.fail(ctx, h, run, kind, message, logger)
	}
}

// cancelRun rejects every undecided action and closes the run as cancelled.
func (e *Engine) cancelRun(ctx context.Context, h *handle, run *models.MissionRun, logger *slog.Logger) {
	e.settleRemaining(ctx, run.Actions, models.ActionStatusRejected, "run cancelled")
	e.transition(ctx, h, run, models.RunStatusCancelled, logger)
}

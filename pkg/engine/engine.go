// Package engine drives mission runs through their lifecycle: prompt, model
// stream, parse, gate and execution of approved actions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/otelhelper"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/protocol"
	"github.com/dukex/missionflow/pkg/registry"
)

// MissionCatalog resolves mission definitions by id.
type MissionCatalog interface {
	Mission(id string) (*models.MissionDefinition, error)
}

// Request describes one run to start.
type Request struct {
	MissionID string
	DomainID  string
	Inputs    map[string]any

	// AutomationID links the run to the automation that fired it.
	AutomationID string
	// Instructions are appended to the system prompt.
	Instructions string
	// Action derives an extra action from the run summary.
	Action *models.ActionConfig
	// AutoApprove executes side-effecting actions without a user decision.
	AutoApprove bool
	// StorePayloads keeps the raw reply instead of only its hash.
	StorePayloads bool

	// OnToken receives streamed tokens for live display.
	OnToken func(token string)
}

type Engine struct {
	logger    *slog.Logger
	store     persistence.Persistence
	catalog   MissionCatalog
	registry  *registry.Registry
	streamer  protocol.Streamer
	digests   protocol.DigestReader
	publisher eventbus.EventPublisher
	tracer    trace.Tracer

	now           func() time.Time
	storePayloads bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	domains map[string]string
	handles map[string]*handle
}

type Option func(*Engine)

// WithPublisher publishes lifecycle events on the bus.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStorePayloads keeps raw replies of every run.
func WithStorePayloads(store bool) Option {
	return func(e *Engine) { e.storePayloads = store }
}

func New(
	logger *slog.Logger,
	store persistence.Persistence,
	catalog MissionCatalog,
	registry *registry.Registry,
	streamer protocol.Streamer,
	digests protocol.DigestReader,
	opts ...Option,
) *Engine {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	e := &Engine{
		logger:     logger.With("module", "engine"),
		store:      store,
		catalog:    catalog,
		registry:   registry,
		streamer:   streamer,
		digests:    digests,
		tracer:     otelhelper.NoopTracer(),
		now:        time.Now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		domains:    make(map[string]string),
		handles:    make(map[string]*handle),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start creates the run and streams it in the background. The returned run
// is the pending snapshot; use Wait for the outcome.
func (e *Engine) Start(ctx context.Context, req Request) (*models.MissionRun, error) {
	def, err := e.catalog.Mission(req.MissionID)
	if err != nil {
		return nil, err
	}

	domainID := req.DomainID
	if def.Scope == models.ScopeCrossDomain {
		domainID = models.AllDomains
	}

	if domainID == "" {
		return nil, ErrDomainRequired
	}

	if err := e.checkEnabled(ctx, def.ID, domainID); err != nil {
		return nil, err
	}

	now := e.now()
	run := &models.MissionRun{
		ID:           uuid.NewString(),
		MissionID:    def.ID,
		AutomationID: req.AutomationID,
		DomainID:     domainID,
		Status:       models.RunStatusPending,
		Inputs:       req.Inputs,
		Provenance:   models.Provenance{DefinitionHash: def.Hash()},
		Diagnostics:  models.Diagnostics{Errors: []string{}},
		CreatedAt:    now,
	}

	h := newHandle(run.ID, domainID)
	if err := e.acquire(h); err != nil {
		return nil, err
	}

	if err := e.store.CreateRun(ctx, run); err != nil {
		e.release(h)

		return nil, err
	}

	logger := e.logger.With("run_id", run.ID, "mission_id", def.ID, "domain_id", domainID)
	logger.InfoContext(ctx, "Mission run created", "automation_id", req.AutomationID)

	snapshot := *run

	runCtx, cancel := context.WithCancel(e.baseCtx)
	h.setCancel(cancel)
	h.mu.Lock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer cancel()
		defer close(h.done)
		defer h.mu.Unlock()

		e.execute(runCtx, h, run, def, req, logger)
	}()

	return &snapshot, nil
}

// Run starts a run and waits until it is gated or finished.
func (e *Engine) Run(ctx context.Context, req Request) (*models.MissionRun, error) {
	run, err := e.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	return e.Wait(ctx, run.ID)
}

// Wait blocks until the run leaves its streaming phase and returns it.
func (e *Engine) Wait(ctx context.Context, runID string) (*models.MissionRun, error) {
	if h := e.handle(runID); h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return e.store.RunByID(ctx, runID)
}

// ActiveRun returns the id of the run holding domainID, if any.
func (e *Engine) ActiveRun(domainID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runID, ok := e.domains[domainID]

	return runID, ok
}

// Stop aborts in-flight streams and waits for their goroutines. Runs stopped
// this way fail as interrupted; gated runs are left for Recover.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.baseCancel()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

func (e *Engine) checkEnabled(ctx context.Context, missionID, domainID string) error {
	enablement, err := e.store.Enablement(ctx, missionID, domainID)

	switch {
	case errors.Is(err, persistence.ErrEnablementNotFound):
		return nil
	case err != nil:
		return err
	case !enablement.Enabled:
		return fmt.Errorf("%w: %s in %s", ErrMissionNotEnabled, missionID, domainID)
	}

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/missionflow/pkg/cmd"
	"github.com/dukex/missionflow/pkg/config"
	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/kb"
	"github.com/dukex/missionflow/pkg/llm"
	"github.com/dukex/missionflow/pkg/log"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/registry"
	"github.com/dukex/missionflow/pkg/scheduler"
)

// loadConfig reads the config file and applies the global flags over it.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if command.IsSet("database-url") {
		cfg.DatabaseURL = command.String("database-url")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	log.Setup(cfg.LogLevel)

	return cfg, nil
}

// runtime holds the components shared by the commands.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    persistence.Persistence
	bus      eventbus.EventBus
	catalog  *missions.Catalog
	registry *registry.Registry
	engine   *engine.Engine
	sched    *scheduler.Scheduler
}

// newRuntime opens the store and event bus. The engine and scheduler are only
// built when withEngine is set, since they need LLM credentials.
func newRuntime(ctx context.Context, cfg *config.Config, withEngine bool, opts ...engine.Option) (*runtime, error) {
	logger := log.WithModule("missionflow")

	rt := &runtime{cfg: cfg, logger: logger}

	catalog, err := missions.Load(cfg.Missions.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load missions: %w", err)
	}

	rt.catalog = catalog

	rt.store, err = cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	rt.bus, err = cmd.NewEventBus(cfg, logger)
	if err != nil {
		_ = rt.store.Close(ctx)

		return nil, err
	}

	rt.registry, err = cmd.NewRegistry(logger, cfg.Backend, rt.bus)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	var runner scheduler.MissionRunner

	if withEngine {
		streamer, err := llm.NewClient(llm.Config{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		}, logger)
		if err != nil {
			rt.Close(ctx)

			return nil, fmt.Errorf("failed to configure llm: %w", err)
		}

		options := append([]engine.Option{
			engine.WithPublisher(rt.bus),
			engine.WithStorePayloads(cfg.StorePayloads),
		}, opts...)

		rt.engine = engine.New(logger, rt.store, catalog, rt.registry, streamer, kb.NewReader(cfg.KB.Root, logger), options...)
		runner = rt.engine
	}

	rt.sched = scheduler.New(logger, rt.store, runner,
		scheduler.WithInterval(cfg.TickInterval),
		scheduler.WithFailureThreshold(cfg.FailureThreshold),
		scheduler.WithPublisher(rt.bus),
	)

	return rt, nil
}

// Close stops the engine and releases the bus and store.
func (rt *runtime) Close(ctx context.Context) {
	if rt.engine != nil {
		if err := rt.engine.Stop(ctx); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
		}
	}

	if err := rt.bus.Close(); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := rt.store.Close(ctx); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

var errUsage = errors.New("invalid usage")

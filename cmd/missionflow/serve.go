package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/otelhelper"
	"github.com/dukex/missionflow/pkg/sources/redisqueue"
	"github.com/dukex/missionflow/pkg/web"
)

const shutdownTimeout = 30 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API server, the automation scheduler and the domain event consumers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			if command.IsSet("port") {
				cfg.HTTP.Port = command.Int("port")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []engine.Option

			if cfg.OTel.Enabled {
				tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.OTel.ServiceName)
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						fmt.Fprintln(os.Stderr, "failed to shutdown tracer provider:", err)
					}
				}()

				opts = append(opts, engine.WithTracer(tracer))
			}

			rt, err := newRuntime(ctx, cfg, true, opts...)
			if err != nil {
				return err
			}

			return serve(ctx, rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	logger := rt.logger
	cleanupCtx := context.WithoutCancel(ctx)

	defer rt.Close(cleanupCtx)

	logger.InfoContext(ctx, "Initializing missionflow")

	if err := rt.engine.Recover(ctx); err != nil {
		return err
	}

	if err := rt.sched.Register(rt.bus); err != nil {
		return fmt.Errorf("failed to register event automations: %w", err)
	}

	if err := rt.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	var source *redisqueue.Source

	if rt.cfg.Redis.Enabled {
		var err error

		source, err = redisqueue.NewSource(map[string]any{
			"queue": rt.cfg.Redis.Queue,
			"connection": map[string]any{
				"addr":     rt.cfg.Redis.Addr,
				"password": rt.cfg.Redis.Password,
				"db":       rt.cfg.Redis.DB,
			},
		}, rt.bus, logger)
		if err != nil {
			return err
		}

		if err := source.Start(ctx); err != nil {
			return err
		}
	}

	if err := rt.sched.Start(ctx); err != nil {
		return err
	}

	api := web.NewAPI(logger, rt.engine, rt.sched, rt.store, rt.catalog, rt.registry, rt.bus)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Start(rt.cfg.HTTP.Port)
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.InfoContext(cleanupCtx, "Shutting down")

		stopCtx, cancel := context.WithTimeout(cleanupCtx, shutdownTimeout)
		defer cancel()

		var errs []error

		if err := api.Shutdown(stopCtx); err != nil {
			errs = append(errs, err)
		}

		if err := rt.sched.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}

		if source != nil {
			if err := source.Stop(stopCtx); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}

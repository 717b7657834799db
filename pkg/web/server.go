package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/registry"
	"github.com/dukex/missionflow/pkg/scheduler"
)

type API struct {
	logger   *slog.Logger
	handlers *APIHandlers
	app      *fiber.App
}

func NewAPI(
	log *slog.Logger,
	engine *engine.Engine,
	scheduler *scheduler.Scheduler,
	store persistence.Persistence,
	catalog *missions.Catalog,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
) *API {
	handlers := NewAPIHandlers(
		engine,
		scheduler,
		store,
		catalog,
		registry,
		publisher,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	a := &API{
		logger:   log.With("module", "api"),
		handlers: handlers,
	}
	a.app = a.routes()

	return a
}

func (a *API) App() *fiber.App {
	return a.app
}

func (a *API) routes() *fiber.App {
	h := a.handlers

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("missionflow API")
	})

	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	m := app.Group("/missions")
	m.Get("/", h.GetMissions)
	m.Get("/:id", h.GetMission)
	m.Put("/:id/domains/:domainId", h.SetEnablement)

	app.Get("/domains/:domainId/enablements", h.GetEnablements)

	r := app.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Post("/", h.StartRun)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/decision", h.DecideRun)
	r.Post("/:id/cancel", h.CancelRun)

	au := app.Group("/automations")
	au.Get("/", h.GetAutomations)
	au.Post("/", h.CreateAutomation)
	au.Get("/:id", h.GetAutomation)
	au.Put("/:id", h.UpdateAutomation)
	au.Delete("/:id", h.DeleteAutomation)
	au.Post("/:id/enable", h.EnableAutomation)
	au.Post("/:id/disable", h.DisableAutomation)
	au.Post("/:id/run", h.RunAutomation)
	au.Get("/:id/runs", h.GetAutomationRuns)

	app.Post("/events", h.EmitEvent)
	app.Get("/actions", h.GetActionTypes)

	return app
}

// Start listens on port until Shutdown is called.
func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.app.ShutdownWithContext(ctx)
}

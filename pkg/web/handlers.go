// Package web provides HTTP handlers and REST API endpoints for missions,
// runs and automations.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/eventbus"
	"github.com/dukex/missionflow/pkg/events"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/registry"
	"github.com/dukex/missionflow/pkg/scheduler"
)

const defaultListLimit = 50

type APIHandlers struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	store     persistence.Persistence
	catalog   *missions.Catalog
	registry  *registry.Registry
	publisher eventbus.EventPublisher
	validator *validator.Validate
	now       func() time.Time
}

func NewAPIHandlers(
	engine *engine.Engine,
	scheduler *scheduler.Scheduler,
	store persistence.Persistence,
	catalog *missions.Catalog,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		scheduler: scheduler,
		store:     store,
		catalog:   catalog,
		registry:  registry,
		publisher: publisher,
		validator: validator,
		now:       time.Now,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		storeCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"store":    storeCheck,
			"missions": len(h.catalog.Missions()),
		},
		"timestamp": h.now().UTC(),
	})
}

func (h *APIHandlers) GetMissions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"missions": h.catalog.Missions()})
}

func (h *APIHandlers) GetMission(c fiber.Ctx) error {
	def, err := h.catalog.Mission(c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(def)
}

// SetEnablement turns a mission on or off for one domain.
func (h *APIHandlers) SetEnablement(c fiber.Ctx) error {
	missionID := c.Params("id")
	domainID := c.Params("domainId")

	if _, err := h.catalog.Mission(missionID); err != nil {
		return handleError(c, err)
	}

	var req EnablementRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enablement := &models.MissionEnablement{
		MissionID: missionID,
		DomainID:  domainID,
		Enabled:   *req.Enabled,
		UpdatedAt: h.now().UTC(),
	}

	if err := h.store.SetEnablement(c.Context(), enablement); err != nil {
		return internalError(c, err)
	}

	return c.JSON(enablement)
}

func (h *APIHandlers) GetEnablements(c fiber.Ctx) error {
	enablements, err := h.store.Enablements(c.Context(), c.Params("domainId"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"enablements": enablements})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	filter := persistence.RunFilter{
		DomainID:     c.Query("domain_id"),
		MissionID:    c.Query("mission_id"),
		AutomationID: c.Query("automation_id"),
		Status:       models.RunStatus(c.Query("status")),
		Limit:        limit,
	}

	runs, err := h.store.Runs(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs, "limit": limit})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.store.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

// StartRun starts a mission run. Without wait the pending run is returned
// with 202 and the outcome is read later from GetRun.
func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.engine.Start(c.Context(), engine.Request{
		MissionID: req.MissionID,
		DomainID:  req.DomainID,
		Inputs:    req.Inputs,
	})
	if err != nil {
		return handleError(c, err)
	}

	if !req.Wait {
		return c.Status(fiber.StatusAccepted).JSON(run)
	}

	run, err = h.engine.Wait(c.Context(), run.ID)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) DecideRun(c fiber.Ctx) error {
	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.engine.Decide(c.Context(), c.Params("id"), *req.Approved)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	run, err := h.engine.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.store.Automations(c.Context(), c.Query("domain_id"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"automations": automations})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, err := h.store.AutomationByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	automation, err := h.bindAutomation(c, "")
	if err != nil {
		return err
	}

	if automation == nil {
		return nil
	}

	created, err := h.scheduler.Upsert(c.Context(), automation)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.store.AutomationByID(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	automation, err := h.bindAutomation(c, id)
	if err != nil {
		return err
	}

	if automation == nil {
		return nil
	}

	updated, err := h.scheduler.Upsert(c.Context(), automation)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

// bindAutomation decodes and validates the body. A nil automation with a nil
// error means a problem response was already written.
func (h *APIHandlers) bindAutomation(c fiber.Ctx, id string) (*models.Automation, error) {
	var req AutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, badRequest(c, err.Error())
	}

	if req.MissionID != "" {
		if _, err := h.catalog.Mission(req.MissionID); err != nil {
			return nil, badRequest(c, err.Error())
		}
	}

	if req.Action != nil {
		if err := h.registry.ValidateConfig(*req.Action); err != nil {
			return nil, badRequest(c, err.Error())
		}
	}

	return req.toModel(id), nil
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	if err := h.scheduler.Delete(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableAutomation(c fiber.Ctx) error {
	automation, err := h.scheduler.Enable(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) DisableAutomation(c fiber.Ctx) error {
	automation, err := h.scheduler.Disable(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(automation)
}

// RunAutomation fires the automation now and returns its recorded run.
func (h *APIHandlers) RunAutomation(c fiber.Ctx) error {
	run, err := h.scheduler.RunNow(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetAutomationRuns(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	id := c.Params("id")

	if _, err := h.store.AutomationByID(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	runs, err := h.scheduler.History(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs, "limit": limit})
}

// EmitEvent publishes a domain event; event automations pick it up from the bus.
func (h *APIHandlers) EmitEvent(c fiber.Ctx) error {
	var req DomainEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if !req.Name.Valid() {
		return badRequest(c, "unsupported event "+string(req.Name))
	}

	event := events.NewDomainEvent(req.Name, req.DomainID, req.Payload)

	if err := h.publisher.Publish(c.Context(), req.DomainID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(event)
}

func (h *APIHandlers) GetActionTypes(c fiber.Ctx) error {
	factories := h.registry.ActionFactories()
	types := make([]ActionTypeResponse, 0, len(factories))

	for _, factory := range factories {
		types = append(types, ActionTypeResponse{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(fiber.Map{"actions": types})
}

func parseLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}

	if limit <= 0 {
		return defaultListLimit, nil
	}

	return limit, nil
}

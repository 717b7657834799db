package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/missionflow/pkg/engine"
	"github.com/dukex/missionflow/pkg/missions"
	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/persistence"
	"github.com/dukex/missionflow/pkg/scheduler"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps engine, scheduler and storage errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsRunNotFound(err):
		return problem(c, fiber.StatusNotFound, "run_not_found", "mission run not found")

	case persistence.IsAutomationNotFound(err):
		return problem(c, fiber.StatusNotFound, "automation_not_found", "automation not found")

	case errors.Is(err, missions.ErrMissionNotFound):
		return problem(c, fiber.StatusNotFound, "mission_not_found", err.Error())

	case errors.Is(err, engine.ErrDomainBusy):
		return problem(c, fiber.StatusConflict, "domain_busy", err.Error())

	case errors.Is(err, scheduler.ErrAutomationBusy):
		return problem(c, fiber.StatusConflict, "automation_busy", err.Error())

	case errors.Is(err, engine.ErrRunNotGated), persistence.IsRunTerminal(err):
		return problem(c, fiber.StatusConflict, "invalid_run_state", err.Error())

	case errors.Is(err, engine.ErrRunNotRecovered):
		return problem(c, fiber.StatusConflict, "run_not_recovered", err.Error())

	case errors.Is(err, engine.ErrMissionNotEnabled):
		return problem(c, fiber.StatusConflict, "mission_not_enabled", err.Error())

	case errors.Is(err, engine.ErrDomainRequired),
		errors.Is(err, models.ErrInvalidAutomation),
		errors.Is(err, models.ErrInvalidSchedule),
		errors.Is(err, models.ErrInvalidPayload):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrEngineStopped):
		return problem(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())

	default:
		return internalError(c, err)
	}
}

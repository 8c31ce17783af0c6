package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"bazaar/internal/domain"
	applog "bazaar/internal/log"
)

const friendly = "Something went wrong. Please try again."

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidPricing):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDependencyFailure):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// fail writes err as a JSON body with the matching status. Store and other
// unexpected errors are logged and hidden behind a generic message.
func fail(c *fiber.Ctx, action string, err error) error {
	code := statusOf(err)
	body := fiber.Map{"error": err.Error()}

	switch code {
	case fiber.StatusInternalServerError:
		applog.Error(c, action, err, nil)
		body["error"] = friendly
	case fiber.StatusBadGateway:
		applog.Error(c, action, err, nil)
		body["error"] = "could not confirm a dependent change; nothing was applied"
	case fiber.StatusForbidden:
		applog.Security(c, action+".denied", map[string]any{"error": err.Error()})
	default:
		applog.Info(c, action+".rejected", map[string]any{"error": err.Error(), "status": code})
	}

	var se *domain.StockError
	if errors.As(err, &se) {
		body["shortfalls"] = se.Shortfalls
	}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		body["current"] = te.From
		body["requested"] = te.To
	}
	return c.Status(code).JSON(body)
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// ErrorHandler is the app-level fallback: log and answer without internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code >= fiber.StatusInternalServerError {
			applog.Error(c, "server.error", err, nil)
			return c.Status(fe.Code).JSON(fiber.Map{"error": friendly})
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": friendly})
}

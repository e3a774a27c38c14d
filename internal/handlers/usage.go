package handlers

import (
	"errors"

	"keygate/internal/gate"
	"keygate/internal/middleware"

	"github.com/gofiber/fiber/v3"
)

// UsageHandler serves the metered API
type UsageHandler struct {
	gate *gate.Gate
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(g *gate.Gate) *UsageHandler {
	return &UsageHandler{gate: g}
}

// Call authorizes the caller and reports one unit of usage
func (h *UsageHandler) Call(c fiber.Ctx) error {
	rec, err := h.gate.Meter(c.Context(), middleware.APIKey(c))
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrMissingCredential):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "API key required",
			})
		case errors.Is(err, gate.ErrUnauthorized):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid API key or inactive subscription",
			})
		case errors.Is(err, gate.ErrUsageReportFailed):
			middleware.Logger(c).Error("usage report failed", "error", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Usage could not be recorded, request not served",
			})
		default:
			middleware.Logger(c).Error("usage gate failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal error",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "ok",
		"usage":  rec,
	})
}

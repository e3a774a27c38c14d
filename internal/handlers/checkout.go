package handlers

import (
	"keygate/internal/billing"
	"keygate/internal/middleware"
	"keygate/internal/pickup"

	"github.com/gofiber/fiber/v3"
)

// CheckoutHandler starts Stripe Checkout and serves its redirect targets
type CheckoutHandler struct {
	processor billing.Processor
	pickup    *pickup.Store
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(processor billing.Processor, p *pickup.Store) *CheckoutHandler {
	return &CheckoutHandler{processor: processor, pickup: p}
}

// CreateSession returns the Stripe session descriptor as-is
func (h *CheckoutHandler) CreateSession(c fiber.Ctx) error {
	sess, err := h.processor.CreateCheckoutSession(c.Context())
	if err != nil {
		middleware.Logger(c).Error("failed to create Stripe checkout session", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to create checkout session",
		})
	}
	return c.JSON(sess)
}

// Success hands out the credential issued for a checkout session, once
func (h *CheckoutHandler) Success(c fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	issued, ok := h.pickup.Take(sessionID)
	if !ok {
		// The webhook may not have landed yet, or the key was already collected
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No credential waiting for this session. If you just paid, retry in a few seconds.",
		})
	}

	middleware.Logger(c).Info("credential collected", "session_id", sessionID, "customer_id", issued.CustomerID)
	return c.JSON(fiber.Map{
		"customer_id": issued.CustomerID,
		"api_key":     issued.Credential,
		"message":     "Store this key now. It will not be shown again.",
	})
}

// Cancelled is the checkout cancel landing
func (h *CheckoutHandler) Cancelled(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "cancelled",
		"message": "Checkout was cancelled. No charge was made.",
	})
}

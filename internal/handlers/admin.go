package handlers

import (
	"errors"
	"strconv"

	"keygate/internal/middleware"
	"keygate/internal/store"

	"github.com/gofiber/fiber/v3"
)

// AdminHandler exposes read-only account lookups for operators
type AdminHandler struct {
	store store.Store
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(s store.Store) *AdminHandler {
	return &AdminHandler{store: s}
}

// GetAccount returns the account for a customer ID
func (h *AdminHandler) GetAccount(c fiber.Ctx) error {
	account, err := h.store.GetAccount(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Account not found",
			})
		}
		middleware.Logger(c).Error("failed to get account", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal error",
		})
	}
	return c.JSON(account)
}

// ListUsage returns the local usage audit trail for a customer
func (h *AdminHandler) ListUsage(c fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = n
	}

	customerID := c.Params("id")
	records, err := h.store.ListUsage(c.Context(), customerID, limit)
	if err != nil {
		middleware.Logger(c).Error("failed to list usage", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal error",
		})
	}

	return c.JSON(fiber.Map{
		"customer_id": customerID,
		"count":       len(records),
		"records":     records,
	})
}

package handlers

import (
	"context"
	"time"

	"keygate/internal/store"

	"github.com/gofiber/fiber/v3"
)

// Version is overridden at build time with -ldflags
var Version = "dev"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store   store.Store
	backend string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(s store.Store, backend string) *HealthHandler {
	return &HealthHandler{
		store:   s,
		backend: backend,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Timestamp int64             `json:"timestamp"`
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/health/live", h.Liveness)
	app.Get("/health/ready", h.Readiness)
}

// Health returns the full health status
func (h *HealthHandler) Health(c fiber.Ctx) error {
	status := "healthy"
	storeStatus := h.checkStore(c.Context())
	if storeStatus != "up" {
		status = "degraded"
	}

	return c.JSON(HealthResponse{
		Status:  status,
		Version: Version,
		Services: map[string]string{
			"api":   "up",
			"store": storeStatus,
		},
		Timestamp: time.Now().Unix(),
	})
}

// Liveness returns liveness probe status
func (h *HealthHandler) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// Readiness fails while the store is unreachable
func (h *HealthHandler) Readiness(c fiber.Ctx) error {
	if storeStatus := h.checkStore(c.Context()); storeStatus != "up" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "not_ready",
			"reason":  "store_unavailable",
			"backend": h.backend,
			"store":   storeStatus,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "ready",
		"backend": h.backend,
	})
}

func (h *HealthHandler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "not_configured"
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

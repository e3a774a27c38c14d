package middleware

import (
	"strings"
	"time"

	"keygate/internal/config"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
)

// RateLimitMiddleware provides per-IP rate limiting
type RateLimitMiddleware struct {
	config *config.RateLimitConfig
}

// NewRateLimitMiddleware creates a new rate limit middleware instance
func NewRateLimitMiddleware(cfg *config.RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config: cfg,
	}
}

func passthrough(c fiber.Ctx) error {
	return c.Next()
}

// Middleware returns the general limiter. Health checks and the webhook
// endpoint have their own budgets and are skipped.
func (m *RateLimitMiddleware) Middleware() fiber.Handler {
	if !m.config.Enabled {
		return passthrough
	}

	return limiter.New(limiter.Config{
		Max:        m.config.MaxRequests,
		Expiration: m.window(),
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: rateLimitResponse,
		Next: func(c fiber.Ctx) bool {
			return isHealthEndpoint(c.Path()) || isWebhookEndpoint(c.Path())
		},
	})
}

// WebhookLimiter returns a looser limiter for Stripe deliveries. Stripe sends
// bursts from a small set of IPs, so the general limit would reject retries.
func (m *RateLimitMiddleware) WebhookLimiter() fiber.Handler {
	if !m.config.Enabled {
		return passthrough
	}

	return limiter.New(limiter.Config{
		Max:        m.config.WebhookMax,
		Expiration: m.window(),
		KeyGenerator: func(c fiber.Ctx) string {
			return "webhook:" + c.IP()
		},
		LimitReached: rateLimitResponse,
	})
}

func (m *RateLimitMiddleware) window() time.Duration {
	return time.Duration(m.config.WindowSeconds) * time.Second
}

// rateLimitResponse returns a 429 Too Many Requests response
func rateLimitResponse(c fiber.Ctx) error {
	retryAfter := c.GetRespHeader("Retry-After")
	if retryAfter == "" {
		retryAfter = "60"
	}

	c.Set("Retry-After", retryAfter)
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Too many requests",
		"retry_after": retryAfter,
	})
}

func isHealthEndpoint(path string) bool {
	return strings.HasPrefix(path, "/health")
}

func isWebhookEndpoint(path string) bool {
	return path == "/webhook"
}

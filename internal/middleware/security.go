package middleware

import (
	"github.com/gofiber/fiber/v3"
)

// SecurityHeaders sets headers for a JSON-only API. Responses can carry a
// freshly issued credential, so nothing may be cached.
func SecurityHeaders() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")

		return c.Next()
	}
}

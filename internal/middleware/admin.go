package middleware

import (
	"strings"

	"keygate/internal/adminauth"

	"github.com/gofiber/fiber/v3"
)

// AdminSubjectKey is the Locals key holding the admin token subject
const AdminSubjectKey = "admin_subject"

// AdminAuth guards admin routes with a bearer token signed by secret. With no
// secret configured every request is refused.
func AdminAuth(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Admin API disabled",
			})
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := adminauth.Parse(secret, tokenString)
		if err != nil {
			Logger(c).Warn("admin token rejected", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(AdminSubjectKey, claims.Subject)
		return c.Next()
	}
}

func bearerToken(c fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

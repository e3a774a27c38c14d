package middleware

import (
	"log/slog"
	"regexp"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header name for the request ID
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the Locals key holding the request ID
	RequestIDKey = "request_id"

	loggerKey = "request_logger"
)

// validRequestIDPattern matches UUIDs or alphanumeric+hyphen strings up to 64 chars
var validRequestIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

// RequestID tags each request with an ID and a logger carrying it. A valid
// client-supplied X-Request-ID is kept so Stripe delivery logs and ours can be
// joined; anything else is replaced with a UUID.
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" || !validRequestIDPattern.MatchString(requestID) {
			requestID = uuid.New().String()
		}

		c.Locals(RequestIDKey, requestID)
		c.Locals(loggerKey, slog.Default().With("request_id", requestID))
		c.Set(RequestIDHeader, requestID)

		return c.Next()
	}
}

// GetRequestID returns the request ID, or "" outside the middleware
func GetRequestID(c fiber.Ctx) string {
	if id, ok := c.Locals(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Logger returns the request-scoped logger, falling back to slog.Default
func Logger(c fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

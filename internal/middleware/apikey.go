package middleware

import (
	"strings"

	"keygate/internal/credential"

	"github.com/gofiber/fiber/v3"
)

const (
	// APIKeyHeader carries the credential on metered calls
	APIKeyHeader = "X-API-Key"
	// APIKeyQuery is the query parameter fallback for clients that cannot set headers
	APIKeyQuery = "apiKey"
)

// APIKey returns the presented credential. The header wins over the query
// parameter; an Authorization bearer holding a keygate key is also accepted.
func APIKey(c fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get(APIKeyHeader)); key != "" {
		return key
	}
	if key := strings.TrimSpace(c.Query(APIKeyQuery)); key != "" {
		return key
	}
	if token := bearerToken(c); strings.HasPrefix(token, credential.KeyPrefix) {
		return token
	}
	return ""
}

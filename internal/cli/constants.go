package cli

import "time"

const (
	// Defaults
	DefaultAPIEndpoint = "http://localhost:8080"
	DefaultAPITimeout  = 30 * time.Second
	DefaultAdminUser   = "keygatectl"

	// Keyring
	KeyringService = "keygate"
	AdminSecretKey = "admin-jwt-secret"

	// Environment overrides
	EnvAdminSecret   = "KEYGATE_ADMIN_SECRET"
	EnvWebhookSecret = "STRIPE_WEBHOOK_SECRET"

	// MaxPayloadFileSize bounds webhook payload files read by `webhook send`
	MaxPayloadFileSize = 1 << 20
)

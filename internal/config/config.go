package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the runtime environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all service configuration
type Config struct {
	Environment Environment
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Stripe      StripeConfig
	Admin       AdminConfig
	Pickup      PickupConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// BaseURL is the public URL Stripe Checkout redirects back to
	BaseURL string
}

// StoreConfig selects the account store backend
type StoreConfig struct {
	Backend string
	// EventRetentionDays bounds how long claimed webhook event IDs are kept
	EventRetentionDays int
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis configuration for the redis store backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// AllowUnsigned accepts webhook bodies without verification when no
	// WebhookSecret is set. Reduced trust: anyone who can reach the endpoint
	// can forge events.
	AllowUnsigned  bool
	PriceID        string
	MeterEventName string
	CallTimeout    time.Duration
}

// AdminConfig holds admin API authentication configuration
type AdminConfig struct {
	JWTSecret string
}

// PickupConfig controls the one-time credential handoff
type PickupConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool
	WindowSeconds int
	MaxRequests   int
	WebhookMax    int
}

// Load loads configuration from environment variables
func Load() *Config {
	// Default to production for security - explicit opt-in to development mode
	env := Environment(getEnv("ENV", "production"))
	if env != EnvDevelopment && env != EnvProduction && env != EnvTest {
		env = EnvProduction
	}

	port := getEnv("PORT", "8080")

	return &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         port,
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			BaseURL:      strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		},
		Store: StoreConfig{
			Backend:            strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
			EventRetentionDays: getInt("WEBHOOK_EVENT_RETENTION_DAYS", 7),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "keygate"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "keygate"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
			MaxConns: getInt("DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "keygate:"),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			AllowUnsigned:  getBool("WEBHOOK_ALLOW_UNSIGNED", false),
			PriceID:        getEnv("STRIPE_PRICE_ID", ""),
			MeterEventName: getEnv("STRIPE_METER_EVENT_NAME", "api_requests"),
			CallTimeout:    getDuration("STRIPE_CALL_TIMEOUT", 10*time.Second),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		Pickup: PickupConfig{
			TTL:           getDuration("PICKUP_TTL", time.Hour),
			SweepInterval: getDuration("PICKUP_SWEEP_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true),
			WindowSeconds: getInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   getInt("RATE_LIMIT_MAX_REQUESTS", 100),
			WebhookMax:    getInt("RATE_LIMIT_WEBHOOK_MAX", 1000),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks that all required configuration is present.
// In production, missing critical values will return an error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, "STORE_BACKEND must be one of memory, postgres, redis")
	}

	if c.Environment == EnvProduction {
		if c.Store.Backend == BackendMemory {
			errs = append(errs, "STORE_BACKEND=memory is not allowed in production")
		}
		if c.Store.Backend == BackendPostgres && c.Database.Password == "" {
			errs = append(errs, "DB_PASSWORD is required in production")
		}
		if c.Stripe.SecretKey == "" {
			errs = append(errs, "STRIPE_SECRET_KEY is required in production")
		}
		if c.Stripe.PriceID == "" {
			errs = append(errs, "STRIPE_PRICE_ID is required in production")
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, "STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.Admin.JWTSecret == "" {
			errs = append(errs, "ADMIN_JWT_SECRET is required in production")
		}
	}

	if c.Admin.JWTSecret != "" && len(c.Admin.JWTSecret) < 32 && c.Environment == EnvProduction {
		errs = append(errs, "ADMIN_JWT_SECRET must be at least 32 characters in production")
	}

	if c.Stripe.WebhookSecret != "" && c.Stripe.AllowUnsigned {
		errs = append(errs, "WEBHOOK_ALLOW_UNSIGNED has no effect when STRIPE_WEBHOOK_SECRET is set; unset one of them")
	}

	if c.Stripe.CallTimeout <= 0 {
		errs = append(errs, "STRIPE_CALL_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return nil
}

// UnsignedWebhooks reports whether webhook bodies will be trusted without a signature
func (c *Config) UnsignedWebhooks() bool {
	return c.Stripe.WebhookSecret == "" && c.Stripe.AllowUnsigned
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

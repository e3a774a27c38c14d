package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keygate/internal/billing"
	"keygate/internal/config"
	"keygate/internal/credential"
	"keygate/internal/db"
	"keygate/internal/gate"
	"keygate/internal/handlers"
	"keygate/internal/maintenance"
	"keygate/internal/middleware"
	"keygate/internal/pickup"
	"keygate/internal/reconcile"
	"keygate/internal/store"
	"keygate/internal/store/memory"
	"keygate/internal/store/redisstore"
	"keygate/internal/webhook"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// eventCleanupInterval is how often claimed webhook events past retention
// are purged
const eventCleanupInterval = time.Hour

// Server represents the HTTP server
type Server struct {
	app       *fiber.App
	config    *config.Config
	store     store.Store
	processor billing.Processor
	pickup    *pickup.Store
	verifier  *webhook.Verifier
	worker    *maintenance.Worker
}

// New creates a new server instance with the configured store backend and
// the Stripe processor
func New(cfg *config.Config) (*Server, error) {
	s, err := openStore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	processor := billing.NewStripeProcessor(billing.StripeConfig{
		SecretKey:      cfg.Stripe.SecretKey,
		PriceID:        cfg.Stripe.PriceID,
		MeterEventName: cfg.Stripe.MeterEventName,
		BaseURL:        cfg.Server.BaseURL,
		Timeout:        cfg.Stripe.CallTimeout,
	})

	return NewWithDeps(cfg, s, processor), nil
}

// NewWithDeps creates a server around an already opened store and processor
func NewWithDeps(cfg *config.Config, s store.Store, processor billing.Processor) *Server {
	fiberConfig := fiber.Config{
		AppName:      "keygate",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	}

	srv := &Server{
		app:       fiber.New(fiberConfig),
		config:    cfg,
		store:     s,
		processor: processor,
		pickup:    pickup.New(cfg.Pickup.TTL, cfg.Pickup.SweepInterval),
		verifier:  webhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.AllowUnsigned),
	}

	// Redis expires event claims itself and memory is dev-only, so only
	// postgres gets a cleaner
	var cleaner maintenance.EventCleaner
	if database, ok := s.(*db.DB); ok {
		cleaner = database
	}
	srv.worker = maintenance.NewWorker(cleaner, &maintenance.WorkerConfig{
		CleanupInterval: eventCleanupInterval,
		RetentionDays:   cfg.Store.EventRetentionDays,
	})

	if srv.verifier.Unsigned() {
		slog.Warn("webhook signature verification DISABLED - any caller can post events",
			"environment", cfg.Environment,
		)
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory store - accounts are lost on restart")
		return memory.New(), nil

	case config.BackendRedis:
		s, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, nil

	case config.BackendPostgres:
		database, err := db.New(&db.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Name:     cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return database, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())

	// Request ID must come before the logger so the ID is available
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.SecurityHeaders())

	// JSON in production for log aggregators, text for development
	if s.config.IsProduction() {
		s.app.Use(logger.New(logger.Config{
			Format: `{"time":"${time}","status":${status},"method":"${method}","path":"${path}","latency":"${latency}","ip":"${ip}","request_id":"${locals:request_id}"}` + "\n",
		}))
	} else {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} ${latency} [${locals:request_id}]\n",
		}))
	}

	rateLimiter := middleware.NewRateLimitMiddleware(&s.config.RateLimit)
	s.app.Use(rateLimiter.Middleware())
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	rateLimiter := middleware.NewRateLimitMiddleware(&s.config.RateLimit)

	generator := credential.NewGenerator(s.store, 0)
	reconciler := reconcile.New(s.store, s.processor, generator, s.pickup)

	handlers.NewHealthHandler(s.store, s.config.Store.Backend).RegisterRoutes(s.app)

	// Stripe webhook: no auth, verified via signature
	webhookHandler := handlers.NewWebhookHandler(s.verifier, s.store, reconciler)
	s.app.Post("/webhook", rateLimiter.WebhookLimiter(), webhookHandler.HandleWebhook)

	checkoutHandler := handlers.NewCheckoutHandler(s.processor, s.pickup)
	s.app.Post("/checkout", checkoutHandler.CreateSession)
	s.app.Get("/success", checkoutHandler.Success)
	s.app.Get("/error", checkoutHandler.Cancelled)

	usageHandler := handlers.NewUsageHandler(gate.New(s.store, s.processor))
	s.app.Get("/api", usageHandler.Call)

	adminHandler := handlers.NewAdminHandler(s.store)
	admin := s.app.Group("/admin", middleware.AdminAuth(s.config.Admin.JWTSecret))
	admin.Get("/customers/:id", adminHandler.GetAccount)
	admin.Get("/customers/:id/usage", adminHandler.ListUsage)

	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      "Not found",
			"message":    "The requested endpoint does not exist",
			"path":       c.Path(),
			"request_id": middleware.GetRequestID(c),
		})
	})
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the maintenance worker and then the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.worker.Start(ctx)

	addr := fmt.Sprintf(":%s", s.config.Server.Port)
	slog.Info("starting keygate server", "addr", addr, "store", s.config.Store.Backend)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")

	s.worker.Stop()

	err := s.app.ShutdownWithContext(ctx)

	// Close the store after in-flight requests finish
	s.store.Close()

	return err
}

// errorHandler handles errors globally
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	requestID := middleware.GetRequestID(c)

	slog.Error("request error", "error", err, "request_id", requestID, "status", code)

	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": requestID,
	})
}

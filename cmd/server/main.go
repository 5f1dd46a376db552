package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MauroilFuriano/dashboard/internal/catalog"
	"github.com/MauroilFuriano/dashboard/internal/config"
	"github.com/MauroilFuriano/dashboard/internal/database"
	"github.com/MauroilFuriano/dashboard/internal/handlers"
	"github.com/MauroilFuriano/dashboard/internal/logging"
	"github.com/MauroilFuriano/dashboard/internal/middleware"
	"github.com/MauroilFuriano/dashboard/internal/notify"
	"github.com/MauroilFuriano/dashboard/internal/routes"
	"github.com/MauroilFuriano/dashboard/internal/services"
	"github.com/MauroilFuriano/dashboard/internal/stripeapi"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if !cfg.HasStripeConfig() {
		slog.Warn("Stripe configuration missing, webhook endpoint will answer 503")
	}
	if cfg.TelegramBotToken == "" || cfg.AdminChatID == "" {
		slog.Warn("Telegram configuration missing, notifications will be dropped")
	}

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(db, cleanupDone)

	// Product catalog: env override or the built-in allow-list
	cat := catalog.Default()
	if len(cfg.AllowedProducts) > 0 {
		cat = catalog.FromIDs(cfg.AllowedProducts)
	}

	// Services
	stripeClient := stripeapi.New(cfg.StripeSecretKey)
	notifier := notify.NewTelegram(db, cfg.TelegramBotToken, cfg.AdminChatID)
	entitlementService := services.NewEntitlementService(db)
	paymentService := services.NewPaymentService(entitlementService, cat, stripeClient, notifier, cfg.DashboardURL)
	expiryService := services.NewExpiryService(entitlementService, notifier, cfg.DashboardURL)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db)
	webhookHandler := handlers.NewWebhookHandler(cfg, db, paymentService)
	expiryHandler := handlers.NewExpiryHandler(db, expiryService, cfg.JobToken)
	entitlementHandler := handlers.NewEntitlementHandler(db, entitlementService)

	// Daily expiry sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ExpiryCronSpec, func() {
		rec := logging.NewRecorder("expiry-scan")
		defer rec.Flush(db)
		sum, err := expiryService.Run(rec)
		if err != nil {
			slog.Error("scheduled expiry scan failed", "error", err)
			return
		}
		slog.Info("scheduled expiry scan finished", "summary", sum.String())
	}); err != nil {
		slog.Error("invalid cron spec", "spec", cfg.ExpiryCronSpec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, healthHandler, webhookHandler, expiryHandler, entitlementHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	ctx := scheduler.Stop()
	<-ctx.Done()

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

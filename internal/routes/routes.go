package routes

import (
	"time"

	"github.com/MauroilFuriano/dashboard/internal/config"
	"github.com/MauroilFuriano/dashboard/internal/handlers"
	"github.com/MauroilFuriano/dashboard/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	expiryHandler *handlers.ExpiryHandler,
	entitlementHandler *handlers.EntitlementHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Payment provider callbacks, authenticated by signature (no JWT)
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)
	api.Get("/webhooks/stripe", webhookHandler.SelfTest)

	// External scheduler entry point, guarded by X-Job-Token
	api.Post("/jobs/check-expiring", expiryHandler.Run)

	// Dashboard endpoints (JWT required)
	api.Get("/me/entitlement", middleware.JWTProtected(cfg), entitlementHandler.Me)
	api.Post("/checkout", middleware.JWTProtected(cfg), entitlementHandler.StartCheckout)
	api.Put("/me/telegram", middleware.JWTProtected(cfg), entitlementHandler.SaveTelegramContact)
}

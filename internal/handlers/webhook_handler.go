package handlers

import (
	"errors"
	"log/slog"

	"github.com/MauroilFuriano/dashboard/internal/config"
	"github.com/MauroilFuriano/dashboard/internal/dto"
	"github.com/MauroilFuriano/dashboard/internal/logging"
	"github.com/MauroilFuriano/dashboard/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

type WebhookHandler struct {
	cfg      *config.Config
	db       *gorm.DB
	payments *services.PaymentService
}

func NewWebhookHandler(cfg *config.Config, db *gorm.DB, payments *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, db: db, payments: payments}
}

// HandleStripe receives payment events. The raw body is verified against the
// signing secret before anything else; an unverifiable request touches no
// state. Every invocation leaves a debug trail in webhook_logs.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	if !h.cfg.HasStripeConfig() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing Stripe configuration",
		})
	}

	rec := logging.NewRecorder("stripe-webhook")
	defer rec.Flush(h.db)

	event, err := webhook.ConstructEventWithOptions(c.Body(), c.Get("Stripe-Signature"), h.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		rec.Logf("signature verification failed: %v", err)
		slog.Warn("webhook signature rejected", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid signature",
		})
	}
	rec.Logf("verified event %s (%s)", event.ID, event.Type)

	outcome, err := h.payments.Process(event, rec)
	if err != nil {
		if errors.Is(err, services.ErrBadPayload) {
			rec.Logf("payload rejected: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Malformed event payload",
			})
		}
		rec.Logf("processing failed: %v", err)
		slog.Error("webhook processing failed", "event_id", event.ID, "event_type", event.Type, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to process event",
		})
	}

	slog.Info("webhook processed", "event_id", event.ID, "event_type", event.Type, "outcome", outcome)
	return c.JSON(dto.WebhookResponse{Received: true, Status: string(outcome)})
}

// SelfTest confirms the endpoint is reachable and that the debug trail can be
// written, without touching any entitlement. The probe write must succeed for
// the test to pass.
func (h *WebhookHandler) SelfTest(c *fiber.Ctx) error {
	rec := logging.NewRecorder("stripe-webhook-selftest")
	rec.Logf("self test invoked from %s", c.IP())
	if err := rec.Persist(h.db); err != nil {
		slog.Error("webhook self test probe failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Probe write failed: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "Webhook endpoint reachable",
	})
}

package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/MauroilFuriano/dashboard/internal/dto"
	"github.com/MauroilFuriano/dashboard/internal/models"
	"github.com/MauroilFuriano/dashboard/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntitlementHandler is the dashboard's read side plus the two self-service
// writes: starting a checkout and registering a Telegram chat.
type EntitlementHandler struct {
	db           *gorm.DB
	entitlements *services.EntitlementService
}

func NewEntitlementHandler(db *gorm.DB, entitlements *services.EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{db: db, entitlements: entitlements}
}

// Me returns the caller's newest entitlement. Users with no record at all are
// on the free tier, reported as an expired empty entitlement.
func (h *EntitlementHandler) Me(c *fiber.Ctx) error {
	email, err := claimEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Token carries no email claim",
		})
	}

	ent, err := h.entitlements.NewestForEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(dto.EntitlementResponse{
				Status:   string(models.EntitlementExpired),
				PlanType: string(models.PlanUnknown),
			})
		}
		slog.Error("entitlement lookup failed", "email", email, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Lookup failed",
		})
	}

	return c.JSON(dto.EntitlementResponse{
		Status:    string(ent.Status),
		PlanType:  string(ent.PlanType),
		ExpiresAt: ent.ExpiresAt,
		UpdatedAt: ent.UpdatedAt,
	})
}

// StartCheckout creates the speculative pending record the payment webhook
// later promotes.
func (h *EntitlementHandler) StartCheckout(c *fiber.Ctx) error {
	email, err := claimEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Token carries no email claim",
		})
	}

	var req dto.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	plan := models.PlanType(req.PlanType)
	switch plan {
	case models.PlanMonthly, models.PlanAnnual, models.PlanLifetime:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Unknown plan type",
		})
	}

	ent, err := h.entitlements.CreatePending(email, plan, 0, "eur")
	if err != nil {
		if errors.Is(err, services.ErrAlreadyActive) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: "An active or pending subscription already exists",
			})
		}
		slog.Error("checkout start failed", "email", email, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Could not start checkout",
		})
	}

	slog.Info("checkout started", "email", email, "plan", plan, "record_id", ent.ID)
	return c.Status(fiber.StatusCreated).JSON(dto.CheckoutResponse{
		ID:              ent.ID.String(),
		Status:          string(ent.Status),
		ActivationToken: ent.ActivationToken,
	})
}

// SaveTelegramContact upserts the chat the customer wants notifications in.
func (h *EntitlementHandler) SaveTelegramContact(c *fiber.Ctx) error {
	email, err := claimEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Token carries no email claim",
		})
	}

	var req dto.TelegramContactRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.ChatID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "chat_id is required",
		})
	}

	contact := models.TelegramContact{UserEmail: email, ChatID: strings.TrimSpace(req.ChatID)}
	err = h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_email"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_id", "updated_at"}),
	}).Create(&contact).Error
	if err != nil {
		slog.Error("telegram contact save failed", "email", email, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Could not save contact",
		})
	}

	return c.JSON(fiber.Map{"saved": true})
}

var errNoEmailClaim = errors.New("no email claim")

func claimEmail(c *fiber.Ctx) (string, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return "", errNoEmailClaim
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errNoEmailClaim
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", errNoEmailClaim
	}
	return email, nil
}

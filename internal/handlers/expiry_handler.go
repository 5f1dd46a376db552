package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/MauroilFuriano/dashboard/internal/dto"
	"github.com/MauroilFuriano/dashboard/internal/logging"
	"github.com/MauroilFuriano/dashboard/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ExpiryHandler struct {
	db       *gorm.DB
	expiry   *services.ExpiryService
	jobToken string
}

func NewExpiryHandler(db *gorm.DB, expiry *services.ExpiryService, jobToken string) *ExpiryHandler {
	return &ExpiryHandler{db: db, expiry: expiry, jobToken: jobToken}
}

// Run triggers the expiry sweep on demand, for external schedulers and manual
// replays. The in-process cron calls the service directly and skips this.
func (h *ExpiryHandler) Run(c *fiber.Ctx) error {
	if h.jobToken != "" {
		provided := c.Get("X-Job-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.jobToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
	}

	rec := logging.NewRecorder("expiry-scan")
	defer rec.Flush(h.db)

	sum, err := h.expiry.Run(rec)
	if err != nil {
		rec.Logf("scan failed: %v", err)
		slog.Error("expiry scan failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Expiry scan failed",
		})
	}

	return c.JSON(dto.ExpiryRunResponse{
		Status:     "ok",
		Expired:    sum.Expired,
		Notified1d: sum.Notified1d,
		Notified7d: sum.Notified7d,
		Summary:    sum.String(),
	})
}

package logging

import (
	"log/slog"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
	"gorm.io/gorm"
)

// StartCleanup runs a daily goroutine that deletes system and webhook logs
// older than 30 days.
func StartCleanup(db *gorm.DB, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -30)
				if result := db.Where("timestamp < ?", cutoff).Delete(&models.SystemLog{}); result.Error != nil {
					slog.Error("system log cleanup failed", "error", result.Error)
				} else if result.RowsAffected > 0 {
					slog.Info("system log cleanup completed", "deleted", result.RowsAffected)
				}
				if result := db.Where("created_at < ?", cutoff).Delete(&models.WebhookLog{}); result.Error != nil {
					slog.Error("webhook log cleanup failed", "error", result.Error)
				} else if result.RowsAffected > 0 {
					slog.Info("webhook log cleanup completed", "deleted", result.RowsAffected)
				}
			case <-done:
				return
			}
		}
	}()
}

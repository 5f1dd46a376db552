package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recorder accumulates the free-text debug trail of one webhook or cron
// invocation. Flush persists it best-effort: a failed write is logged and
// never fails the request.
type Recorder struct {
	source string
	lines  []string
}

func NewRecorder(source string) *Recorder {
	return &Recorder{source: source}
}

func (r *Recorder) Logf(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	r.lines = append(r.lines, line)
}

// Persist writes the trail as one webhook_logs row and reports the outcome.
func (r *Recorder) Persist(db *gorm.DB) error {
	if len(r.lines) == 0 || db == nil {
		return nil
	}
	entry := models.WebhookLog{
		ID:     uuid.New(),
		Source: r.source,
		Logs:   strings.Join(r.lines, "\n"),
	}
	return db.Create(&entry).Error
}

// Flush is the best-effort variant for request paths where the debug trail
// must never fail the request itself.
func (r *Recorder) Flush(db *gorm.DB) {
	if err := r.Persist(db); err != nil {
		slog.Error("failed to persist debug log", "source", r.source, "error", err)
	}
}

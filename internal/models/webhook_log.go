package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookLog is the free-text debug trail of one handler invocation, kept for
// post-hoc troubleshooting. Not part of the entitlement model.
type WebhookLog struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Source    string    `gorm:"size:50;index" json:"source"`
	Logs      string    `gorm:"type:text" json:"logs"`
	CreatedAt time.Time `json:"created_at"`
}

package models

import "time"

// TelegramContact maps a customer email to the Telegram chat they registered
// from the dashboard. Customer notifications are skipped when no row exists.
type TelegramContact struct {
	UserEmail string    `gorm:"size:255;primaryKey" json:"user_email"`
	ChatID    string    `gorm:"size:64;not null" json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

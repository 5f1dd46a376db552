package models

import (
	"time"

	"github.com/google/uuid"
)

type EntitlementStatus string

const (
	EntitlementPending   EntitlementStatus = "pending"
	EntitlementCompleted EntitlementStatus = "completed"
	EntitlementExpired   EntitlementStatus = "expired"
	EntitlementFailed    EntitlementStatus = "failed"
)

type PlanType string

const (
	PlanMonthly  PlanType = "monthly"
	PlanAnnual   PlanType = "annual"
	PlanLifetime PlanType = "lifetime"
	PlanUnknown  PlanType = "unknown"
)

// Duration is the length of one billing cycle for the plan. Lifetime plans
// have no cycle; unknown plans fall back to monthly.
func (p PlanType) Duration() time.Duration {
	switch p {
	case PlanAnnual:
		return 365 * 24 * time.Hour
	case PlanLifetime:
		return 0
	default:
		return 30 * 24 * time.Hour
	}
}

// Entitlement is one purchase attempt and its lifecycle: pending at checkout
// start, completed once the payment event arrives, expired when the billing
// period ends or the subscription is cancelled. Expired is terminal: a later
// purchase creates a new row instead of resurrecting this one.
type Entitlement struct {
	ID              uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserEmail       string            `gorm:"size:255;not null;index" json:"user_email"`
	PlanType        PlanType          `gorm:"size:20;not null" json:"plan_type"`
	Status          EntitlementStatus `gorm:"size:20;not null;index" json:"status"`
	PaymentID       string            `gorm:"size:255;index" json:"payment_id"`
	SubscriptionID  string            `gorm:"size:255" json:"subscription_id"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `gorm:"size:10" json:"currency"`
	ActivationToken string            `gorm:"size:64" json:"-"`
	ExpiresAt       *time.Time        `gorm:"index" json:"expires_at"`
	Notified7d      bool              `gorm:"not null" json:"notified_7d"`
	Notified1d      bool              `gorm:"not null" json:"notified_1d"`
	NotifiedExpired bool              `gorm:"not null" json:"notified_expired"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

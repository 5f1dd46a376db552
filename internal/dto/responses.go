package dto

import "time"

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}

// WebhookResponse acknowledges a payment event. Status carries the outcome
// for events that were received but deliberately not applied.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

type ExpiryRunResponse struct {
	Status     string `json:"status"`
	Expired    int    `json:"expired"`
	Notified1d int    `json:"notified_1d"`
	Notified7d int    `json:"notified_7d"`
	Summary    string `json:"summary"`
}

type EntitlementResponse struct {
	Status    string     `json:"status"`
	PlanType  string     `json:"plan_type"`
	ExpiresAt *time.Time `json:"expires_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CheckoutRequest struct {
	PlanType string `json:"plan_type"`
}

type CheckoutResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ActivationToken string `json:"activation_token"`
}

type TelegramContactRequest struct {
	ChatID string `json:"chat_id"`
}

package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNoCompletedRecord means no completed entitlement exists for the email.
	ErrNoCompletedRecord = errors.New("no completed entitlement found")
	// ErrConcurrentUpdate means a conditional update matched zero rows: the
	// record changed between read and write. The caller surfaces a server
	// error so the provider redelivers; the idempotency check absorbs the
	// retry.
	ErrConcurrentUpdate = errors.New("entitlement changed concurrently")
	// ErrAlreadyActive means the user already has a pending or completed
	// entitlement and a new checkout must not be started.
	ErrAlreadyActive = errors.New("an active or pending entitlement already exists")
)

// EntitlementService owns all reads and writes of entitlement rows. State
// transitions use conditional updates guarded on the expected current status,
// checked via RowsAffected, so duplicate event delivery cannot double-apply.
type EntitlementService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEntitlementService(db *gorm.DB) *EntitlementService {
	return &EntitlementService{db: db, now: time.Now}
}

// HasCompletedPayment reports whether paymentID was already applied to a
// completed record. This is the idempotency probe for checkout events.
func (s *EntitlementService) HasCompletedPayment(paymentID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Entitlement{}).
		Where("payment_id = ? AND status = ?", paymentID, models.EntitlementCompleted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return count > 0, nil
}

// Activate promotes the newest pending record for email to completed. When no
// pending record exists (checkout started outside the dashboard) a completed
// record is synthesized directly.
func (s *EntitlementService) Activate(email, paymentID, subscriptionID string, plan models.PlanType, amountCents int64, currency string, expiresAt *time.Time) (*models.Entitlement, error) {
	now := s.now().UTC()

	var pending models.Entitlement
	err := s.db.
		Where("user_email = ? AND status = ?", email, models.EntitlementPending).
		Order("created_at DESC").
		First(&pending).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pending lookup: %w", err)
		}
		ent := models.Entitlement{
			ID:              uuid.New(),
			UserEmail:       email,
			PlanType:        plan,
			Status:          models.EntitlementCompleted,
			PaymentID:       paymentID,
			SubscriptionID:  subscriptionID,
			AmountCents:     amountCents,
			Currency:        currency,
			ActivationToken: fmt.Sprintf("MANUAL_%d", now.UnixMilli()),
			ExpiresAt:       expiresAt,
		}
		if err := s.db.Create(&ent).Error; err != nil {
			return nil, fmt.Errorf("synthesize completed entitlement: %w", err)
		}
		return &ent, nil
	}

	updates := map[string]interface{}{
		"status":       models.EntitlementCompleted,
		"payment_id":   paymentID,
		"plan_type":    plan,
		"amount_cents": amountCents,
		"currency":     currency,
		"updated_at":   now,
	}
	if subscriptionID != "" {
		updates["subscription_id"] = subscriptionID
	}
	if expiresAt != nil {
		updates["expires_at"] = *expiresAt
	}

	res := s.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ?", pending.ID, models.EntitlementPending).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("activate entitlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	pending.Status = models.EntitlementCompleted
	pending.PaymentID = paymentID
	pending.PlanType = plan
	pending.AmountCents = amountCents
	pending.Currency = currency
	if subscriptionID != "" {
		pending.SubscriptionID = subscriptionID
	}
	if expiresAt != nil {
		pending.ExpiresAt = expiresAt
	}
	pending.UpdatedAt = now
	return &pending, nil
}

// Renew extends the newest completed record by one plan duration, measured
// from whichever is later: the current expiry or now. Early renewal never
// shortens the remaining period. All notification flags reset for the new
// cycle.
func (s *EntitlementService) Renew(email, subscriptionID string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := s.db.
		Where("user_email = ? AND status = ?", email, models.EntitlementCompleted).
		Order("created_at DESC").
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCompletedRecord
		}
		return nil, fmt.Errorf("completed lookup: %w", err)
	}

	now := s.now().UTC()
	updates := map[string]interface{}{
		"notified_7d":      false,
		"notified_1d":      false,
		"notified_expired": false,
		"updated_at":       now,
	}

	// Lifetime records track no expiry; a stray renewal invoice must not
	// start one.
	var newExpiry *time.Time
	if ent.PlanType != models.PlanLifetime {
		base := now
		if ent.ExpiresAt != nil && ent.ExpiresAt.After(base) {
			base = *ent.ExpiresAt
		}
		e := base.Add(ent.PlanType.Duration())
		newExpiry = &e
		updates["expires_at"] = e
	}
	if subscriptionID != "" {
		updates["subscription_id"] = subscriptionID
	}

	res := s.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ?", ent.ID, models.EntitlementCompleted).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("renew entitlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	if newExpiry != nil {
		ent.ExpiresAt = newExpiry
	}
	ent.Notified7d = false
	ent.Notified1d = false
	ent.NotifiedExpired = false
	if subscriptionID != "" {
		ent.SubscriptionID = subscriptionID
	}
	ent.UpdatedAt = now
	return &ent, nil
}

// ExpireByCancellation transitions the newest completed record to expired.
// The notified_expired flag is set so the scan job doesn't re-notify.
func (s *EntitlementService) ExpireByCancellation(email string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := s.db.
		Where("user_email = ? AND status = ?", email, models.EntitlementCompleted).
		Order("created_at DESC").
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCompletedRecord
		}
		return nil, fmt.Errorf("completed lookup: %w", err)
	}

	now := s.now().UTC()
	res := s.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ?", ent.ID, models.EntitlementCompleted).
		Updates(map[string]interface{}{
			"status":           models.EntitlementExpired,
			"notified_expired": true,
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("expire entitlement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	ent.Status = models.EntitlementExpired
	ent.NotifiedExpired = true
	ent.UpdatedAt = now
	return &ent, nil
}

// ExpiringWithin returns completed records whose expiry falls inside the
// horizon (or has passed) and that still have at least one notification
// threshold left to cross.
func (s *EntitlementService) ExpiringWithin(horizon time.Duration) ([]models.Entitlement, error) {
	cutoff := s.now().UTC().Add(horizon)
	var ents []models.Entitlement
	err := s.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ? AND (notified_7d = ? OR notified_1d = ? OR notified_expired = ?)",
			models.EntitlementCompleted, cutoff, false, false, false).
		Order("expires_at ASC").
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("expiring lookup: %w", err)
	}
	return ents, nil
}

// MarkExpired flips a completed record to expired, once. Returns false when
// another writer got there first.
func (s *EntitlementService) MarkExpired(id uuid.UUID) (bool, error) {
	res := s.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ? AND notified_expired = ?", id, models.EntitlementCompleted, false).
		Updates(map[string]interface{}{
			"status":           models.EntitlementExpired,
			"notified_expired": true,
			"updated_at":       s.now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark expired: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkNotified1d and MarkNotified7d set their threshold flag exactly once.
func (s *EntitlementService) MarkNotified1d(id uuid.UUID) (bool, error) {
	return s.markFlag(id, "notified_1d")
}

func (s *EntitlementService) MarkNotified7d(id uuid.UUID) (bool, error) {
	return s.markFlag(id, "notified_7d")
}

func (s *EntitlementService) markFlag(id uuid.UUID, column string) (bool, error) {
	res := s.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ? AND "+column+" = ?", id, models.EntitlementCompleted, false).
		Updates(map[string]interface{}{
			column:       true,
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark %s: %w", column, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// NewestForEmail returns the most recent record regardless of status, for the
// dashboard's read side.
func (s *EntitlementService) NewestForEmail(email string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := s.db.
		Where("user_email = ?", email).
		Order("created_at DESC").
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("newest lookup: %w", err)
	}
	return &ent, nil
}

// CreatePending starts a speculative record at checkout time. Refused when a
// pending or completed record already exists for the user.
func (s *EntitlementService) CreatePending(email string, plan models.PlanType, amountCents int64, currency string) (*models.Entitlement, error) {
	var count int64
	err := s.db.Model(&models.Entitlement{}).
		Where("user_email = ? AND status IN ?", email,
			[]models.EntitlementStatus{models.EntitlementPending, models.EntitlementCompleted}).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("existing lookup: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyActive
	}

	token, err := activationToken()
	if err != nil {
		return nil, fmt.Errorf("activation token: %w", err)
	}
	ent := models.Entitlement{
		ID:              uuid.New(),
		UserEmail:       email,
		PlanType:        plan,
		Status:          models.EntitlementPending,
		AmountCents:     amountCents,
		Currency:        currency,
		ActivationToken: token,
	}
	if err := s.db.Create(&ent).Error; err != nil {
		return nil, fmt.Errorf("create pending entitlement: %w", err)
	}
	return &ent, nil
}

const tokenChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func activationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = tokenChars[int(b)%len(tokenChars)]
	}
	return string(buf), nil
}

package services

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/logging"
)

const scanHorizon = 7 * 24 * time.Hour

// SweepSummary counts how many records each threshold touched in one run.
type SweepSummary struct {
	Expired    int `json:"expired"`
	Notified1d int `json:"notified_1d"`
	Notified7d int `json:"notified_7d"`
}

func (s SweepSummary) String() string {
	return fmt.Sprintf("%d expired, %d expiring tomorrow, %d expiring this week",
		s.Expired, s.Notified1d, s.Notified7d)
}

// ExpiryService is the daily sweep over completed records. One pass computes
// days-until-expiry per record and crosses at most one notification threshold,
// so the 1-day and 7-day windows can't overlap. The notified flags, written
// with conditional updates, are the sole guard against duplicate notifications
// across repeated runs.
type ExpiryService struct {
	entitlements *EntitlementService
	notifier     Notifier
	dashboardURL string
	now          func() time.Time
}

func NewExpiryService(entitlements *EntitlementService, notifier Notifier, dashboardURL string) *ExpiryService {
	return &ExpiryService{
		entitlements: entitlements,
		notifier:     notifier,
		dashboardURL: dashboardURL,
		now:          time.Now,
	}
}

// Run performs the sweep. A per-record failure is logged and skipped; only a
// failure of the candidate query itself is returned.
func (s *ExpiryService) Run(rec *logging.Recorder) (SweepSummary, error) {
	now := s.now().UTC()

	candidates, err := s.entitlements.ExpiringWithin(scanHorizon)
	if err != nil {
		return SweepSummary{}, err
	}
	rec.Logf("expiry scan: %d candidate records", len(candidates))

	var sum SweepSummary
	for i := range candidates {
		ent := &candidates[i]
		daysLeft := daysUntil(now, *ent.ExpiresAt)

		switch {
		case daysLeft <= 0:
			if ent.NotifiedExpired {
				continue
			}
			changed, err := s.entitlements.MarkExpired(ent.ID)
			if err != nil {
				slog.Error("expiry transition failed", "id", ent.ID, "email", ent.UserEmail, "error", err)
				continue
			}
			if !changed {
				continue
			}
			rec.Logf("record %s expired (%s)", ent.ID, ent.UserEmail)
			s.notifier.NotifyCustomer(ent.UserEmail, expiredCustomerMessage(s.dashboardURL))
			s.notifier.NotifyAdmin(expiredAdminMessage(ent))
			sum.Expired++

		case daysLeft <= 1:
			if ent.Notified1d {
				continue
			}
			changed, err := s.entitlements.MarkNotified1d(ent.ID)
			if err != nil {
				slog.Error("1-day flag update failed", "id", ent.ID, "email", ent.UserEmail, "error", err)
				continue
			}
			if !changed {
				continue
			}
			rec.Logf("record %s expires tomorrow (%s)", ent.ID, ent.UserEmail)
			s.notifier.NotifyCustomer(ent.UserEmail, expiringCustomerMessage(1, s.dashboardURL))
			s.notifier.NotifyAdmin(expiringTomorrowAdminMessage(ent))
			sum.Notified1d++

		default:
			if ent.Notified7d {
				continue
			}
			changed, err := s.entitlements.MarkNotified7d(ent.ID)
			if err != nil {
				slog.Error("7-day flag update failed", "id", ent.ID, "email", ent.UserEmail, "error", err)
				continue
			}
			if !changed {
				continue
			}
			rec.Logf("record %s expires in %d days (%s)", ent.ID, daysLeft, ent.UserEmail)
			s.notifier.NotifyCustomer(ent.UserEmail, expiringCustomerMessage(daysLeft, s.dashboardURL))
			sum.Notified7d++
		}
	}

	rec.Logf("expiry scan done: %s", sum)
	return sum, nil
}

// daysUntil rounds up, so 12 hours out counts as 1 day and anything in the
// past is <= 0.
func daysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

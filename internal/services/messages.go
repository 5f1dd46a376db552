package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
)

// Telegram message builders. Markdown parse mode, so user-supplied values go
// into backtick code spans.

func formatAmount(cents int64, currency string) string {
	if cents == 0 {
		return "N/A"
	}
	cur := strings.ToUpper(currency)
	if cur == "" {
		cur = "EUR"
	}
	return fmt.Sprintf("%.2f %s", float64(cents)/100, cur)
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "lifetime"
	}
	return t.Format("2006-01-02")
}

func paymentReceivedMessage(email string, amountCents int64, currency, paymentID string, expiresAt *time.Time) string {
	return fmt.Sprintf(
		"💰 *Payment received!*\n\n👤 User: `%s`\n💸 Amount: *%s*\n🆔 Payment ID: `%s`\n📅 Expires: *%s*",
		email, formatAmount(amountCents, currency), paymentID, formatExpiry(expiresAt))
}

func renewalAdminMessage(email string, amountCents int64, currency string, newExpiry *time.Time) string {
	return fmt.Sprintf(
		"🔄 *Renewal paid!*\n\n👤 User: `%s`\n💸 Amount: *%s*\n📅 Extended to: *%s*\n✅ Status: active",
		email, formatAmount(amountCents, currency), formatExpiry(newExpiry))
}

func renewalCustomerMessage(newExpiry *time.Time, dashboardURL string) string {
	return fmt.Sprintf(
		"🔄 Your subscription has been renewed and now runs until *%s*.\n\nManage it anytime at %s",
		formatExpiry(newExpiry), dashboardURL)
}

func cancellationAdminMessage(email string) string {
	return fmt.Sprintf(
		"🚫 *Subscription cancelled*\n\n👤 User: `%s`\n📉 Status: *free tier*",
		email)
}

func cancellationCustomerMessage(dashboardURL string) string {
	return fmt.Sprintf(
		"🚫 Your subscription has been cancelled. Your account is now on the free tier.\n\nReactivate anytime at %s",
		dashboardURL)
}

func paymentFailedMessage(email string, attempt int64) string {
	return fmt.Sprintf(
		"⚠️ *Payment failed!*\n\n👤 User: `%s`\n🔄 Attempt: #%d\n❌ The automatic renewal hit a problem",
		email, attempt)
}

func unresolvedEmailMessage(eventType, reference string) string {
	return fmt.Sprintf(
		"⚠️ *Unresolved customer*\n\nEvent `%s` (`%s`) carried no resolvable email. Nothing was changed.",
		eventType, reference)
}

func expiredAdminMessage(ent *models.Entitlement) string {
	return fmt.Sprintf(
		"🚫 *Subscription expired*\n\n👤 %s\n📦 Plan: %s\n📉 Status: *free tier*",
		ent.UserEmail, ent.PlanType)
}

func expiredCustomerMessage(dashboardURL string) string {
	return fmt.Sprintf(
		"🚫 Your subscription has expired and your account is back on the free tier.\n\nRenew at %s to restore all features.",
		dashboardURL)
}

func expiringTomorrowAdminMessage(ent *models.Entitlement) string {
	return fmt.Sprintf(
		"⚠️ *Expires tomorrow*\n\n👤 %s\n📦 Plan: %s\n⏰ Expires within a day",
		ent.UserEmail, ent.PlanType)
}

func expiringCustomerMessage(daysLeft int, dashboardURL string) string {
	unit := "days"
	if daysLeft == 1 {
		unit = "day"
	}
	return fmt.Sprintf(
		"⏰ Your subscription expires in *%d %s*.\n\nRenew at %s to keep all features active.",
		daysLeft, unit, dashboardURL)
}

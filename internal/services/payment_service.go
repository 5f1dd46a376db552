package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MauroilFuriano/dashboard/internal/catalog"
	"github.com/MauroilFuriano/dashboard/internal/dto"
	"github.com/MauroilFuriano/dashboard/internal/logging"
	stripe "github.com/stripe/stripe-go/v82"
)

// ErrBadPayload marks an event whose payload could not be decoded. The
// handler answers with a client error so the provider doesn't retry.
var ErrBadPayload = errors.New("malformed event payload")

// Notifier is the narrow seam to the notification dispatcher. Implementations
// are fire-and-forget; these calls never fail the caller.
type Notifier interface {
	NotifyAdmin(text string)
	NotifyCustomer(email, text string)
}

// StripeDirectory resolves data the webhook payload alone doesn't carry.
type StripeDirectory interface {
	CustomerEmail(customerID string) (string, error)
	FirstProductID(sessionID string) (string, error)
}

// Outcome says what an accepted event amounted to. Anything other than
// OutcomeProcessed still answers 200: the event was received and deliberately
// not applied.
type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeIgnoredProduct Outcome = "ignored_product"
	OutcomeIgnoredEvent   Outcome = "ignored_event"
	OutcomeFirstInvoice   Outcome = "first_invoice"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeNoEmail        Outcome = "unresolved_email"
	OutcomeNoMatch        Outcome = "no_matching_record"
)

// PaymentService maps verified payment-provider events onto entitlement
// transitions. Signature verification happens in the handler before Process
// is ever called.
type PaymentService struct {
	entitlements *EntitlementService
	catalog      *catalog.Catalog
	stripe       StripeDirectory
	notifier     Notifier
	dashboardURL string
	now          func() time.Time
}

func NewPaymentService(entitlements *EntitlementService, cat *catalog.Catalog, directory StripeDirectory, notifier Notifier, dashboardURL string) *PaymentService {
	return &PaymentService{
		entitlements: entitlements,
		catalog:      cat,
		stripe:       directory,
		notifier:     notifier,
		dashboardURL: dashboardURL,
		now:          time.Now,
	}
}

// Process applies one verified event. A returned error means the transition
// could not be applied and the provider should redeliver; every transition is
// idempotent under redelivery.
func (s *PaymentService) Process(event stripe.Event, rec *logging.Recorder) (Outcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(event, rec)
	case "invoice.paid":
		return s.handleInvoicePaid(event, rec)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(event, rec)
	case "invoice.payment_failed":
		return s.handlePaymentFailed(event, rec)
	default:
		rec.Logf("ignored event type: %s", event.Type)
		return OutcomeIgnoredEvent, nil
	}
}

func (s *PaymentService) handleCheckoutCompleted(event stripe.Event, rec *logging.Recorder) (Outcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("checkout session: %w", ErrBadPayload)
	}

	productID, err := s.stripe.FirstProductID(session.ID)
	if err != nil {
		// Filter lookup failure is not fatal: the event is still applied,
		// mirroring the allow-list being a routing convenience.
		rec.Logf("line item lookup failed: %v", err)
	} else if productID != "" && !s.catalog.Allowed(productID) {
		rec.Logf("ignored product: %s", productID)
		return OutcomeIgnoredProduct, nil
	}

	email := s.resolveSessionEmail(&session, rec)
	if email == "" {
		rec.Logf("no email found in checkout session %s", session.ID)
		slog.Warn("checkout event without resolvable email", "event_id", event.ID)
		s.notifier.NotifyAdmin(unresolvedEmailMessage("checkout.session.completed", session.ID))
		return OutcomeNoEmail, nil
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	plan := s.catalog.ResolvePlan(productID, session.AmountTotal, subscriptionID != "")
	expiresAt := catalog.ExpiryFor(plan, s.now().UTC())

	done, err := s.entitlements.HasCompletedPayment(session.ID)
	if err != nil {
		return "", err
	}
	if done {
		rec.Logf("payment %s already processed, skipping", session.ID)
		return OutcomeDuplicate, nil
	}

	ent, err := s.entitlements.Activate(email, session.ID, subscriptionID, plan, session.AmountTotal, string(session.Currency), expiresAt)
	if err != nil {
		return "", err
	}
	rec.Logf("checkout completed for %s (plan %s, record %s)", email, plan, ent.ID)

	s.notifier.NotifyAdmin(paymentReceivedMessage(email, session.AmountTotal, string(session.Currency), session.ID, expiresAt))
	return OutcomeProcessed, nil
}

func (s *PaymentService) handleInvoicePaid(event stripe.Event, rec *logging.Recorder) (Outcome, error) {
	var inv dto.StripeInvoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", fmt.Errorf("invoice: %w", ErrBadPayload)
	}

	if productID := inv.FirstProductID(); productID != "" && !s.catalog.Allowed(productID) {
		rec.Logf("ignored renewal product: %s", productID)
		return OutcomeIgnoredProduct, nil
	}

	// The first invoice of a subscription is already handled by the
	// checkout-completed event.
	if inv.BillingReason == "subscription_create" {
		rec.Logf("ignored first invoice (handled by checkout)")
		return OutcomeFirstInvoice, nil
	}

	email := s.resolveInvoiceEmail(&inv, rec)
	if email == "" {
		rec.Logf("no email found on invoice")
		slog.Warn("renewal event without resolvable email", "event_id", event.ID)
		s.notifier.NotifyAdmin(unresolvedEmailMessage("invoice.paid", inv.SubscriptionID()))
		return OutcomeNoEmail, nil
	}

	ent, err := s.entitlements.Renew(email, inv.SubscriptionID())
	if err != nil {
		if errors.Is(err, ErrNoCompletedRecord) {
			rec.Logf("no active entitlement found for renewal: %s", email)
			slog.Warn("renewal without matching entitlement", "email", email)
			return OutcomeNoMatch, nil
		}
		return "", err
	}
	rec.Logf("renewal processed for %s: new expiry %s", email, formatExpiry(ent.ExpiresAt))

	s.notifier.NotifyAdmin(renewalAdminMessage(email, inv.AmountPaid, inv.Currency, ent.ExpiresAt))
	s.notifier.NotifyCustomer(email, renewalCustomerMessage(ent.ExpiresAt, s.dashboardURL))
	return OutcomeProcessed, nil
}

func (s *PaymentService) handleSubscriptionDeleted(event stripe.Event, rec *logging.Recorder) (Outcome, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("subscription: %w", ErrBadPayload)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", fmt.Errorf("subscription without customer: %w", ErrBadPayload)
	}

	email, err := s.stripe.CustomerEmail(sub.Customer.ID)
	if err != nil || email == "" {
		rec.Logf("could not resolve customer %s: %v", sub.Customer.ID, err)
		slog.Warn("cancellation event without resolvable email", "customer_id", sub.Customer.ID, "error", err)
		s.notifier.NotifyAdmin(unresolvedEmailMessage("customer.subscription.deleted", sub.ID))
		return OutcomeNoEmail, nil
	}

	ent, err := s.entitlements.ExpireByCancellation(email)
	if err != nil {
		if errors.Is(err, ErrNoCompletedRecord) {
			rec.Logf("no active entitlement to expire for: %s", email)
			return OutcomeNoMatch, nil
		}
		return "", err
	}
	rec.Logf("subscription cancelled for %s, record %s expired", email, ent.ID)

	s.notifier.NotifyAdmin(cancellationAdminMessage(email))
	s.notifier.NotifyCustomer(email, cancellationCustomerMessage(s.dashboardURL))
	return OutcomeProcessed, nil
}

// handlePaymentFailed only alerts the admin. A transient failure is not a
// cancellation: the provider retries on its own and eventually sends
// customer.subscription.deleted if it gives up.
func (s *PaymentService) handlePaymentFailed(event stripe.Event, rec *logging.Recorder) (Outcome, error) {
	var inv dto.StripeInvoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", fmt.Errorf("invoice: %w", ErrBadPayload)
	}

	email := s.resolveInvoiceEmail(&inv, rec)
	if email == "" {
		rec.Logf("payment failed but no email resolvable")
		slog.Warn("payment-failed event without resolvable email", "event_id", event.ID)
		s.notifier.NotifyAdmin(unresolvedEmailMessage("invoice.payment_failed", inv.SubscriptionID()))
		return OutcomeNoEmail, nil
	}

	rec.Logf("payment failed for %s (attempt %d)", email, inv.AttemptCount)
	s.notifier.NotifyAdmin(paymentFailedMessage(email, inv.AttemptCount))
	return OutcomeProcessed, nil
}

func (s *PaymentService) resolveSessionEmail(session *stripe.CheckoutSession, rec *logging.Recorder) string {
	if session.CustomerEmail != "" {
		return session.CustomerEmail
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	if session.Customer != nil && session.Customer.ID != "" {
		email, err := s.stripe.CustomerEmail(session.Customer.ID)
		if err != nil {
			rec.Logf("customer fetch error: %v", err)
			return ""
		}
		return email
	}
	return ""
}

func (s *PaymentService) resolveInvoiceEmail(inv *dto.StripeInvoice, rec *logging.Recorder) string {
	if inv.CustomerEmail != "" {
		return inv.CustomerEmail
	}
	if inv.Customer != "" {
		email, err := s.stripe.CustomerEmail(inv.Customer)
		if err != nil {
			rec.Logf("customer fetch error: %v", err)
			return ""
		}
		return email
	}
	return ""
}

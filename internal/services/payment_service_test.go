package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MauroilFuriano/dashboard/internal/catalog"
	"github.com/MauroilFuriano/dashboard/internal/logging"
	"github.com/MauroilFuriano/dashboard/internal/testutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	adminMessages    []string
	customerMessages map[string][]string
}

func (f *fakeNotifier) NotifyAdmin(text string) {
	f.adminMessages = append(f.adminMessages, text)
}

func (f *fakeNotifier) NotifyCustomer(email, text string) {
	if f.customerMessages == nil {
		f.customerMessages = map[string][]string{}
	}
	f.customerMessages[email] = append(f.customerMessages[email], text)
}

type fakeDirectory struct {
	productID  string
	productErr error
	email      string
	emailErr   error
}

func (f *fakeDirectory) CustomerEmail(customerID string) (string, error) {
	return f.email, f.emailErr
}

func (f *fakeDirectory) FirstProductID(sessionID string) (string, error) {
	return f.productID, f.productErr
}

const allowedProduct = "prod_TuoDbBPoQ0Lrvn"

func newPaymentService(t *testing.T, dir *fakeDirectory) (*PaymentService, *fakeNotifier, sqlmock.Sqlmock) {
	db, mock := testutils.SetupTestDB(t)
	ents := NewEntitlementService(db)
	ents.now = func() time.Time { return testNow }
	notifier := &fakeNotifier{}
	svc := NewPaymentService(ents, catalog.Default(), dir, notifier, "https://dashboard.example.com")
	svc.now = func() time.Time { return testNow }
	return svc, notifier, mock
}

func testEvent(typ, raw string) stripe.Event {
	return stripe.Event{
		ID:   "evt_test_1",
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestProcess_CheckoutCompleted(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{productID: allowedProduct})

	// Idempotency probe, then the pending lookup, then the synthesized insert.
	mock.ExpectQuery(`SELECT count\(\*\) FROM "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "entitlements"`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`INSERT INTO "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	event := testEvent("checkout.session.completed", `{
		"id": "cs_test_123",
		"customer_email": "buyer@example.com",
		"amount_total": 29900,
		"currency": "eur",
		"subscription": "sub_abc"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "buyer@example.com")
	assert.Contains(t, notifier.adminMessages[0], "299.00 EUR")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_CheckoutForeignProductIgnored(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{productID: "prod_unrelated"})

	event := testEvent("checkout.session.completed", `{
		"id": "cs_test_123",
		"customer_email": "buyer@example.com"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeIgnoredProduct, outcome)
	assert.Empty(t, notifier.adminMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_CheckoutDuplicateDelivery(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{productID: allowedProduct})

	mock.ExpectQuery(`SELECT count\(\*\) FROM "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	event := testEvent("checkout.session.completed", `{
		"id": "cs_test_123",
		"customer_email": "buyer@example.com",
		"subscription": "sub_abc"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Empty(t, notifier.adminMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_CheckoutLineItemLookupFailureIsNotFatal(t *testing.T) {
	svc, _, mock := newPaymentService(t, &fakeDirectory{productErr: assert.AnError})

	mock.ExpectQuery(`SELECT count\(\*\) FROM "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "entitlements"`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`INSERT INTO "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	event := testEvent("checkout.session.completed", `{
		"id": "cs_test_123",
		"customer_email": "buyer@example.com",
		"amount_total": 2900,
		"currency": "eur",
		"subscription": "sub_abc"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
}

func TestProcess_CheckoutWithoutEmailAlertsAdmin(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{productID: allowedProduct})

	event := testEvent("checkout.session.completed", `{"id": "cs_test_123"}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoEmail, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "checkout.session.completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_FirstInvoiceSkipped(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	event := testEvent("invoice.paid", `{
		"customer_email": "buyer@example.com",
		"billing_reason": "subscription_create",
		"amount_paid": 2900
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFirstInvoice, outcome)
	assert.Empty(t, notifier.adminMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_RenewalExtendsAndNotifies(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	currentExpiry := testNow.Add(5 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT \* FROM "entitlements" WHERE user_email = \$1 AND status = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_email", "status", "plan_type", "expires_at"}).
			AddRow(uuid.New().String(), "buyer@example.com", "completed", "monthly", currentExpiry))
	mock.ExpectExec(`UPDATE "entitlements" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := testEvent("invoice.paid", `{
		"customer_email": "buyer@example.com",
		"billing_reason": "subscription_cycle",
		"amount_paid": 2900,
		"currency": "eur",
		"parent": {"subscription_details": {"subscription": "sub_abc"}}
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "Renewal")
	require.Len(t, notifier.customerMessages["buyer@example.com"], 1)
	newExpiry := currentExpiry.Add(30 * 24 * time.Hour).Format("2006-01-02")
	assert.Contains(t, notifier.customerMessages["buyer@example.com"][0], newExpiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_RenewalWithoutRecordIsAccepted(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	mock.ExpectQuery(`SELECT \* FROM "entitlements" WHERE user_email = \$1 AND status = \$2`).
		WillReturnError(gorm.ErrRecordNotFound)

	event := testEvent("invoice.paid", `{
		"customer_email": "stranger@example.com",
		"billing_reason": "subscription_cycle"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMatch, outcome)
	assert.Empty(t, notifier.adminMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_SubscriptionDeletedExpiresRecord(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{email: "buyer@example.com"})

	mock.ExpectQuery(`SELECT \* FROM "entitlements" WHERE user_email = \$1 AND status = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_email", "status", "plan_type"}).
			AddRow(uuid.New().String(), "buyer@example.com", "completed", "monthly"))
	mock.ExpectExec(`UPDATE "entitlements" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := testEvent("customer.subscription.deleted", `{
		"id": "sub_abc",
		"customer": "cus_123"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "cancelled")
	require.Len(t, notifier.customerMessages["buyer@example.com"], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_SubscriptionDeletedUnresolvableCustomer(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{emailErr: assert.AnError})

	event := testEvent("customer.subscription.deleted", `{
		"id": "sub_abc",
		"customer": "cus_123"
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoEmail, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "customer.subscription.deleted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_PaymentFailedAlertsAdminOnly(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	event := testEvent("invoice.payment_failed", `{
		"customer_email": "buyer@example.com",
		"attempt_count": 2
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "#2")
	assert.Empty(t, notifier.customerMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_PaymentFailedWithoutEmailAlertsAdmin(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	event := testEvent("invoice.payment_failed", `{
		"attempt_count": 1,
		"parent": {"subscription_details": {"subscription": "sub_abc"}}
	}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoEmail, outcome)
	require.Len(t, notifier.adminMessages, 1)
	assert.Contains(t, notifier.adminMessages[0], "invoice.payment_failed")
	assert.Contains(t, notifier.adminMessages[0], "sub_abc")
	assert.Empty(t, notifier.customerMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_UnknownEventTypeIgnored(t *testing.T) {
	svc, notifier, mock := newPaymentService(t, &fakeDirectory{})

	event := testEvent("charge.refunded", `{}`)

	outcome, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeIgnoredEvent, outcome)
	assert.Empty(t, notifier.adminMessages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_MalformedPayload(t *testing.T) {
	svc, _, _ := newPaymentService(t, &fakeDirectory{})

	event := testEvent("customer.subscription.deleted", `{"customer": 42`)

	_, err := svc.Process(event, logging.NewRecorder("stripe-webhook"))
	assert.ErrorIs(t, err, ErrBadPayload)
}

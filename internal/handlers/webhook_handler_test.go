package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MauroilFuriano/dashboard/internal/catalog"
	"github.com/MauroilFuriano/dashboard/internal/config"
	"github.com/MauroilFuriano/dashboard/internal/services"
	"github.com/MauroilFuriano/dashboard/internal/testutils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test_secret"

type stubDirectory struct {
	productID string
	email     string
}

func (s *stubDirectory) CustomerEmail(string) (string, error) { return s.email, nil }

func (s *stubDirectory) FirstProductID(string) (string, error) { return s.productID, nil }

type stubNotifier struct {
	admin    []string
	customer []string
}

func (s *stubNotifier) NotifyAdmin(text string) { s.admin = append(s.admin, text) }

func (s *stubNotifier) NotifyCustomer(_, text string) { s.customer = append(s.customer, text) }

func newWebhookApp(t *testing.T, cfg *config.Config, dir *stubDirectory) (*fiber.App, sqlmock.Sqlmock) {
	db, mock := testutils.SetupTestDB(t)
	ents := services.NewEntitlementService(db)
	payments := services.NewPaymentService(ents, catalog.Default(), dir, &stubNotifier{}, "https://dashboard.example.com")
	h := NewWebhookHandler(cfg, db, payments)

	app := fiber.New()
	app.Post("/api/webhooks/stripe", h.HandleStripe)
	app.Get("/api/webhooks/stripe", h.SelfTest)
	return app, mock
}

func signPayload(payload string, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func stripeConfig() *config.Config {
	return &config.Config{
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: webhookSecret,
	}
}

func TestHandleStripe_MissingConfig(t *testing.T) {
	app, _ := newWebhookApp(t, &config.Config{}, &stubDirectory{})

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", strings.NewReader(`{}`))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleStripe_InvalidSignature(t *testing.T) {
	app, mock := newWebhookApp(t, stripeConfig(), &stubDirectory{})

	// The rejection itself still leaves a debug trail.
	mock.ExpectQuery(`INSERT INTO "webhook_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=12345,v1=deadbeef")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripe_VerifiedCheckoutEvent(t *testing.T) {
	app, mock := newWebhookApp(t, stripeConfig(), &stubDirectory{productID: "prod_TuoDbBPoQ0Lrvn"})

	mock.ExpectQuery(`SELECT count\(\*\) FROM "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "entitlements"`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`INSERT INTO "entitlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectQuery(`INSERT INTO "webhook_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	payload := `{
		"id": "evt_test_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_123",
			"customer_email": "buyer@example.com",
			"amount_total": 2900,
			"currency": "eur",
			"subscription": "sub_abc"
		}}
	}`

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, webhookSecret))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, true, out["received"])
	assert.Equal(t, "processed", out["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripe_UnknownEventStillAcknowledged(t *testing.T) {
	app, mock := newWebhookApp(t, stripeConfig(), &stubDirectory{})

	mock.ExpectQuery(`INSERT INTO "webhook_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	payload := `{"id": "evt_test_2", "type": "charge.refunded", "data": {"object": {}}}`

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(payload, webhookSecret))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ignored_event", out["status"])
}

func TestSelfTest(t *testing.T) {
	app, mock := newWebhookApp(t, stripeConfig(), &stubDirectory{})

	mock.ExpectQuery(`INSERT INTO "webhook_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))

	req := httptest.NewRequest("GET", "/api/webhooks/stripe", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelfTest_ReportsProbeWriteFailure(t *testing.T) {
	app, mock := newWebhookApp(t, stripeConfig(), &stubDirectory{})

	mock.ExpectQuery(`INSERT INTO "webhook_logs"`).
		WillReturnError(assert.AnError)

	req := httptest.NewRequest("GET", "/api/webhooks/stripe", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["message"], "Probe write failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

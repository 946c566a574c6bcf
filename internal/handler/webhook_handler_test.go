package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/adapter"
	"github.com/plant-hire/service-booking/internal/application"
	"github.com/plant-hire/service-booking/internal/domain/booking"
)

// stubRepo satisfies booking.Repository with fixed answers; the handler
// tests only exercise routing, auth and status mapping.
type stubRepo struct {
	swept int64
}

func (s *stubRepo) Create(ctx context.Context, b *booking.Booking) error { return nil }
func (s *stubRepo) FindByID(ctx context.Context, id int64) (*booking.Booking, error) {
	return nil, booking.ErrNotFound
}
func (s *stubRepo) FindByPaymentReference(ctx context.Context, ref string) (*booking.Booking, error) {
	return nil, booking.ErrNotFound
}
func (s *stubRepo) ConfirmIfPending(ctx context.Context, id int64, paymentRef, chargeRef *string) (bool, error) {
	return false, nil
}
func (s *stubRepo) BackfillPaymentReference(ctx context.Context, id int64, ref string) error {
	return nil
}
func (s *stubRepo) CancelIfPending(ctx context.Context, id int64) (bool, error) { return false, nil }
func (s *stubRepo) SweepExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	return s.swept, nil
}
func (s *stubRepo) ApplyRefundSnapshot(ctx context.Context, id int64, snap booking.RefundSnapshot) error {
	return nil
}
func (s *stubRepo) RecordDispute(ctx context.Context, id int64, d booking.Dispute) error { return nil }
func (s *stubRepo) UpsertAuthorization(ctx context.Context, bookingID int64, paymentRef string, amountCents int64) error {
	return nil
}

type stubLedger struct{}

func (stubLedger) RecordIfNew(ctx context.Context, eventID, eventType string, bookingID *int64) (bool, error) {
	return true, nil
}

func (stubLedger) Processed(ctx context.Context, eventID string) (bool, error) { return false, nil }

func (stubLedger) MarkProcessed(ctx context.Context, eventID string) error { return nil }

const (
	testWebhookSecret = "whsec_test"
	testCronSecret    = "cron_test"
)

func newTestRouter(t *testing.T, repo *stubRepo) *gin.Engine {
	return newTestRouterWithCronSecret(t, repo, testCronSecret)
}

func newTestRouterWithCronSecret(t *testing.T, repo *stubRepo, cronSecret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	webhooks := application.NewWebhookService(repo, stubLedger{}, adapter.NewMockStripeAdapter(log), nil, log)
	bookings := application.NewBookingService(repo, 15*time.Minute, log)

	r := gin.New()
	NewWebhookHandler(webhooks, bookings, testWebhookSecret, cronSecret, log).RegisterRoutes(r)
	return r
}

func postWebhook(r *gin.Engine, payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	r := newTestRouter(t, &stubRepo{})
	w := postWebhook(r, []byte(`{"id":"evt_1","type":"checkout.session.completed"}`), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r := newTestRouter(t, &stubRepo{})
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	sig := adapter.SignPayload(payload, "whsec_other", time.Now())
	w := postWebhook(r, payload, sig)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsMissingEventFields(t *testing.T) {
	r := newTestRouter(t, &stubRepo{})
	payload := []byte(`{"type":"checkout.session.completed"}`)
	sig := adapter.SignPayload(payload, testWebhookSecret, time.Now())
	w := postWebhook(r, payload, sig)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookAcknowledgesVerifiedEvent(t *testing.T) {
	r := newTestRouter(t, &stubRepo{})
	payload := []byte(`{"id":"evt_1","type":"invoice.created","data":{"object":{}}}`)
	sig := adapter.SignPayload(payload, testWebhookSecret, time.Now())
	w := postWebhook(r, payload, sig)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "received")
}

func TestExpireHoldsRequiresCronSecret(t *testing.T) {
	r := newTestRouter(t, &stubRepo{swept: 3})

	req := httptest.NewRequest(http.MethodGet, "/internal/cron/expire-holds", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/cron/expire-holds", nil)
	req.Header.Set("X-Cron-Secret", testCronSecret)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":3`)
}

func TestExpireHoldsOpenWhenCronSecretUnset(t *testing.T) {
	r := newTestRouterWithCronSecret(t, &stubRepo{swept: 2}, "")

	req := httptest.NewRequest(http.MethodGet, "/internal/cron/expire-holds", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":2`)
}

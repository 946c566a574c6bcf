package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/adapter"
	"github.com/plant-hire/service-booking/internal/application"
	"github.com/plant-hire/service-booking/pkg/response"
)

const signatureTolerance = 5 * time.Minute

// WebhookHandler receives provider webhook deliveries and the scheduler's
// hold-expiry trigger.
type WebhookHandler struct {
	webhooks      *application.WebhookService
	bookings      *application.BookingService
	webhookSecret string
	cronSecret    string
	logger        *zap.Logger
}

func NewWebhookHandler(webhooks *application.WebhookService, bookings *application.BookingService, webhookSecret, cronSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks:      webhooks,
		bookings:      bookings,
		webhookSecret: webhookSecret,
		cronSecret:    cronSecret,
		logger:        logger,
	}
}

// RegisterRoutes mounts the webhook and internal endpoints.
func (h *WebhookHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/stripe", h.HandleStripeWebhook)
	r.GET("/internal/cron/expire-holds", h.ExpireHolds)
}

// HandleStripeWebhook verifies the delivery signature, decodes the event
// envelope and hands it to the transition router. A 2xx acknowledges the
// delivery; a 5xx tells the provider to redeliver.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "unreadable request body")
		return
	}

	sig := c.GetHeader("Stripe-Signature")
	if err := adapter.VerifyWebhookSignature(payload, sig, h.webhookSecret, signatureTolerance); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		response.Unauthorized(c, "invalid signature")
		return
	}

	var ev adapter.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		response.BadRequest(c, "malformed event payload")
		return
	}
	if ev.ID == "" || ev.Type == "" {
		response.BadRequest(c, "event id and type are required")
		return
	}

	if err := h.webhooks.Handle(c.Request.Context(), &ev); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		response.Internal(c)
		return
	}
	response.Success(c, gin.H{"received": true})
}

// ExpireHolds releases every lapsed PENDING hold. The external scheduler
// calls this on a fixed cadence, authenticated by a shared secret header
// when one is configured.
func (h *WebhookHandler) ExpireHolds(c *gin.Context) {
	if h.cronSecret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Cron-Secret")), []byte(h.cronSecret)) != 1 {
		response.Unauthorized(c, "invalid cron secret")
		return
	}

	cancelled, err := h.bookings.SweepExpiredHolds(c.Request.Context())
	if err != nil {
		h.logger.Error("hold sweep failed", zap.Error(err))
		response.Internal(c)
		return
	}
	response.Success(c, gin.H{"ok": true, "cancelled": cancelled})
}

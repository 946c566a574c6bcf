package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/adapter"
	"github.com/plant-hire/service-booking/internal/domain/booking"
	"github.com/plant-hire/service-booking/internal/observability"
)

// Provider event types the router dispatches on. Anything else is
// acknowledged and dropped without touching the ledger.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutSessionExpired        = "checkout.session.expired"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventPaymentIntentFailed           = "payment_intent.payment_failed"
	EventChargeRefunded                = "charge.refunded"
	EventChargeRefundUpdated           = "charge.refund.updated"
	EventDisputeCreated                = "charge.dispute.created"
	EventDisputeFundsWithdrawn         = "charge.dispute.funds_withdrawn"
	EventDisputeFundsReinstated        = "charge.dispute.funds_reinstated"
	EventDisputeClosed                 = "charge.dispute.closed"
)

// Notifier dispatches customer-facing messages after a booking reaches
// CONFIRMED. Delivery is best effort; failures never roll back state.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, bookingID int64, recipient string) error
}

// WebhookService turns provider webhook events into booking transitions.
// Every handler follows the same shape: extract facts, do any provider
// reads, claim the event in the ledger, apply at most one guarded update,
// then stamp the claim processed. A claim whose stamp never landed is
// reprocessed on redelivery.
type WebhookService struct {
	bookings booking.Repository
	ledger   booking.EventLedger
	stripe   adapter.StripeAdapter
	notifier Notifier
	logger   *zap.Logger
}

func NewWebhookService(bookings booking.Repository, ledger booking.EventLedger, stripe adapter.StripeAdapter, notifier Notifier, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		bookings: bookings,
		ledger:   ledger,
		stripe:   stripe,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle routes a verified provider event to its transition handler. A nil
// return acknowledges the delivery; a non-nil return tells the caller to
// answer non-2xx so the provider redelivers.
func (s *WebhookService) Handle(ctx context.Context, ev *adapter.Event) error {
	switch ev.Type {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSucceeded:
		return s.handleSessionCompleted(ctx, ev)
	case EventCheckoutSessionExpired:
		return s.handleSessionExpired(ctx, ev)
	case EventCheckoutAsyncPaymentFailed:
		return s.handleAsyncPaymentFailed(ctx, ev)
	case EventPaymentIntentSucceeded:
		return s.handleIntentSucceeded(ctx, ev)
	case EventPaymentIntentFailed:
		return s.handleIntentFailed(ctx, ev)
	case EventChargeRefunded, EventChargeRefundUpdated:
		return s.handleChargeRefunded(ctx, ev)
	case EventDisputeCreated, EventDisputeFundsWithdrawn, EventDisputeFundsReinstated, EventDisputeClosed:
		return s.handleDispute(ctx, ev)
	default:
		s.logger.Debug("webhook event type not handled",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type))
		observability.WebhookEventsTotal.WithLabelValues(ev.Type, "ignored").Inc()
		return nil
	}
}

func (s *WebhookService) handleSessionCompleted(ctx context.Context, ev *adapter.Event) error {
	var session adapter.CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	facts := SessionFacts(&session)
	if facts.BookingID == nil {
		return s.ackUnresolved(ctx, ev)
	}

	payRef, chargeRef := s.resolveSessionReferences(ctx, ev, &session, facts.PaymentReference)

	process, err := s.claim(ctx, ev, facts.BookingID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", *facts.BookingID))
		return nil
	}

	if !facts.Flow.Promotable() {
		if err := s.recordAuthorization(ctx, ev, *facts.BookingID, payRef, facts.Amount); err != nil {
			return err
		}
		return s.markProcessed(ctx, ev)
	}
	if err := s.confirm(ctx, ev, *facts.BookingID, payRef, chargeRef); err != nil {
		return err
	}
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleSessionExpired(ctx context.Context, ev *adapter.Event) error {
	var session adapter.CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	facts := SessionFacts(&session)
	if facts.BookingID == nil {
		return s.ackUnresolved(ctx, ev)
	}

	process, err := s.claim(ctx, ev, facts.BookingID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", *facts.BookingID))
		return nil
	}

	if err := s.cancel(ctx, ev, *facts.BookingID); err != nil {
		return err
	}
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleAsyncPaymentFailed(ctx context.Context, ev *adapter.Event) error {
	var session adapter.CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	facts := SessionFacts(&session)
	if facts.BookingID == nil {
		return s.ackUnresolved(ctx, ev)
	}

	process, err := s.claim(ctx, ev, facts.BookingID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", *facts.BookingID))
		return nil
	}

	// Manual-capture flows settle the balance out of band, so a failed
	// async payment there must not release the machine.
	if !facts.Flow.Promotable() {
		s.logOutcome(ev, "ignored_flow",
			zap.Int64("booking_id", *facts.BookingID),
			zap.String("flow", string(facts.Flow)))
		return s.markProcessed(ctx, ev)
	}
	if err := s.cancel(ctx, ev, *facts.BookingID); err != nil {
		return err
	}
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleIntentSucceeded(ctx context.Context, ev *adapter.Event) error {
	var intent adapter.PaymentIntent
	if err := json.Unmarshal(ev.Data.Object, &intent); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	facts := IntentFacts(&intent)
	if facts.BookingID == nil {
		return s.ackUnresolved(ctx, ev)
	}

	process, err := s.claim(ctx, ev, facts.BookingID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", *facts.BookingID))
		return nil
	}

	if !facts.Flow.Promotable() {
		s.logOutcome(ev, "authorize_noop",
			zap.Int64("booking_id", *facts.BookingID),
			zap.String("flow", string(facts.Flow)))
		return s.markProcessed(ctx, ev)
	}

	var chargeRef *string
	if intent.LatestCharge != "" {
		charge := intent.LatestCharge
		chargeRef = &charge
	}
	if err := s.confirm(ctx, ev, *facts.BookingID, facts.PaymentReference, chargeRef); err != nil {
		return err
	}
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleIntentFailed(ctx context.Context, ev *adapter.Event) error {
	var intent adapter.PaymentIntent
	if err := json.Unmarshal(ev.Data.Object, &intent); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	facts := IntentFacts(&intent)
	if facts.BookingID == nil {
		return s.ackUnresolved(ctx, ev)
	}

	process, err := s.claim(ctx, ev, facts.BookingID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", *facts.BookingID))
		return nil
	}

	if err := s.cancel(ctx, ev, *facts.BookingID); err != nil {
		return err
	}
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleChargeRefunded(ctx context.Context, ev *adapter.Event) error {
	var charge adapter.Charge
	if err := json.Unmarshal(ev.Data.Object, &charge); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	b, err := s.resolveByReference(ctx, charge.PaymentIntent, charge.ID)
	if err != nil {
		return err
	}
	if b == nil {
		return s.ackUnresolved(ctx, ev)
	}

	// Fetch the live charge before claiming the event: webhook payloads
	// can arrive out of order, so the authoritative totals always come
	// from the provider at processing time. A fetch failure leaves the
	// event unclaimed for redelivery.
	live, err := s.stripe.GetCharge(ctx, charge.ID)
	if err != nil {
		return fmt.Errorf("fetch charge %s: %w", charge.ID, err)
	}

	process, err := s.claim(ctx, ev, &b.ID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", b.ID))
		return nil
	}

	refundIDs := make([]string, 0, len(live.Refunds.Data))
	for _, r := range live.Refunds.Data {
		refundIDs = append(refundIDs, r.ID)
	}
	ids := booking.NewRefundIDs(refundIDs...)
	snapshot := booking.RefundSnapshot{
		RefundedAmount:  live.AmountRefunded,
		Status:          booking.DeriveRefundStatus(live.AmountRefunded, live.Amount),
		RefundIDs:       ids,
		ChargeReference: live.ID,
	}
	if err := s.bookings.ApplyRefundSnapshot(ctx, b.ID, snapshot); err != nil {
		return fmt.Errorf("apply refund snapshot for booking %d: %w", b.ID, err)
	}

	s.logOutcome(ev, "refund_applied",
		zap.Int64("booking_id", b.ID),
		zap.Int64("refunded_amount", snapshot.RefundedAmount),
		zap.String("refund_status", string(snapshot.Status)))
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) handleDispute(ctx context.Context, ev *adapter.Event) error {
	var dispute adapter.Dispute
	if err := json.Unmarshal(ev.Data.Object, &dispute); err != nil {
		return s.ackMalformed(ctx, ev, err)
	}

	b, err := s.resolveByReference(ctx, dispute.PaymentIntent, dispute.Charge)
	if err != nil {
		return err
	}
	if b == nil {
		return s.ackUnresolved(ctx, ev)
	}

	process, err := s.claim(ctx, ev, &b.ID)
	if err != nil {
		return err
	}
	if !process {
		s.logOutcome(ev, "duplicate", zap.Int64("booking_id", b.ID))
		return nil
	}

	record := booking.Dispute{
		ID:     dispute.ID,
		Status: disputeStatusForEvent(ev.Type),
		Reason: dispute.Reason,
	}
	if err := s.bookings.RecordDispute(ctx, b.ID, record); err != nil {
		return fmt.Errorf("record dispute for booking %d: %w", b.ID, err)
	}

	s.logOutcome(ev, "dispute_recorded",
		zap.Int64("booking_id", b.ID),
		zap.String("dispute_id", dispute.ID),
		zap.String("dispute_status", record.Status))
	return s.markProcessed(ctx, ev)
}

// claim reports whether this delivery should be processed: a brand-new
// event id, or a redelivery of a claim whose processing never completed.
func (s *WebhookService) claim(ctx context.Context, ev *adapter.Event, bookingID *int64) (bool, error) {
	fresh, err := s.ledger.RecordIfNew(ctx, ev.ID, ev.Type, bookingID)
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	if fresh {
		return true, nil
	}
	done, err := s.ledger.Processed(ctx, ev.ID)
	if err != nil {
		return false, fmt.Errorf("load event %s: %w", ev.ID, err)
	}
	return !done, nil
}

func (s *WebhookService) markProcessed(ctx context.Context, ev *adapter.Event) error {
	if err := s.ledger.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("mark event %s processed: %w", ev.ID, err)
	}
	return nil
}

// confirm promotes a pending booking and reconciles the terminal cases. A
// promotion fires the confirmation notification exactly once because only
// the winning update observes rows affected.
func (s *WebhookService) confirm(ctx context.Context, ev *adapter.Event, bookingID int64, payRef, chargeRef *string) error {
	promoted, err := s.bookings.ConfirmIfPending(ctx, bookingID, payRef, chargeRef)
	if err != nil {
		return fmt.Errorf("confirm booking %d: %w", bookingID, err)
	}
	if promoted {
		if payRef == nil {
			s.logger.Error("booking confirmed without payment reference",
				zap.Int64("booking_id", bookingID),
				zap.String("event_id", ev.ID))
		}
		s.logOutcome(ev, "confirmed", zap.Int64("booking_id", bookingID))
		s.notify(ctx, bookingID)
		return nil
	}

	current, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			s.logOutcome(ev, "unknown_booking", zap.Int64("booking_id", bookingID))
			return nil
		}
		return fmt.Errorf("load booking %d: %w", bookingID, err)
	}

	switch current.Status {
	case booking.StatusConfirmed:
		if current.PaymentReference == nil && payRef != nil {
			if err := s.bookings.BackfillPaymentReference(ctx, bookingID, *payRef); err != nil {
				return fmt.Errorf("backfill payment reference for booking %d: %w", bookingID, err)
			}
		}
		s.logOutcome(ev, "already_confirmed", zap.Int64("booking_id", bookingID))
	case booking.StatusCancelled:
		// Money moved for a booking the sweeper already released. The
		// row stays CANCELLED; operators reconcile the refund manually.
		s.logOutcome(ev, "payment_after_cancel", zap.Int64("booking_id", bookingID))
	default:
		s.logOutcome(ev, "not_promoted",
			zap.Int64("booking_id", bookingID),
			zap.String("status", string(current.Status)))
	}
	return nil
}

func (s *WebhookService) cancel(ctx context.Context, ev *adapter.Event, bookingID int64) error {
	cancelled, err := s.bookings.CancelIfPending(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("cancel booking %d: %w", bookingID, err)
	}
	if cancelled {
		s.logOutcome(ev, "cancelled", zap.Int64("booking_id", bookingID))
	} else {
		s.logOutcome(ev, "not_pending", zap.Int64("booking_id", bookingID))
	}
	return nil
}

func (s *WebhookService) recordAuthorization(ctx context.Context, ev *adapter.Event, bookingID int64, payRef *string, amount *int64) error {
	if payRef == nil {
		s.logOutcome(ev, "authorize_unresolved", zap.Int64("booking_id", bookingID))
		return nil
	}
	var capturable int64
	if amount != nil {
		capturable = *amount
	}
	if err := s.bookings.UpsertAuthorization(ctx, bookingID, *payRef, capturable); err != nil {
		return fmt.Errorf("record authorization for booking %d: %w", bookingID, err)
	}
	s.logOutcome(ev, "authorized",
		zap.Int64("booking_id", bookingID),
		zap.Int64("capturable_amount", capturable))
	return nil
}

// resolveSessionReferences returns the payment and charge references for a
// completed session, re-fetching the session with the intent expanded when
// the webhook payload carried only a bare intent id or none at all.
func (s *WebhookService) resolveSessionReferences(ctx context.Context, ev *adapter.Event, session *adapter.CheckoutSession, payRef *string) (*string, *string) {
	var chargeRef *string
	if session.PaymentIntent.Intent != nil && session.PaymentIntent.Intent.LatestCharge != "" {
		charge := session.PaymentIntent.Intent.LatestCharge
		chargeRef = &charge
	}
	if payRef != nil && chargeRef != nil {
		return payRef, chargeRef
	}

	full, err := s.stripe.GetCheckoutSession(ctx, session.ID)
	if err != nil {
		if payRef == nil {
			s.logger.Error("payment reference unrecoverable for session",
				zap.String("event_id", ev.ID),
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
		return payRef, chargeRef
	}
	if payRef == nil && full.PaymentIntent.ID != "" {
		ref := full.PaymentIntent.ID
		payRef = &ref
	}
	if chargeRef == nil && full.PaymentIntent.Intent != nil && full.PaymentIntent.Intent.LatestCharge != "" {
		charge := full.PaymentIntent.Intent.LatestCharge
		chargeRef = &charge
	}
	return payRef, chargeRef
}

// resolveByReference finds the booking a charge-level event belongs to,
// trying each provider reference in order. A nil booking with a nil error
// means no reference matched.
func (s *WebhookService) resolveByReference(ctx context.Context, refs ...string) (*booking.Booking, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		b, err := s.bookings.FindByPaymentReference(ctx, ref)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, booking.ErrNotFound) {
			return nil, fmt.Errorf("find booking by reference %s: %w", ref, err)
		}
	}
	return nil, nil
}

// ackUnresolved records an event whose booking cannot be determined and
// acknowledges it so the provider stops redelivering.
func (s *WebhookService) ackUnresolved(ctx context.Context, ev *adapter.Event) error {
	if _, err := s.ledger.RecordIfNew(ctx, ev.ID, ev.Type, nil); err != nil {
		return fmt.Errorf("record unresolved event %s: %w", ev.ID, err)
	}
	s.logOutcome(ev, "unresolved")
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) ackMalformed(ctx context.Context, ev *adapter.Event, cause error) error {
	if _, err := s.ledger.RecordIfNew(ctx, ev.ID, ev.Type, nil); err != nil {
		return fmt.Errorf("record malformed event %s: %w", ev.ID, err)
	}
	s.logger.Warn("webhook payload did not decode",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.Error(cause))
	observability.WebhookEventsTotal.WithLabelValues(ev.Type, "malformed").Inc()
	return s.markProcessed(ctx, ev)
}

func (s *WebhookService) notify(ctx context.Context, bookingID int64) {
	if s.notifier == nil {
		return
	}
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		observability.NotificationFailuresTotal.Inc()
		s.logger.Error("confirmation notification skipped",
			zap.Int64("booking_id", bookingID), zap.Error(err))
		return
	}
	if err := s.notifier.NotifyBookingConfirmed(ctx, bookingID, b.CustomerEmail); err != nil {
		observability.NotificationFailuresTotal.Inc()
		s.logger.Error("confirmation notification failed",
			zap.Int64("booking_id", bookingID), zap.Error(err))
	}
}

func (s *WebhookService) logOutcome(ev *adapter.Event, outcome string, fields ...zap.Field) {
	observability.WebhookEventsTotal.WithLabelValues(ev.Type, outcome).Inc()
	fields = append(fields, zap.String("event_id", ev.ID))
	s.logger.Info(ev.Type+":"+outcome, fields...)
}

func disputeStatusForEvent(eventType string) string {
	switch eventType {
	case EventDisputeFundsWithdrawn:
		return booking.DisputeFundsWithdrawn
	case EventDisputeFundsReinstated:
		return booking.DisputeFundsReinstated
	case EventDisputeClosed:
		return booking.DisputeClosed
	default:
		return booking.DisputeOpen
	}
}

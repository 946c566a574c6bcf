package booking

import (
	"context"
	"time"
)

// Repository defines the persistence contract for Booking aggregates.
//
// Every mutation is a conditional update scoped by the row's current status,
// so concurrent deliveries and sweeper ticks racing on the same booking
// resolve through the database's own atomicity: whichever write commits first
// wins, the loser's precondition no longer holds and it affects zero rows.
type Repository interface {
	// Create persists a new PENDING booking with its hold window.
	Create(ctx context.Context, b *Booking) error

	// FindByID retrieves a booking by its id.
	FindByID(ctx context.Context, id int64) (*Booking, error)

	// FindByPaymentReference retrieves the booking whose payment or charge
	// reference matches ref.
	FindByPaymentReference(ctx context.Context, ref string) (*Booking, error)

	// ConfirmIfPending promotes a PENDING booking to CONFIRMED, sets paid,
	// clears the hold window and records the payment and charge references
	// (first write wins; a nil incoming reference keeps the stored one).
	// Returns false when the booking was not PENDING.
	ConfirmIfPending(ctx context.Context, id int64, paymentRef, chargeRef *string) (bool, error)

	// BackfillPaymentReference sets the payment reference only if the stored
	// value is currently null.
	BackfillPaymentReference(ctx context.Context, id int64, ref string) error

	// CancelIfPending moves a PENDING booking to CANCELLED and clears the
	// hold window. Returns false when the booking was not PENDING.
	CancelIfPending(ctx context.Context, id int64) (bool, error)

	// SweepExpiredHolds cancels every PENDING booking whose hold window has
	// lapsed, as a single bulk conditional update, and returns the number of
	// rows cancelled.
	SweepExpiredHolds(ctx context.Context, now time.Time) (int64, error)

	// ApplyRefundSnapshot replaces the refund sub-state with the given live
	// charge snapshot, unioning refund ids with the stored set.
	ApplyRefundSnapshot(ctx context.Context, id int64, snap RefundSnapshot) error

	// RecordDispute writes the dispute sub-state. Never touches status.
	RecordDispute(ctx context.Context, id int64, d Dispute) error

	// UpsertAuthorization merges a balance-authorization record for the
	// booking: payment reference and capturable amount, keyed by booking id.
	UpsertAuthorization(ctx context.Context, bookingID int64, paymentRef string, amountCents int64) error
}

// EventLedger is the two-phase record of provider event ids. An event is
// claimed with a unique-keyed insert and marked processed only after its
// transition commits, so a delivery that fails mid-flight leaves an
// unprocessed claim behind and the provider's redelivery picks it up.
type EventLedger interface {
	// RecordIfNew attempts a unique-keyed insert for the event id and reports
	// whether the insert succeeded. A false return means the id was already
	// claimed; there is no read-then-write window.
	RecordIfNew(ctx context.Context, eventID, eventType string, bookingID *int64) (bool, error)

	// Processed reports whether the event's processing has completed. An
	// unknown event id reads as unprocessed.
	Processed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed stamps the event as fully processed. Until this commits,
	// a redelivery of the event id is reprocessed rather than dropped.
	MarkProcessed(ctx context.Context, eventID string) error
}

package booking

import (
	"time"
)

// Status represents the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// RefundStatus classifies how much of a confirmed booking's charge has been
// refunded.
type RefundStatus string

const (
	RefundNone    RefundStatus = "NONE"
	RefundPartial RefundStatus = "PARTIAL"
	RefundFull    RefundStatus = "FULL"
)

// Dispute statuses mirror the provider's dispute lifecycle. Dispute state
// never feeds back into the booking status.
const (
	DisputeOpen            = "OPEN"
	DisputeFundsWithdrawn  = "FUNDS_WITHDRAWN"
	DisputeFundsReinstated = "FUNDS_REINSTATED"
	DisputeClosed          = "CLOSED"
)

// Booking is the aggregate root for a machinery rental reservation.
//
// A booking is created PENDING with a hold window and is mutated only through
// the repository's conditional-update primitives; the struct itself is a read
// model and is never mutated in memory and written back.
type Booking struct {
	ID               int64
	Status           Status
	HoldExpiresAt    *time.Time
	PaymentReference *string
	ChargeReference  *string
	Paid             bool

	RefundedAmount int64
	RefundStatus   RefundStatus
	RefundIDs      RefundIDs

	DisputeID     *string
	DisputeStatus *string
	DisputeReason *string

	MachineID     int64
	StartDate     time.Time
	EndDate       time.Time
	AmountCents   int64
	Currency      string
	CustomerEmail string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HoldExpired reports whether the booking is a PENDING hold whose window has
// lapsed at the given instant.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status == StatusPending && b.HoldExpiresAt != nil && !b.HoldExpiresAt.After(now)
}

// DeriveRefundStatus classifies a cumulative refunded amount against the
// original charge amount.
func DeriveRefundStatus(refunded, chargeAmount int64) RefundStatus {
	switch {
	case refunded <= 0:
		return RefundNone
	case chargeAmount > 0 && refunded >= chargeAmount:
		return RefundFull
	default:
		return RefundPartial
	}
}

// RefundSnapshot is the read-replace refund state derived from the provider's
// live charge object. Applying the same snapshot twice yields the same row.
type RefundSnapshot struct {
	RefundedAmount  int64
	Status          RefundStatus
	RefundIDs       RefundIDs
	ChargeReference string
}

// Dispute is the dispute sub-state carried by a booking.
type Dispute struct {
	ID     string
	Status string
	Reason string
}

package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/domain/booking"
	"github.com/plant-hire/service-booking/internal/observability"
)

// CreateBookingRequest is the payload for opening a new hold on a machine.
type CreateBookingRequest struct {
	MachineID     int64     `json:"machine_id" binding:"required"`
	StartDate     time.Time `json:"start_date" binding:"required"`
	EndDate       time.Time `json:"end_date" binding:"required"`
	AmountCents   int64     `json:"amount_cents" binding:"required,gt=0"`
	Currency      string    `json:"currency" binding:"required"`
	CustomerEmail string    `json:"customer_email" binding:"required,email"`
}

// BookingResponse is the read model returned by the booking endpoints.
type BookingResponse struct {
	ID               int64      `json:"id"`
	Status           string     `json:"status"`
	HoldExpiresAt    *time.Time `json:"hold_expires_at,omitempty"`
	PaymentReference *string    `json:"payment_reference,omitempty"`
	ChargeReference  *string    `json:"charge_reference,omitempty"`
	Paid             bool       `json:"paid"`
	RefundedAmount   int64      `json:"refunded_amount"`
	RefundStatus     string     `json:"refund_status"`
	RefundIDs        []string   `json:"refund_ids,omitempty"`
	DisputeID        *string    `json:"dispute_id,omitempty"`
	DisputeStatus    *string    `json:"dispute_status,omitempty"`
	DisputeReason    *string    `json:"dispute_reason,omitempty"`
	MachineID        int64      `json:"machine_id"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	AmountCents      int64      `json:"amount_cents"`
	Currency         string     `json:"currency"`
	CustomerEmail    string     `json:"customer_email"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BookingService covers the booking-facing operations: opening holds,
// reading bookings and sweeping lapsed holds.
type BookingService struct {
	bookings booking.Repository
	holdTTL  time.Duration
	logger   *zap.Logger
}

func NewBookingService(bookings booking.Repository, holdTTL time.Duration, logger *zap.Logger) *BookingService {
	return &BookingService{
		bookings: bookings,
		holdTTL:  holdTTL,
		logger:   logger,
	}
}

// CreateBooking opens a PENDING booking holding the machine until the hold
// window lapses or a payment event settles it.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*BookingResponse, error) {
	if !req.EndDate.After(req.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", booking.ErrInvalidInput)
	}

	expiresAt := time.Now().UTC().Add(s.holdTTL)
	b := &booking.Booking{
		Status:        booking.StatusPending,
		HoldExpiresAt: &expiresAt,
		RefundStatus:  booking.RefundNone,
		MachineID:     req.MachineID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info("booking hold opened",
		zap.Int64("booking_id", b.ID),
		zap.Int64("machine_id", b.MachineID),
		zap.Time("hold_expires_at", expiresAt))
	return toBookingResponse(b), nil
}

// GetBooking returns the booking read model for the given id.
func (s *BookingService) GetBooking(ctx context.Context, id int64) (*BookingResponse, error) {
	b, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toBookingResponse(b), nil
}

// SweepExpiredHolds cancels every lapsed PENDING hold in one pass and
// returns the number of bookings released.
func (s *BookingService) SweepExpiredHolds(ctx context.Context) (int64, error) {
	cancelled, err := s.bookings.SweepExpiredHolds(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	if cancelled > 0 {
		observability.HoldsSweptTotal.Add(float64(cancelled))
		s.logger.Info("expired holds released", zap.Int64("cancelled", cancelled))
	}
	return cancelled, nil
}

func toBookingResponse(b *booking.Booking) *BookingResponse {
	return &BookingResponse{
		ID:               b.ID,
		Status:           string(b.Status),
		HoldExpiresAt:    b.HoldExpiresAt,
		PaymentReference: b.PaymentReference,
		ChargeReference:  b.ChargeReference,
		Paid:             b.Paid,
		RefundedAmount:   b.RefundedAmount,
		RefundStatus:     string(b.RefundStatus),
		RefundIDs:        b.RefundIDs.Sorted(),
		DisputeID:        b.DisputeID,
		DisputeStatus:    b.DisputeStatus,
		DisputeReason:    b.DisputeReason,
		MachineID:        b.MachineID,
		StartDate:        b.StartDate,
		EndDate:          b.EndDate,
		AmountCents:      b.AmountCents,
		Currency:         b.Currency,
		CustomerEmail:    b.CustomerEmail,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/plant-hire/service-booking/internal/domain/booking"
)

// BookingModel is the GORM persistence model for the bookings table.
type BookingModel struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	Status           string         `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	HoldExpiresAt    *time.Time     `gorm:"type:timestamptz;index"`
	PaymentReference *string        `gorm:"type:varchar(255);index"`
	ChargeReference  *string        `gorm:"type:varchar(255);index"`
	Paid             bool           `gorm:"not null;default:false"`
	RefundedAmount   int64          `gorm:"not null;default:0"`
	RefundStatus     string         `gorm:"type:varchar(10);not null;default:'NONE'"`
	RefundIDs        datatypes.JSON `gorm:"type:jsonb"`
	DisputeID        *string        `gorm:"type:varchar(255)"`
	DisputeStatus    *string        `gorm:"type:varchar(30)"`
	DisputeReason    *string        `gorm:"type:text"`
	MachineID        int64          `gorm:"not null"`
	StartDate        time.Time      `gorm:"type:date;not null"`
	EndDate          time.Time      `gorm:"type:date;not null"`
	AmountCents      int64          `gorm:"not null"`
	Currency         string         `gorm:"type:varchar(3);not null;default:'GBP'"`
	CustomerEmail    string         `gorm:"type:varchar(255)"`
	CreatedAt        time.Time      `gorm:"type:timestamptz;not null"`
	UpdatedAt        time.Time      `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (BookingModel) TableName() string {
	return "bookings"
}

// PaymentAuthorizationModel stores balance-authorization records for the
// legacy manual-capture flow, one per booking.
type PaymentAuthorizationModel struct {
	BookingID        int64     `gorm:"primaryKey"`
	PaymentReference string    `gorm:"type:varchar(255);not null"`
	AmountCents      int64     `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (PaymentAuthorizationModel) TableName() string {
	return "payment_authorizations"
}

// BookingRepositoryImpl is the GORM-based implementation of
// booking.Repository. Mutations are status-scoped UPDATEs checked through
// RowsAffected, never fetch-modify-write.
type BookingRepositoryImpl struct {
	db *gorm.DB
}

// NewBookingRepository creates a new GORM-based booking repository.
func NewBookingRepository(db *gorm.DB) *BookingRepositoryImpl {
	return &BookingRepositoryImpl{db: db}
}

// Create persists a new PENDING booking with its hold window.
func (r *BookingRepositoryImpl) Create(ctx context.Context, b *booking.Booking) error {
	model := toModel(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	b.ID = model.ID
	b.CreatedAt = model.CreatedAt
	b.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID retrieves a booking by its id.
func (r *BookingRepositoryImpl) FindByID(ctx context.Context, id int64) (*booking.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, booking.ErrNotFound
		}
		return nil, err
	}
	return toDomain(&model)
}

// FindByPaymentReference retrieves the booking whose payment or charge
// reference matches ref.
func (r *BookingRepositoryImpl) FindByPaymentReference(ctx context.Context, ref string) (*booking.Booking, error) {
	var model BookingModel
	err := r.db.WithContext(ctx).
		Where("payment_reference = ? OR charge_reference = ?", ref, ref).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, booking.ErrNotFound
		}
		return nil, err
	}
	return toDomain(&model)
}

// ConfirmIfPending promotes a PENDING booking to CONFIRMED in one
// conditional update. References are first-write-wins: COALESCE keeps a
// stored value over the incoming one, and a nil incoming value keeps
// whatever was there.
func (r *BookingRepositoryImpl) ConfirmIfPending(ctx context.Context, id int64, paymentRef, chargeRef *string) (bool, error) {
	updates := map[string]interface{}{
		"status":          string(booking.StatusConfirmed),
		"paid":            true,
		"hold_expires_at": nil,
		"updated_at":      time.Now().UTC(),
	}
	if paymentRef != nil {
		updates["payment_reference"] = gorm.Expr("COALESCE(payment_reference, ?)", *paymentRef)
	}
	if chargeRef != nil {
		updates["charge_reference"] = gorm.Expr("COALESCE(charge_reference, ?)", *chargeRef)
	}

	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND status = ?", id, string(booking.StatusPending)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// BackfillPaymentReference sets the payment reference only when the stored
// value is null.
func (r *BookingRepositoryImpl) BackfillPaymentReference(ctx context.Context, id int64, ref string) error {
	return r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND payment_reference IS NULL", id).
		Updates(map[string]interface{}{
			"payment_reference": ref,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// CancelIfPending moves a PENDING booking to CANCELLED and clears the hold
// window.
func (r *BookingRepositoryImpl) CancelIfPending(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND status = ?", id, string(booking.StatusPending)).
		Updates(map[string]interface{}{
			"status":          string(booking.StatusCancelled),
			"hold_expires_at": nil,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SweepExpiredHolds cancels every PENDING booking whose hold has lapsed, as
// one bulk conditional update. A booking promoted concurrently no longer
// matches the predicate and is untouched.
func (r *BookingRepositoryImpl) SweepExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("status = ? AND hold_expires_at <= ?", string(booking.StatusPending), now).
		Updates(map[string]interface{}{
			"status":          string(booking.StatusCancelled),
			"hold_expires_at": nil,
			"updated_at":      now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ApplyRefundSnapshot replaces the refund sub-state with the live charge
// snapshot in a single conditional update. Amount and status are a plain
// replace of the provider's cumulative figures; refund ids are unioned with
// the stored set inside the UPDATE itself, so concurrent snapshots never
// drop each other's ids.
func (r *BookingRepositoryImpl) ApplyRefundSnapshot(ctx context.Context, id int64, snap booking.RefundSnapshot) error {
	incoming, err := encodeRefundIDs(snap.RefundIDs)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"refunded_amount": snap.RefundedAmount,
		"refund_status":   string(snap.Status),
		"refund_ids": gorm.Expr(
			`(SELECT COALESCE(jsonb_agg(DISTINCT val ORDER BY val), '[]'::jsonb)
			  FROM jsonb_array_elements_text(COALESCE(refund_ids, '[]'::jsonb) || ?::jsonb) AS t(val))`,
			string(incoming)),
		"updated_at": time.Now().UTC(),
	}
	if snap.ChargeReference != "" {
		updates["charge_reference"] = gorm.Expr("COALESCE(charge_reference, ?)", snap.ChargeReference)
	}

	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// RecordDispute writes the dispute sub-state. Status is never touched.
func (r *BookingRepositoryImpl) RecordDispute(ctx context.Context, id int64, d booking.Dispute) error {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispute_id":     d.ID,
			"dispute_status": d.Status,
			"dispute_reason": d.Reason,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// UpsertAuthorization merges a balance-authorization record for the booking.
// The payment reference is first-write-wins; the capturable amount tracks
// the latest event.
func (r *BookingRepositoryImpl) UpsertAuthorization(ctx context.Context, bookingID int64, paymentRef string, amountCents int64) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO payment_authorizations (booking_id, payment_reference, amount_cents, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (booking_id) DO UPDATE SET
			amount_cents = EXCLUDED.amount_cents,
			updated_at = EXCLUDED.updated_at`,
		bookingID, paymentRef, amountCents, time.Now().UTC(),
	).Error
}

// toDomain maps a BookingModel to the domain Booking.
func toDomain(model *BookingModel) (*booking.Booking, error) {
	ids, err := decodeRefundIDs(model.RefundIDs)
	if err != nil {
		return nil, err
	}
	return &booking.Booking{
		ID:               model.ID,
		Status:           booking.Status(model.Status),
		HoldExpiresAt:    model.HoldExpiresAt,
		PaymentReference: model.PaymentReference,
		ChargeReference:  model.ChargeReference,
		Paid:             model.Paid,
		RefundedAmount:   model.RefundedAmount,
		RefundStatus:     booking.RefundStatus(model.RefundStatus),
		RefundIDs:        ids,
		DisputeID:        model.DisputeID,
		DisputeStatus:    model.DisputeStatus,
		DisputeReason:    model.DisputeReason,
		MachineID:        model.MachineID,
		StartDate:        model.StartDate,
		EndDate:          model.EndDate,
		AmountCents:      model.AmountCents,
		Currency:         model.Currency,
		CustomerEmail:    model.CustomerEmail,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}, nil
}

// toModel maps a domain Booking to a BookingModel for persistence.
func toModel(b *booking.Booking) *BookingModel {
	now := time.Now().UTC()
	ids, _ := encodeRefundIDs(b.RefundIDs)
	return &BookingModel{
		ID:               b.ID,
		Status:           string(b.Status),
		HoldExpiresAt:    b.HoldExpiresAt,
		PaymentReference: b.PaymentReference,
		ChargeReference:  b.ChargeReference,
		Paid:             b.Paid,
		RefundedAmount:   b.RefundedAmount,
		RefundStatus:     string(b.RefundStatus),
		RefundIDs:        ids,
		DisputeID:        b.DisputeID,
		DisputeStatus:    b.DisputeStatus,
		DisputeReason:    b.DisputeReason,
		MachineID:        b.MachineID,
		StartDate:        b.StartDate,
		EndDate:          b.EndDate,
		AmountCents:      b.AmountCents,
		Currency:         b.Currency,
		CustomerEmail:    b.CustomerEmail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func decodeRefundIDs(raw datatypes.JSON) (booking.RefundIDs, error) {
	if len(raw) == 0 {
		return booking.NewRefundIDs(), nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode refund ids: %w", err)
	}
	return booking.NewRefundIDs(ids...), nil
}

func encodeRefundIDs(ids booking.RefundIDs) (datatypes.JSON, error) {
	raw, err := json.Marshal(ids.Sorted())
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

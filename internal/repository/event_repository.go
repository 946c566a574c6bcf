package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ProcessedEventModel is the idempotency record for provider webhook
// events. The unique constraint on event_id is the fencing token: the
// insert either lands or is rejected, there is no read-then-write race.
// processed_at stays null until the event's transition commits, so a crash
// between claim and transition leaves the claim open for redelivery.
type ProcessedEventModel struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	EventID     string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType   string     `gorm:"type:varchar(100);not null;index"`
	BookingID   *int64     `gorm:"index"`
	ReceivedAt  time.Time  `gorm:"type:timestamptz;not null"`
	ProcessedAt *time.Time `gorm:"type:timestamptz"`
}

// TableName specifies the table name for GORM.
func (ProcessedEventModel) TableName() string {
	return "processed_events"
}

// EventRepositoryImpl is the GORM-based implementation of
// booking.EventLedger.
type EventRepositoryImpl struct {
	db *gorm.DB
}

// NewEventRepository creates a new GORM-based event ledger.
func NewEventRepository(db *gorm.DB) *EventRepositoryImpl {
	return &EventRepositoryImpl{db: db}
}

// RecordIfNew attempts the unique-keyed insert for the event id. True means
// the event is new; false means a record with this id already existed and
// the caller must consult Processed before doing any further work.
func (r *EventRepositoryImpl) RecordIfNew(ctx context.Context, eventID, eventType string, bookingID *int64) (bool, error) {
	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO processed_events (event_id, event_type, booking_id, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, bookingID, time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Processed reports whether the event's transition has committed. Unknown
// event ids read as unprocessed.
func (r *EventRepositoryImpl) Processed(ctx context.Context, eventID string) (bool, error) {
	var model ProcessedEventModel
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return model.ProcessedAt != nil, nil
}

// MarkProcessed stamps the claim once the event's transition has committed.
func (r *EventRepositoryImpl) MarkProcessed(ctx context.Context, eventID string) error {
	return r.db.WithContext(ctx).
		Model(&ProcessedEventModel{}).
		Where("event_id = ?", eventID).
		Update("processed_at", time.Now().UTC()).Error
}

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/plant-hire/service-booking/pkg/kafka"
)

const (
	// EventSource identifies this service in the CloudEvent envelope.
	EventSource = "service-booking"

	// TypeBookingConfirmed is emitted once per booking, when the guarded
	// promotion to CONFIRMED commits.
	TypeBookingConfirmed = "booking.confirmed"
)

// BookingConfirmedEvent is the payload the notification service consumes to
// send the customer their confirmation.
type BookingConfirmedEvent struct {
	BookingID  int64     `json:"booking_id"`
	Recipient  string    `json:"recipient"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaNotifier publishes confirmation notifications to the notification
// topic.
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaNotifier(producer *kafka.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// NotifyBookingConfirmed publishes a booking.confirmed event for the
// notification service to fan out.
func (n *KafkaNotifier) NotifyBookingConfirmed(ctx context.Context, bookingID int64, recipient string) error {
	payload := BookingConfirmedEvent{
		BookingID:  bookingID,
		Recipient:  recipient,
		OccurredAt: time.Now().UTC(),
	}
	ce, err := kafka.NewCloudEvent(EventSource, TypeBookingConfirmed, payload)
	if err != nil {
		return fmt.Errorf("build booking.confirmed event: %w", err)
	}
	return n.producer.PublishEvent(ctx, n.topic, ce)
}

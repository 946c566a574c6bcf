package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts processed provider events by type and
	// outcome (confirmed, cancelled, duplicate, unresolved, ignored, ...).
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_webhook_events_total",
			Help: "Provider webhook events processed, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// HoldsSweptTotal counts bookings cancelled by the hold-expiry sweeper.
	HoldsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_holds_swept_total",
			Help: "Expired holds cancelled by the sweeper",
		},
	)

	// NotificationFailuresTotal counts best-effort notification dispatches
	// that failed; failures never roll back a committed transition.
	NotificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_notification_failures_total",
			Help: "Confirmation notifications that failed to publish",
		},
	)
)

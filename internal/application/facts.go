package application

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/plant-hire/service-booking/internal/adapter"
	"github.com/plant-hire/service-booking/internal/domain/booking"
)

// Metadata keys the reservation flow stamps onto checkout sessions and
// payment intents.
const (
	metadataBookingIDKey = "booking_id"
	metadataFlowKey      = "flow"
)

// Facts is the normalized tuple extracted from a provider payload. Nil
// fields were absent or unparseable.
type Facts struct {
	BookingID        *int64
	Flow             booking.Flow
	PaymentReference *string
	Amount           *int64
}

var trailingDigits = regexp.MustCompile(`[0-9]+$`)

// BookingIDFromReference parses a booking id out of the structured metadata
// value, falling back to the free-form client reference. References carry
// the id as trailing digits ("booking-123") or as a bare number.
func BookingIDFromReference(metadataID, clientReference string) (int64, bool) {
	if id, ok := parseBookingRef(metadataID); ok {
		return id, true
	}
	return parseBookingRef(clientReference)
}

func parseBookingRef(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	digits := trailingDigits.FindString(raw)
	if digits == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SessionFacts extracts the normalized facts from a checkout session.
func SessionFacts(s *adapter.CheckoutSession) Facts {
	f := Facts{Flow: booking.ParseFlow(s.Metadata[metadataFlowKey])}
	if id, ok := BookingIDFromReference(s.Metadata[metadataBookingIDKey], s.ClientReferenceID); ok {
		f.BookingID = &id
	}
	if ref := s.PaymentIntent.ID; ref != "" {
		f.PaymentReference = &ref
	}
	if s.AmountTotal > 0 {
		amount := s.AmountTotal
		f.Amount = &amount
	}
	return f
}

// IntentFacts extracts the normalized facts from a payment intent.
func IntentFacts(pi *adapter.PaymentIntent) Facts {
	f := Facts{Flow: booking.ParseFlow(pi.Metadata[metadataFlowKey])}
	if id, ok := BookingIDFromReference(pi.Metadata[metadataBookingIDKey], ""); ok {
		f.BookingID = &id
	}
	if pi.ID != "" {
		ref := pi.ID
		f.PaymentReference = &ref
	}
	amount := pi.Amount
	if pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}
	if amount > 0 {
		f.Amount = &amount
	}
	return f
}

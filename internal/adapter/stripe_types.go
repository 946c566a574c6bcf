package adapter

import (
	"bytes"
	"encoding/json"
)

// Event is the provider's webhook envelope. Data.Object carries the payload
// object (session, payment intent, charge or dispute) as raw JSON.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData wraps the raw payload object of an event.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// CheckoutSession is the provider's checkout session object. The payment
// intent field is expandable: a bare id on webhook payloads, a full object
// when re-fetched with expansion.
type CheckoutSession struct {
	ID                string                  `json:"id"`
	ClientReferenceID string                  `json:"client_reference_id"`
	Metadata          map[string]string       `json:"metadata"`
	PaymentIntent     ExpandablePaymentIntent `json:"payment_intent"`
	PaymentStatus     string                  `json:"payment_status"`
	AmountTotal       int64                   `json:"amount_total"`
	CustomerEmail     string                  `json:"customer_email"`
}

// ExpandablePaymentIntent decodes either a payment intent id string or an
// expanded payment intent object.
type ExpandablePaymentIntent struct {
	ID     string
	Intent *PaymentIntent
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExpandablePaymentIntent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &e.ID)
	}
	var intent PaymentIntent
	if err := json.Unmarshal(trimmed, &intent); err != nil {
		return err
	}
	e.Intent = &intent
	e.ID = intent.ID
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e ExpandablePaymentIntent) MarshalJSON() ([]byte, error) {
	if e.Intent != nil {
		return json.Marshal(e.Intent)
	}
	if e.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(e.ID)
}

// PaymentIntent is the provider's payment intent object.
type PaymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	LatestCharge   string            `json:"latest_charge"`
}

// Charge is the provider's charge object. AmountRefunded is the cumulative
// refunded amount; Refunds lists every refund on the charge.
type Charge struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	PaymentIntent  string            `json:"payment_intent"`
	Metadata       map[string]string `json:"metadata"`
	Refunds        RefundList        `json:"refunds"`
}

// RefundList is the provider's list wrapper around refunds.
type RefundList struct {
	Data []Refund `json:"data"`
}

// Refund is a single refund on a charge.
type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Dispute is the provider's dispute object.
type Dispute struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

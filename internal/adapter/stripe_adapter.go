package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when the provider does not know the
// requested object.
var ErrObjectNotFound = errors.New("provider object not found")

// StripeAdapter is the Anti-Corruption Layer interface for the provider
// lookups the booking core needs: re-fetching a session with its payment
// intent expanded when the webhook payload lacks the reference, and
// re-fetching a charge to read the authoritative cumulative refund state.
type StripeAdapter interface {
	// GetCheckoutSession retrieves a checkout session with the payment
	// intent expanded.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// GetCharge retrieves a charge, including its refunds and cumulative
	// refunded amount.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// HTTPStripeAdapter talks to the provider's REST API.
type HTTPStripeAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStripeAdapter creates an adapter against the live provider API.
func NewHTTPStripeAdapter(apiKey string, logger *zap.Logger) *HTTPStripeAdapter {
	return &HTTPStripeAdapter{
		apiKey:  apiKey,
		baseURL: "https://api.stripe.com",
		client:  &http.Client{Timeout: 12 * time.Second},
		logger:  logger,
	}
}

// NewHTTPStripeAdapterWithBaseURL creates an adapter against a custom base
// URL, used by tests.
func NewHTTPStripeAdapterWithBaseURL(apiKey, baseURL string, logger *zap.Logger) *HTTPStripeAdapter {
	a := NewHTTPStripeAdapter(apiKey, logger)
	a.baseURL = baseURL
	return a
}

// GetCheckoutSession retrieves a checkout session with the payment intent
// expanded.
func (a *HTTPStripeAdapter) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	query := url.Values{}
	query.Add("expand[]", "payment_intent")

	var session CheckoutSession
	if err := a.doGet(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), query, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCharge retrieves a charge with its refunds.
func (a *HTTPStripeAdapter) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := a.doGet(ctx, "/v1/charges/"+url.PathEscape(chargeID), nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *HTTPStripeAdapter) doGet(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrObjectNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("provider error (%d): %s", resp.StatusCode, envelope.Error.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// MockStripeAdapter is a development/testing implementation that serves
// canned objects without network access.
type MockStripeAdapter struct {
	Sessions map[string]*CheckoutSession
	Charges  map[string]*Charge
	logger   *zap.Logger
}

// NewMockStripeAdapter creates an empty mock adapter.
func NewMockStripeAdapter(logger *zap.Logger) *MockStripeAdapter {
	return &MockStripeAdapter{
		Sessions: make(map[string]*CheckoutSession),
		Charges:  make(map[string]*Charge),
		logger:   logger,
	}
}

// GetCheckoutSession returns the canned session for the id.
func (m *MockStripeAdapter) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	s, ok := m.Sessions[sessionID]
	if !ok {
		return nil, ErrObjectNotFound
	}
	m.logger.Info("[MOCK STRIPE] checkout session retrieved", zap.String("session_id", sessionID))
	return s, nil
}

// GetCharge returns the canned charge for the id.
func (m *MockStripeAdapter) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	c, ok := m.Charges[chargeID]
	if !ok {
		return nil, ErrObjectNotFound
	}
	m.logger.Info("[MOCK STRIPE] charge retrieved", zap.String("charge_id", chargeID))
	return c, nil
}

package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/pkg/metrics"
)

// CheckoutService wraps the external checkout provider's REST API. It is the
// only component that talks to the gateway; everything it returns is mapped
// onto the ErrGatewayUnavailable / ErrGatewayRejected taxonomy so callers
// can tell transient from permanent failures without inspecting HTTP codes.
type CheckoutService struct {
	config  *config.CheckoutConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics
	client  *http.Client
}

// CreateSessionParams carries everything needed to open a checkout session
type CreateSessionParams struct {
	BookingID     string
	Amount        float64
	Currency      string
	Description   string
	CustomerEmail string
}

// SessionHandle identifies a freshly created checkout session
type SessionHandle struct {
	ID          string `json:"id"`
	RedirectURL string `json:"url"`
}

// SessionSnapshot is the gateway's authoritative view of one session
type SessionSnapshot struct {
	SessionID     string  `json:"id"`
	Status        string  `json:"status"`         // open, complete, expired
	PaymentStatus string  `json:"payment_status"` // paid, unpaid
	PaymentID     string  `json:"payment_intent"`
	AmountTotal   float64 `json:"amount_total"`
	Currency      string  `json:"currency"`
	BookingID     string  `json:"-"`
}

// IsPaid reports whether the gateway has settled payment for this session.
func (s *SessionSnapshot) IsPaid() bool {
	return s.PaymentStatus == "paid"
}

// IsClosed reports whether the session can no longer be paid.
func (s *SessionSnapshot) IsClosed() bool {
	return s.Status == "expired" || s.Status == "cancelled"
}

// WebhookEvent is a verified, decoded gateway notification
type WebhookEvent struct {
	Type          string
	SessionID     string
	PaymentID     string
	PaymentStatus string
	BookingID     string
	Amount        float64
	Currency      string
}

// createSessionRequest is the wire shape sent to the gateway. BookingID rides
// along twice (client_reference_id and metadata) so any later event about the
// session can be correlated back without trusting caller input.
type createSessionRequest struct {
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Description       string            `json:"description,omitempty"`
	CustomerEmail     string            `json:"customer_email,omitempty"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	Metadata          map[string]string `json:"metadata"`
}

type sessionResponse struct {
	ID            string            `json:"id"`
	URL           string            `json:"url,omitempty"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent,omitempty"`
	AmountTotal   float64           `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type gatewayErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// webhookEnvelope is the raw notification shape
type webhookEnvelope struct {
	Type string          `json:"type"`
	Data sessionResponse `json:"data"`
}

// NewCheckoutService creates a new checkout gateway adapter. metrics may be
// nil (operator tools construct the adapter without a registry).
func NewCheckoutService(cfg *config.CheckoutConfig, logger *logrus.Logger, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{
		config:  cfg,
		logger:  logger,
		metrics: m,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IsConfigured returns true when the gateway credentials are present.
func (s *CheckoutService) IsConfigured() bool {
	return s.config.BaseURL != "" && s.config.APIKey != ""
}

// CreateSession opens a checkout session for a booking. The booking id is
// embedded as the correlation token. Creates external state: callers must
// not retry blindly — a retry for the same booking goes through the payment
// retry flow, which binds the new session to the existing booking id.
func (s *CheckoutService) CreateSession(ctx context.Context, params *CreateSessionParams) (*SessionHandle, error) {
	if !s.IsConfigured() {
		return nil, ErrGatewayNotConfigured
	}

	reqBody := &createSessionRequest{
		Amount:            fmt.Sprintf("%.2f", params.Amount),
		Currency:          params.Currency,
		ClientReferenceID: params.BookingID,
		Description:       params.Description,
		CustomerEmail:     params.CustomerEmail,
		SuccessURL:        s.config.SuccessURL,
		CancelURL:         s.config.CancelURL,
		Metadata: map[string]string{
			"booking_id": params.BookingID,
		},
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": params.BookingID,
		"amount":     reqBody.Amount,
		"currency":   params.Currency,
	}).Info("Creating checkout session")

	body, err := s.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", reqBody, "create_session")
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed create response: %v", ErrGatewayUnavailable, err)
	}
	if resp.ID == "" || resp.URL == "" {
		return nil, fmt.Errorf("%w: create response missing session id or redirect url", ErrGatewayRejected)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": params.BookingID,
		"session_id": resp.ID,
	}).Info("Checkout session created")

	return &SessionHandle{ID: resp.ID, RedirectURL: resp.URL}, nil
}

// RetrieveSession fetches the authoritative status of a session. Read-only
// and idempotent; safe to call repeatedly from either confirmation channel.
func (s *CheckoutService) RetrieveSession(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	if !s.IsConfigured() {
		return nil, ErrGatewayNotConfigured
	}

	body, err := s.doRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+sessionID, nil, "retrieve_session")
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed session response: %v", ErrGatewayUnavailable, err)
	}

	return &SessionSnapshot{
		SessionID:     resp.ID,
		Status:        resp.Status,
		PaymentStatus: resp.PaymentStatus,
		PaymentID:     resp.PaymentIntent,
		AmountTotal:   resp.AmountTotal,
		Currency:      resp.Currency,
		BookingID:     resp.Metadata["booking_id"],
	}, nil
}

// VerifyNotification authenticates and decodes an inbound gateway
// notification. Signature verification happens before any field of the
// payload is trusted; a failure rejects the whole event.
func (s *CheckoutService) VerifyNotification(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if err := VerifySignature(payload, signatureHeader, s.config.WebhookSecret); err != nil {
		return nil, err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrSignatureInvalid)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrSignatureInvalid)
	}

	return &WebhookEvent{
		Type:          env.Type,
		SessionID:     env.Data.ID,
		PaymentID:     env.Data.PaymentIntent,
		PaymentStatus: env.Data.PaymentStatus,
		BookingID:     env.Data.Metadata["booking_id"],
		Amount:        env.Data.AmountTotal,
		Currency:      env.Data.Currency,
	}, nil
}

// VerifySignature checks a hex HMAC-SHA256 signature over the raw payload.
// Pure: callable without a CheckoutService for testing. The header may carry
// an optional "sha256=" prefix. Comparison is constant-time.
func VerifySignature(payload []byte, signatureHeader, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrSignatureInvalid)
	}

	sig := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if sig == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrSignatureInvalid
	}
	return nil
}

// SignPayload computes the signature the gateway would attach to a payload.
// Used by tests and the checkout probe.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// doRequest performs one gateway call and maps the outcome onto the error
// taxonomy: transport errors and 5xx are ErrGatewayUnavailable, 4xx is
// ErrGatewayRejected with the gateway's message attached.
func (s *CheckoutService) doRequest(ctx context.Context, method, path string, payload interface{}, operation string) ([]byte, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveGatewayCall(operation, outcome, time.Since(start))
		}
	}()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("operation", operation).Warn("Gateway call failed")
		outcome = "unavailable"
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "unavailable"
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		s.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"status_code": resp.StatusCode,
		}).Warn("Gateway returned server error")
		outcome = "unavailable"
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)

	case resp.StatusCode >= 400:
		var gwErr gatewayErrorResponse
		_ = json.Unmarshal(body, &gwErr)
		msg := gwErr.Error.Message
		if msg == "" {
			msg = string(body)
		}
		s.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"status_code": resp.StatusCode,
			"message":     msg,
		}).Warn("Gateway rejected request")
		outcome = "rejected"
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
	}

	outcome = "ok"
	return body, nil
}

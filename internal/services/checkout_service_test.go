package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstay/booking-backend/internal/config"
)

func newCheckoutService(baseURL string) *CheckoutService {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.CheckoutConfig{
		BaseURL:       baseURL,
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
		Timeout:       2 * time.Second,
		SuccessURL:    "https://example.com/success",
		CancelURL:     "https://example.com/cancel",
	}
	return NewCheckoutService(cfg, logger, nil)
}

func TestCreateSession(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var captured createSessionRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sessionResponse{
				ID:     "cs_abc",
				URL:    "https://pay.example.com/cs_abc",
				Status: "open",
			})
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		handle, err := svc.CreateSession(context.Background(), &CreateSessionParams{
			BookingID:     "b-1",
			Amount:        512.50,
			Currency:      "SGD",
			Description:   "2 nights, Deluxe King",
			CustomerEmail: "guest@example.com",
		})

		require.NoError(t, err)
		assert.Equal(t, "cs_abc", handle.ID)
		assert.Equal(t, "https://pay.example.com/cs_abc", handle.RedirectURL)

		assert.Equal(t, "512.50", captured.Amount)
		assert.Equal(t, "b-1", captured.ClientReferenceID)
		assert.Equal(t, "b-1", captured.Metadata["booking_id"])
		assert.Equal(t, "https://example.com/success", captured.SuccessURL)
	})

	t.Run("Gateway rejects", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":{"message":"currency not supported","code":"invalid_currency"}}`))
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		_, err := svc.CreateSession(context.Background(), &CreateSessionParams{
			BookingID: "b-1", Amount: 10, Currency: "XXX",
		})

		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.Contains(t, err.Error(), "currency not supported")
	})

	t.Run("Gateway server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		_, err := svc.CreateSession(context.Background(), &CreateSessionParams{
			BookingID: "b-1", Amount: 10, Currency: "SGD",
		})

		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})

	t.Run("Gateway unreachable", func(t *testing.T) {
		svc := newCheckoutService("http://127.0.0.1:1")
		_, err := svc.CreateSession(context.Background(), &CreateSessionParams{
			BookingID: "b-1", Amount: 10, Currency: "SGD",
		})

		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})

	t.Run("Not configured", func(t *testing.T) {
		svc := newCheckoutService("")
		_, err := svc.CreateSession(context.Background(), &CreateSessionParams{
			BookingID: "b-1", Amount: 10, Currency: "SGD",
		})

		assert.ErrorIs(t, err, ErrGatewayNotConfigured)
	})
}

func TestRetrieveSession(t *testing.T) {
	t.Run("Paid session", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout/sessions/cs_abc", r.URL.Path)
			json.NewEncoder(w).Encode(sessionResponse{
				ID:            "cs_abc",
				Status:        "complete",
				PaymentStatus: "paid",
				PaymentIntent: "pi_9",
				AmountTotal:   512.50,
				Currency:      "SGD",
				Metadata:      map[string]string{"booking_id": "b-1"},
			})
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		snap, err := svc.RetrieveSession(context.Background(), "cs_abc")

		require.NoError(t, err)
		assert.True(t, snap.IsPaid())
		assert.Equal(t, "pi_9", snap.PaymentID)
		assert.Equal(t, "b-1", snap.BookingID)
		assert.InDelta(t, 512.50, snap.AmountTotal, 0.001)
	})

	t.Run("Unpaid session", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionResponse{
				ID: "cs_abc", Status: "open", PaymentStatus: "unpaid",
			})
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		snap, err := svc.RetrieveSession(context.Background(), "cs_abc")

		require.NoError(t, err)
		assert.False(t, snap.IsPaid())
		assert.False(t, snap.IsClosed())
	})

	t.Run("Expired session is closed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionResponse{
				ID: "cs_abc", Status: "expired", PaymentStatus: "unpaid",
			})
		}))
		defer server.Close()

		svc := newCheckoutService(server.URL)
		snap, err := svc.RetrieveSession(context.Background(), "cs_abc")

		require.NoError(t, err)
		assert.True(t, snap.IsClosed())
	})
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	secret := "whsec_test"

	t.Run("Valid signature", func(t *testing.T) {
		sig := SignPayload(payload, secret)
		assert.NoError(t, VerifySignature(payload, sig, secret))
	})

	t.Run("Valid with sha256 prefix", func(t *testing.T) {
		sig := "sha256=" + SignPayload(payload, secret)
		assert.NoError(t, VerifySignature(payload, sig, secret))
	})

	t.Run("Tampered payload", func(t *testing.T) {
		sig := SignPayload(payload, secret)
		err := VerifySignature([]byte(`{"type":"something.else"}`), sig, secret)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		sig := SignPayload(payload, "other_secret")
		assert.ErrorIs(t, VerifySignature(payload, sig, secret), ErrSignatureInvalid)
	})

	t.Run("Missing header", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(payload, "", secret), ErrSignatureInvalid)
	})

	t.Run("Non-hex header", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(payload, "not-hex!", secret), ErrSignatureInvalid)
	})

	t.Run("No secret configured", func(t *testing.T) {
		sig := SignPayload(payload, secret)
		assert.ErrorIs(t, VerifySignature(payload, sig, ""), ErrSignatureInvalid)
	})
}

func TestVerifyNotification(t *testing.T) {
	svc := newCheckoutService("https://gateway.example.com")

	event := webhookEnvelope{
		Type: "checkout.session.completed",
		Data: sessionResponse{
			ID:            "cs_abc",
			PaymentStatus: "paid",
			PaymentIntent: "pi_9",
			AmountTotal:   512.50,
			Currency:      "SGD",
			Metadata:      map[string]string{"booking_id": "b-1"},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	t.Run("Valid notification", func(t *testing.T) {
		sig := SignPayload(payload, "whsec_test")

		got, err := svc.VerifyNotification(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "checkout.session.completed", got.Type)
		assert.Equal(t, "cs_abc", got.SessionID)
		assert.Equal(t, "pi_9", got.PaymentID)
		assert.Equal(t, "paid", got.PaymentStatus)
		assert.Equal(t, "b-1", got.BookingID)
	})

	t.Run("Bad signature", func(t *testing.T) {
		_, err := svc.VerifyNotification(payload, SignPayload(payload, "wrong"))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("Signed garbage", func(t *testing.T) {
		garbage := []byte("not json")
		_, err := svc.VerifyNotification(garbage, SignPayload(garbage, "whsec_test"))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("Missing event type", func(t *testing.T) {
		untyped := []byte(`{"data":{"id":"cs_abc"}}`)
		_, err := svc.VerifyNotification(untyped, SignPayload(untyped, "whsec_test"))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/database"
	"github.com/harborstay/booking-backend/internal/models"
	"github.com/harborstay/booking-backend/internal/services"
)

const testWebhookSecret = "whsec_handler_test"

// memoryStore is a minimal in-memory booking store for handler tests. Status
// changes go through the same revision-guarded compare-and-set as the real
// repository.
type memoryStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	sessions map[string]uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		bookings: make(map[uuid.UUID]*models.Booking),
		sessions: make(map[string]uuid.UUID),
	}
}

func (m *memoryStore) Create(b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memoryStore) GetByID(id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *memoryStore) ListByEmail(email string) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.ContactEmail == email {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryStore) GetBySessionID(sessionID string) (*models.Booking, error) {
	m.mu.Lock()
	id, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return m.GetByID(id)
}

func (m *memoryStore) BindPaymentSession(bookingID uuid.UUID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bound, ok := m.sessions[sessionID]; ok && bound != bookingID {
		return database.ErrSessionAlreadyBound
	}
	m.sessions[sessionID] = bookingID
	return nil
}

func (m *memoryStore) CompareAndSetStatus(id uuid.UUID, expectedRevision int64, newStatus models.BookingStatus, paymentReference *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return database.ErrBookingNotFound
	}
	if b.Revision != expectedRevision {
		return database.ErrStaleRevision
	}
	if !b.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, b.Status, newStatus)
	}
	b.Status = newStatus
	if paymentReference != nil {
		ref := *paymentReference
		b.PaymentReference = &ref
	}
	b.Revision++
	return nil
}

func (m *memoryStore) RecordRetryToken(id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return database.ErrBookingNotFound
	}
	t := token
	b.RetryToken = &t
	return nil
}

func (m *memoryStore) ListExpiredPending(time.Time, int) ([]models.Booking, error) {
	return nil, nil
}

func (m *memoryStore) ListConfirmedEnded(time.Time, int) ([]models.Booking, error) {
	return nil, nil
}

// memoryAudits collects audit entries and doubles as the trail reader
type memoryAudits struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (a *memoryAudits) Log(_ context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, audit)
	return nil
}

func (a *memoryAudits) ListByBookingID(_ context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, e := range a.entries {
		if e.BookingID != nil && *e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memoryAudits) ListBySessionID(_ context.Context, sessionID string) ([]*models.PaymentAudit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, e := range a.entries {
		if e.SessionID != nil && *e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memoryAudits) ListAmountMismatches(_ context.Context, limit int) ([]*models.PaymentAudit, error) {
	return nil, nil
}

func (a *memoryAudits) countByType(eventType models.PaymentEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// paymentTestEnv wires a PaymentHandler over the real checkout adapter, with
// the gateway itself stubbed by an httptest server.
type paymentTestEnv struct {
	router  *gin.Engine
	store   *memoryStore
	audits  *memoryAudits
	gateway *httptest.Server

	mu        sync.Mutex
	snapshots map[string]map[string]interface{}
}

func (e *paymentTestEnv) setSession(sessionID string, body map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots[sessionID] = body
}

func setupPaymentTest(t *testing.T) *paymentTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &paymentTestEnv{
		store:     newMemoryStore(),
		audits:    &memoryAudits{},
		snapshots: make(map[string]map[string]interface{}),
	}

	env.gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		defer env.mu.Unlock()
		for id, body := range env.snapshots {
			if r.URL.Path == "/v1/checkout/sessions/"+id {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(body)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"no such session"}}`)
	}))
	t.Cleanup(env.gateway.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	checkout := services.NewCheckoutService(&config.CheckoutConfig{
		BaseURL:       env.gateway.URL,
		APIKey:        "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       2 * time.Second,
	}, logger, nil)

	bookingService := services.NewBookingService(
		env.store, env.audits, checkout, nil, nil, nil,
		services.DefaultBookingServiceConfig(), logger,
	)

	limiter := services.NewRateLimitService(3, time.Minute)
	t.Cleanup(limiter.Stop)

	handler := NewPaymentHandler(bookingService, limiter, env.audits, logger)

	env.router = gin.New()
	env.router.POST("/payments/webhook", handler.Webhook)
	env.router.POST("/payments/confirm", handler.ConfirmPayment)

	return env
}

// seedPendingBooking stores a pending booking bound to the given session.
func (e *paymentTestEnv) seedPendingBooking(t *testing.T, sessionID string) *models.Booking {
	t.Helper()
	sid := sessionID
	booking := &models.Booking{
		ID:           uuid.New(),
		HotelID:      "harbor-view-01",
		CheckIn:      time.Now().AddDate(0, 0, 7),
		CheckOut:     time.Now().AddDate(0, 0, 9),
		GuestName:    "Alice Tan",
		ContactEmail: "alice@example.com",
		Adults:       2,
		TotalAmount:  860.00,
		Currency:     "SGD",
		Status:       models.BookingStatusPending,
		SessionID:    &sid,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, e.store.Create(booking))
	require.NoError(t, e.store.BindPaymentSession(booking.ID, sessionID))
	return booking
}

func signedWebhook(t *testing.T, eventType, sessionID string, data map[string]interface{}) (body []byte, signature string) {
	t.Helper()
	if data == nil {
		data = map[string]interface{}{}
	}
	data["id"] = sessionID
	payload, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	require.NoError(t, err)
	return payload, services.SignPayload(payload, testWebhookSecret)
}

func postWebhook(env *paymentTestEnv, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Checkout-Signature", signature)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestWebhook_CompletedEventConfirmsBooking(t *testing.T) {
	env := setupPaymentTest(t)
	booking := env.seedPendingBooking(t, "cs_hook_1")
	env.setSession("cs_hook_1", map[string]interface{}{
		"id":             "cs_hook_1",
		"status":         "complete",
		"payment_status": "paid",
		"payment_intent": "pi_hook_1",
		"amount_total":   860.00,
		"currency":       "SGD",
	})

	body, sig := signedWebhook(t, "checkout.session.completed", "cs_hook_1", map[string]interface{}{
		"payment_status": "paid",
		"payment_intent": "pi_hook_1",
	})
	w := postWebhook(env, body, sig)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "processed")

	fresh, err := env.store.GetByID(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, fresh.Status)
	require.NotNil(t, fresh.PaymentReference)
	assert.Equal(t, "pi_hook_1", *fresh.PaymentReference)
	assert.Equal(t, 1, env.audits.countByType(models.PaymentEventPaymentConfirmed))
}

func TestWebhook_BadSignatureRejectedWithoutStateChange(t *testing.T) {
	env := setupPaymentTest(t)
	booking := env.seedPendingBooking(t, "cs_hook_2")

	body, _ := signedWebhook(t, "checkout.session.completed", "cs_hook_2", map[string]interface{}{
		"payment_status": "paid",
	})

	t.Run("Tampered signature", func(t *testing.T) {
		w := postWebhook(env, body, services.SignPayload(body, "wrong-secret"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Missing signature", func(t *testing.T) {
		w := postWebhook(env, body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	fresh, err := env.store.GetByID(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, fresh.Status)
	assert.Equal(t, int64(0), fresh.Revision)
	assert.Equal(t, 2, env.audits.countByType(models.PaymentEventSignatureRejected))
}

func TestWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	env := setupPaymentTest(t)
	booking := env.seedPendingBooking(t, "cs_hook_3")

	body, sig := signedWebhook(t, "invoice.created", "cs_hook_3", nil)
	w := postWebhook(env, body, sig)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acknowledged")

	fresh, err := env.store.GetByID(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, fresh.Status)
}

func TestWebhook_UnknownSessionAcknowledged(t *testing.T) {
	env := setupPaymentTest(t)

	body, sig := signedWebhook(t, "checkout.session.completed", "cs_never_created", map[string]interface{}{
		"payment_status": "paid",
	})
	w := postWebhook(env, body, sig)

	// The gateway must not keep retrying events about sessions this
	// deployment never opened.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_DuplicateDeliveryIsReadOnly(t *testing.T) {
	env := setupPaymentTest(t)
	booking := env.seedPendingBooking(t, "cs_hook_4")
	env.setSession("cs_hook_4", map[string]interface{}{
		"id":             "cs_hook_4",
		"status":         "complete",
		"payment_status": "paid",
		"payment_intent": "pi_hook_4",
		"amount_total":   860.00,
		"currency":       "SGD",
	})

	body, sig := signedWebhook(t, "checkout.session.completed", "cs_hook_4", map[string]interface{}{
		"payment_status": "paid",
		"payment_intent": "pi_hook_4",
	})

	first := postWebhook(env, body, sig)
	second := postWebhook(env, body, sig)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	fresh, err := env.store.GetByID(booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, fresh.Status)
	assert.Equal(t, int64(1), fresh.Revision)
	assert.Equal(t, 1, env.audits.countByType(models.PaymentEventPaymentConfirmed))
}

func TestConfirmPayment(t *testing.T) {
	t.Run("Paid session settles the booking", func(t *testing.T) {
		env := setupPaymentTest(t)
		booking := env.seedPendingBooking(t, "cs_poll_1")
		env.setSession("cs_poll_1", map[string]interface{}{
			"id":             "cs_poll_1",
			"status":         "complete",
			"payment_status": "paid",
			"payment_intent": "pi_poll_1",
			"amount_total":   860.00,
			"currency":       "SGD",
		})

		payload, _ := json.Marshal(gin.H{"session_id": "cs_poll_1"})
		req := httptest.NewRequest("POST", "/payments/confirm", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"settled":true`)
		assert.Contains(t, w.Body.String(), "pi_poll_1")

		fresh, err := env.store.GetByID(booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusConfirmed, fresh.Status)
	})

	t.Run("Unknown session returns 404", func(t *testing.T) {
		env := setupPaymentTest(t)

		payload, _ := json.Marshal(gin.H{"session_id": "cs_nowhere"})
		req := httptest.NewRequest("POST", "/payments/confirm", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Missing session id returns 400", func(t *testing.T) {
		env := setupPaymentTest(t)

		req := httptest.NewRequest("POST", "/payments/confirm", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Repeated polls are rate limited per session", func(t *testing.T) {
		env := setupPaymentTest(t)
		env.seedPendingBooking(t, "cs_poll_2")
		env.setSession("cs_poll_2", map[string]interface{}{
			"id":             "cs_poll_2",
			"status":         "open",
			"payment_status": "unpaid",
		})

		var last int
		for i := 0; i < 4; i++ {
			payload, _ := json.Marshal(gin.H{"session_id": "cs_poll_2"})
			req := httptest.NewRequest("POST", "/payments/confirm", bytes.NewReader(payload))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			last = w.Code
		}

		assert.Equal(t, http.StatusTooManyRequests, last)
	})
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventBookingCreated      PaymentEventType = "booking_created"
	PaymentEventSessionCreated      PaymentEventType = "session_created"
	PaymentEventSessionCreateFailed PaymentEventType = "session_create_failed"
	PaymentEventWebhookReceived     PaymentEventType = "webhook_received"
	PaymentEventStatusChecked       PaymentEventType = "status_checked"
	PaymentEventPaymentConfirmed    PaymentEventType = "payment_confirmed"
	PaymentEventPaymentFailed       PaymentEventType = "payment_failed"
	PaymentEventBookingCancelled    PaymentEventType = "booking_cancelled"
	PaymentEventBookingCompleted    PaymentEventType = "booking_completed"
	PaymentEventBookingExpired      PaymentEventType = "booking_expired"
	PaymentEventSignatureRejected   PaymentEventType = "signature_rejected"
	PaymentEventHintMismatch        PaymentEventType = "hint_mismatch"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceAPI       PaymentEventSource = "api"
	PaymentSourceWebhook   PaymentEventSource = "webhook"
	PaymentSourceClient    PaymentEventSource = "client"
	PaymentSourceScheduler PaymentEventSource = "scheduler"
)

// JSONB is a generic JSONB column holder
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB storage
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB retrieval
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: expected []byte, got %T", value)
	}

	return json.Unmarshal(bytes, j)
}

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	SessionID *string    `json:"session_id,omitempty" db:"session_id"`

	// Event info
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking - the one place submitted and gateway amounts meet
	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	// Status
	PaymentStatus    *string `json:"payment_status,omitempty" db:"payment_status"`
	GatewayPaymentID *string `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`

	// Raw payloads kept for dispute/debugging trails
	Details JSONB   `json:"details,omitempty" db:"details"`
	RawBody *string `json:"raw_body,omitempty" db:"raw_body"`

	// Error tracking
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	// Processing info
	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	// Client metadata
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
		IsDuplicate: false,
	}
}

// SetBooking sets the booking ID for the audit
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetSession sets the checkout session ID
func (pa *PaymentAudit) SetSession(sessionID string) *PaymentAudit {
	if sessionID != "" {
		pa.SessionID = &sessionID
	}
	return pa
}

// SetGatewayPayment sets the gateway's payment identifier
func (pa *PaymentAudit) SetGatewayPayment(paymentID string) *PaymentAudit {
	if paymentID != "" {
		pa.GatewayPaymentID = &paymentID
	}
	return pa
}

// SetAmounts sets and verifies amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	// Compare with tolerance for floating point
	const tolerance = 0.01
	match := abs(expected-received) < tolerance
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status reported by the gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	if status != "" {
		pa.PaymentStatus = &status
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetRawBody stores the raw notification body before parsing
func (pa *PaymentAudit) SetRawBody(body []byte) *PaymentAudit {
	if len(body) > 0 {
		s := string(body)
		pa.RawBody = &s
	}
	return pa
}

// SetDetails attaches structured context to the entry
func (pa *PaymentAudit) SetDetails(details map[string]interface{}) *PaymentAudit {
	pa.Details = JSONB(details)
	return pa
}

// SetClient sets client metadata from the inbound request
func (pa *PaymentAudit) SetClient(ip, userAgent, deviceType string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if deviceType != "" {
		pa.DeviceType = &deviceType
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	now := time.Now()
	pa.ProcessedAt = &now
	return pa
}

// MarkAsDuplicate marks this event as a repeat delivery
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

// abs returns absolute value of float64
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

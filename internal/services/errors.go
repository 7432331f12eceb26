package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Gateway and orchestration errors. Matched with errors.Is by handlers to
// pick HTTP codes; nothing here is ever string-compared.
var (
	// ErrGatewayUnavailable covers transport failures, timeouts and gateway
	// 5xx responses. Transient: the caller retries, the booking is never
	// mutated because of it.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected covers gateway 4xx responses. The gateway
	// understood the request and refused it; retrying without changing the
	// input will not help.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrSignatureInvalid indicates an inbound notification failed HMAC
	// verification. Fatal for that one event: dropped, never applied.
	ErrSignatureInvalid = errors.New("notification signature invalid")

	// ErrSessionUnknown indicates a finalize call referenced a session id
	// that was never bound to a booking.
	ErrSessionUnknown = errors.New("unknown checkout session")

	// ErrBookingNotFound indicates an operation referenced a booking id
	// that does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBookingNotRetryable indicates a payment retry was requested for a
	// booking in a terminal status.
	ErrBookingNotRetryable = errors.New("booking is not retryable")

	// ErrNotBookingOwner indicates the authenticated caller does not own
	// the booking.
	ErrNotBookingOwner = errors.New("booking belongs to another guest")

	// ErrGatewayNotConfigured indicates checkout credentials are missing.
	ErrGatewayNotConfigured = errors.New("checkout gateway not configured")
)

// PaymentSetupError is returned by Create when the pending booking was
// persisted but the checkout session could not be opened. The booking id is
// the recovery handle: the caller retries payment against it instead of
// submitting the reservation again.
type PaymentSetupError struct {
	BookingID  uuid.UUID
	RetryToken string
	Err        error
}

func (e *PaymentSetupError) Error() string {
	return fmt.Sprintf("booking %s saved but payment setup failed: %v", e.BookingID, e.Err)
}

func (e *PaymentSetupError) Unwrap() error {
	return e.Err
}

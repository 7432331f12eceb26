package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborstay/booking-backend/pkg/validator"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	// BookingStatusPending - booking recorded, payment not yet confirmed
	BookingStatusPending BookingStatus = "pending"

	// BookingStatusConfirmed - payment confirmed by the gateway
	BookingStatusConfirmed BookingStatus = "confirmed"

	// BookingStatusCompleted - stay finished
	BookingStatusCompleted BookingStatus = "completed"

	// BookingStatusCancelled - cancelled before payment completed
	BookingStatusCancelled BookingStatus = "cancelled"

	// BookingStatusPaymentFailed - payment attempt failed; recoverable via retry
	BookingStatusPaymentFailed BookingStatus = "payment_failed"
)

// IsTerminal reports whether no further automatic transition is possible
// for the current payment attempt.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known booking status.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted,
		BookingStatusCancelled, BookingStatusPaymentFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// payment_failed -> pending is the payment retry re-entry; terminal statuses
// allow nothing except confirmed -> completed.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed ||
			next == BookingStatusCancelled ||
			next == BookingStatusPaymentFailed
	case BookingStatusConfirmed:
		return next == BookingStatusCompleted
	case BookingStatusPaymentFailed:
		return next == BookingStatusPending
	}
	return false
}

// RoomSelection describes one room/rate line of a booking. The backend treats
// the contents as opaque catalog descriptors.
type RoomSelection struct {
	RoomType    string  `json:"room_type"`
	RatePlan    string  `json:"rate_plan,omitempty"`
	Quantity    int     `json:"quantity"`
	NightlyRate float64 `json:"nightly_rate,omitempty"`
}

// RoomSelectionList is stored as JSONB
type RoomSelectionList []RoomSelection

// Value implements driver.Valuer for JSONB storage
func (r RoomSelectionList) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]RoomSelection{})
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB retrieval
func (r *RoomSelectionList) Scan(value interface{}) error {
	if value == nil {
		*r = RoomSelectionList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan RoomSelectionList: expected []byte, got %T", value)
	}

	return json.Unmarshal(bytes, r)
}

// Booking is the durable record of a guest's intent to stay, independent of
// whether payment has completed. Rows are never physically deleted;
// cancellation is a status change and user deletion redacts contact fields.
type Booking struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	UserID         *uuid.UUID        `json:"user_id,omitempty" db:"user_id"`
	HotelID        string            `json:"hotel_id" db:"hotel_id"`
	CheckIn        time.Time         `json:"check_in" db:"check_in"`
	CheckOut       time.Time         `json:"check_out" db:"check_out"`
	Adults         int               `json:"adults" db:"adults"`
	Children       int               `json:"children" db:"children"`
	Rooms          RoomSelectionList `json:"rooms" db:"rooms"`
	TotalAmount    float64           `json:"total_amount" db:"total_amount"`
	Currency       string            `json:"currency" db:"currency"`
	GuestName      string            `json:"guest_name" db:"guest_name"`
	ContactEmail   string            `json:"contact_email" db:"contact_email"`
	ContactPhone   *string           `json:"contact_phone,omitempty" db:"contact_phone"`
	SpecialRequest *string           `json:"special_request,omitempty" db:"special_request"`

	Status           BookingStatus `json:"status" db:"status"`
	PaymentReference *string       `json:"payment_reference,omitempty" db:"payment_reference"`
	SessionID        *string       `json:"session_id,omitempty" db:"session_id"`
	RetryToken       *string       `json:"retry_token,omitempty" db:"retry_token"`
	Revision         int64         `json:"revision" db:"revision"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasActiveSession reports whether a checkout session is currently bound.
func (b *Booking) HasActiveSession() bool {
	return b.SessionID != nil && *b.SessionID != ""
}

// CanRetryPayment reports whether a new payment attempt may be started.
// Allowed after a failed attempt, or while pending when session setup
// failed or no session was ever bound.
func (b *Booking) CanRetryPayment() bool {
	if b.Status == BookingStatusPaymentFailed {
		return true
	}
	return b.Status == BookingStatusPending && (b.RetryToken != nil || !b.HasActiveSession())
}

// Nights returns the stay length in nights.
func (b *Booking) Nights() int {
	return int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
}

// ValidationError describes one rejected field of a booking request
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the full rejection list for a request. It implements
// error so services can return it through their normal error path.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// BookingDateFormat is the wire format for stay dates
const BookingDateFormat = "2006-01-02"

// Field ceilings for booking requests
const (
	MaxHotelIDLength        = 100
	MaxGuestNameLength      = 200
	MaxEmailLength          = 254
	MaxSpecialRequestLength = 2000
	MaxRoomSelections       = 10
	MaxOccupants            = 10
	MaxBookingAmount        = 1000000
)

// CreateBookingRequest is the payload for creating a booking. Required-ness
// is checked by Validate rather than binding tags so callers get the full
// field-level rejection list in one pass.
type CreateBookingRequest struct {
	HotelID        string          `json:"hotel_id"`
	CheckIn        string          `json:"check_in"`  // YYYY-MM-DD
	CheckOut       string          `json:"check_out"` // YYYY-MM-DD
	Adults         int             `json:"adults"`
	Children       int             `json:"children"`
	Rooms          []RoomSelection `json:"rooms"`
	TotalAmount    float64         `json:"total_amount"`
	Currency       string          `json:"currency"`
	GuestName      string          `json:"guest_name"`
	ContactEmail   string          `json:"contact_email"`
	ContactPhone   string          `json:"contact_phone,omitempty"`
	SpecialRequest string          `json:"special_request,omitempty"`
}

// StayDates parses the check-in/check-out strings. Returns an error when
// either is missing or not a calendar date.
func (r *CreateBookingRequest) StayDates() (checkIn, checkOut time.Time, err error) {
	checkIn, err = time.Parse(BookingDateFormat, r.CheckIn)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid check_in date: %w", err)
	}

	checkOut, err = time.Parse(BookingDateFormat, r.CheckOut)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid check_out date: %w", err)
	}

	return checkIn, checkOut, nil
}

// Validate checks the request against structural and business rules. Pure and
// deterministic: the reference time is a parameter, nothing is read or
// written, and the same input always yields the same list. An empty list
// means the request is acceptable.
func (r *CreateBookingRequest) Validate(now time.Time) ValidationErrors {
	var errs ValidationErrors

	// Presence and ceilings on identity/contact fields first
	if strings.TrimSpace(r.HotelID) == "" {
		errs = append(errs, ValidationError{Field: "hotel_id", Message: "hotel reference is required"})
	} else if len(r.HotelID) > MaxHotelIDLength {
		errs = append(errs, ValidationError{Field: "hotel_id", Message: fmt.Sprintf("hotel reference must be at most %d characters", MaxHotelIDLength)})
	}

	if strings.TrimSpace(r.GuestName) == "" {
		errs = append(errs, ValidationError{Field: "guest_name", Message: "guest name is required"})
	} else if len(r.GuestName) > MaxGuestNameLength {
		errs = append(errs, ValidationError{Field: "guest_name", Message: fmt.Sprintf("guest name must be at most %d characters", MaxGuestNameLength)})
	}

	if strings.TrimSpace(r.ContactEmail) == "" {
		errs = append(errs, ValidationError{Field: "contact_email", Message: "contact email is required"})
	} else if len(r.ContactEmail) > MaxEmailLength || !validator.IsValidEmail(r.ContactEmail) {
		errs = append(errs, ValidationError{Field: "contact_email", Message: "contact email is not a valid address"})
	}

	if r.ContactPhone != "" {
		if _, err := validator.NormalizePhone(r.ContactPhone); err != nil {
			errs = append(errs, ValidationError{Field: "contact_phone", Message: err.Error()})
		}
	}

	// Date ordering and the not-in-the-past rule. Check-in must be strictly
	// after the current date: same-day bookings are rejected.
	if r.CheckIn == "" {
		errs = append(errs, ValidationError{Field: "check_in", Message: "check-in date is required"})
	}
	if r.CheckOut == "" {
		errs = append(errs, ValidationError{Field: "check_out", Message: "check-out date is required"})
	}
	if r.CheckIn != "" && r.CheckOut != "" {
		checkIn, checkOut, err := r.StayDates()
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: "check_in", Message: "stay dates must use the YYYY-MM-DD format"})
		case !checkOut.After(checkIn):
			errs = append(errs, ValidationError{Field: "check_out", Message: "check-out date must be after check-in date"})
		default:
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			if !checkIn.After(today) {
				errs = append(errs, ValidationError{Field: "check_in", Message: "check-in date must be after today"})
			}
		}
	}

	// Occupancy bounds
	if r.Adults < 1 {
		errs = append(errs, ValidationError{Field: "adults", Message: "at least one adult is required"})
	} else if r.Adults > MaxOccupants {
		errs = append(errs, ValidationError{Field: "adults", Message: fmt.Sprintf("adults must be at most %d", MaxOccupants)})
	}
	if r.Children < 0 {
		errs = append(errs, ValidationError{Field: "children", Message: "children cannot be negative"})
	} else if r.Children > MaxOccupants {
		errs = append(errs, ValidationError{Field: "children", Message: fmt.Sprintf("children must be at most %d", MaxOccupants)})
	}

	// Room selections
	if len(r.Rooms) == 0 {
		errs = append(errs, ValidationError{Field: "rooms", Message: "at least one room selection is required"})
	} else if len(r.Rooms) > MaxRoomSelections {
		errs = append(errs, ValidationError{Field: "rooms", Message: fmt.Sprintf("at most %d room selections are allowed", MaxRoomSelections)})
	} else {
		for i, room := range r.Rooms {
			if strings.TrimSpace(room.RoomType) == "" {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("rooms[%d].room_type", i), Message: "room type is required"})
			}
			if room.Quantity < 1 {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("rooms[%d].quantity", i), Message: "room quantity must be at least 1"})
			}
		}
	}

	// Price and currency
	if r.TotalAmount <= 0 {
		errs = append(errs, ValidationError{Field: "total_amount", Message: "total amount must be positive"})
	} else if r.TotalAmount > MaxBookingAmount {
		errs = append(errs, ValidationError{Field: "total_amount", Message: fmt.Sprintf("total amount must be at most %d", MaxBookingAmount)})
	}
	if !validator.IsValidCurrencyCode(r.Currency) {
		errs = append(errs, ValidationError{Field: "currency", Message: "currency must be a three-letter ISO 4217 code"})
	}

	if len(r.SpecialRequest) > MaxSpecialRequestLength {
		errs = append(errs, ValidationError{Field: "special_request", Message: fmt.Sprintf("special request must be at most %d characters", MaxSpecialRequestLength)})
	}

	return errs
}

// FinalizePaymentRequest is the payload for the client-initiated confirmation
// path. BookingID is an optional cross-check hint; the session mapping
// recorded at checkout creation stays authoritative.
type FinalizePaymentRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	BookingID string `json:"booking_id,omitempty"`
}

// CancelBookingRequest carries an optional cancellation reason
type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/harborstay/booking-backend/internal/models"
)

// bookingColumns is the canonical column list for booking reads
const bookingColumns = `
	id, user_id, hotel_id, check_in, check_out, adults, children, rooms,
	total_amount, currency, guest_name, contact_email, contact_phone,
	special_request, status, payment_reference, session_id, retry_token,
	revision, created_at, updated_at`

// BookingRepository is the durable booking store. It owns the canonical
// lifecycle state: all status changes go through CompareAndSetStatus, and the
// payment_sessions table it maintains is the session→booking idempotency
// index used to converge duplicate confirmation events onto one booking.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new booking row. The caller supplies the id; rows start
// at revision 0 with status pending. Returns ErrDuplicateBookingID when the
// id already exists.
func (r *BookingRepository) Create(booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		return fmt.Errorf("booking id must be set before insert")
	}
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	query := `
		INSERT INTO bookings (
			id, user_id, hotel_id, check_in, check_out, adults, children, rooms,
			total_amount, currency, guest_name, contact_email, contact_phone,
			special_request, status, payment_reference, session_id, retry_token,
			revision, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21
		)`

	_, err := r.db.Exec(query,
		booking.ID, booking.UserID, booking.HotelID, booking.CheckIn, booking.CheckOut,
		booking.Adults, booking.Children, booking.Rooms,
		booking.TotalAmount, booking.Currency, booking.GuestName, booking.ContactEmail,
		booking.ContactPhone, booking.SpecialRequest, booking.Status,
		booking.PaymentReference, booking.SessionID, booking.RetryToken,
		booking.Revision, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateBookingID
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by id. Returns (nil, nil) when absent.
func (r *BookingRepository) GetByID(id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.Get(&booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ListByEmail retrieves all bookings for a contact email, most recent first.
func (r *BookingRepository) ListByEmail(email string) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE contact_email = $1
		ORDER BY created_at DESC`

	if err := r.db.Select(&bookings, query, email); err != nil {
		return nil, fmt.Errorf("failed to list bookings by email: %w", err)
	}
	return bookings, nil
}

// GetBySessionID resolves a checkout session id to its booking through the
// idempotency index. Bindings are append-only, so sessions superseded by a
// payment retry still resolve. Returns (nil, nil) when the session was never
// bound.
func (r *BookingRepository) GetBySessionID(sessionID string) (*models.Booking, error) {
	var bookingID uuid.UUID
	query := `SELECT booking_id FROM payment_sessions WHERE session_id = $1`

	err := r.db.Get(&bookingID, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return r.GetByID(bookingID)
}

// BindPaymentSession records the session→booking mapping and marks the
// session as the booking's active one, clearing any retry token from a
// failed earlier attempt. Binding the same session to the same booking again
// is a no-op; binding it to a different booking fails with
// ErrSessionAlreadyBound.
func (r *BookingRepository) BindPaymentSession(bookingID uuid.UUID, sessionID string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO payment_sessions (session_id, booking_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, bookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind session: %w", err)
	}

	// Re-read the binding: with ON CONFLICT DO NOTHING, a pre-existing row
	// pointing at another booking is only visible here.
	var boundTo uuid.UUID
	if err := tx.Get(&boundTo, `SELECT booking_id FROM payment_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to verify session binding: %w", err)
	}
	if boundTo != bookingID {
		return ErrSessionAlreadyBound
	}

	result, err := tx.Exec(`
		UPDATE bookings
		SET session_id = $2, retry_token = NULL, updated_at = NOW()
		WHERE id = $1`,
		bookingID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set active session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrBookingNotFound
	}

	return tx.Commit()
}

// CompareAndSetStatus atomically advances a booking's status. The guarded
// single-row UPDATE on (id, revision) is the sole serialization point for
// concurrent finalizers: the loser of a race gets ErrStaleRevision, re-reads
// and converges on the winner's outcome. paymentReference, when non-nil, is
// stored with the transition so confirmed rows always carry one.
func (r *BookingRepository) CompareAndSetStatus(
	id uuid.UUID,
	expectedRevision int64,
	newStatus models.BookingStatus,
	paymentReference *string,
) error {
	var current struct {
		Status   models.BookingStatus `db:"status"`
		Revision int64                `db:"revision"`
	}
	err := r.db.Get(&current, `SELECT status, revision FROM bookings WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read booking status: %w", err)
	}

	// Revision first: a mismatch means the caller raced another finalizer
	// and must re-read, regardless of what the current status would allow.
	// Checking the transition first would misreport the race as an invalid
	// transition against the winner's state.
	if current.Revision != expectedRevision {
		return ErrStaleRevision
	}
	if !current.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, newStatus)
	}

	result, err := r.db.Exec(`
		UPDATE bookings
		SET status = $3,
		    payment_reference = COALESCE($4, payment_reference),
		    revision = revision + 1,
		    updated_at = NOW()
		WHERE id = $1 AND revision = $2`,
		id, expectedRevision, newStatus, paymentReference,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStaleRevision
	}
	return nil
}

// RecordRetryToken stores a recovery marker on a booking whose payment
// attempt stalled or failed. The booking id plus this token is the recovery
// handle the guest retries against. Only recoverable statuses accept one.
func (r *BookingRepository) RecordRetryToken(id uuid.UUID, token string) error {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET retry_token = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'payment_failed')`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("failed to record retry token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: booking %s is not in a retryable status", ErrBookingNotFound, id)
	}
	return nil
}

// ListExpiredPending returns pending bookings created before the cutoff,
// oldest first, for the expiry sweep.
func (r *BookingRepository) ListExpiredPending(cutoff time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	if err := r.db.Select(&bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired pending bookings: %w", err)
	}
	return bookings, nil
}

// ListConfirmedEnded returns confirmed bookings whose check-out has passed,
// for the completion sweep.
func (r *BookingRepository) ListConfirmedEnded(asOf time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'confirmed' AND check_out <= $1
		ORDER BY check_out ASC
		LIMIT $2`

	if err := r.db.Select(&bookings, query, asOf, limit); err != nil {
		return nil, fmt.Errorf("failed to list ended stays: %w", err)
	}
	return bookings, nil
}

// RedactContactInfo blanks guest PII on cancelled bookings last touched
// before the cutoff. Rows are never deleted; the stay and money trail stay
// intact for audit.
func (r *BookingRepository) RedactContactInfo(before time.Time) (int64, error) {
	result, err := r.db.Exec(`
		UPDATE bookings
		SET guest_name = '[redacted]',
		    contact_email = '',
		    contact_phone = NULL,
		    special_request = NULL,
		    updated_at = NOW()
		WHERE status = 'cancelled'
		  AND updated_at < $1
		  AND contact_email <> ''`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to redact bookings: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

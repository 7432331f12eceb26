package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/database"
	"github.com/harborstay/booking-backend/internal/models"
	"github.com/harborstay/booking-backend/pkg/metrics"
	"github.com/harborstay/booking-backend/pkg/validator"
)

// BookingStore is the durable booking state the orchestrator drives. All
// status changes go through CompareAndSetStatus.
type BookingStore interface {
	Create(booking *models.Booking) error
	GetByID(id uuid.UUID) (*models.Booking, error)
	ListByEmail(email string) ([]models.Booking, error)
	GetBySessionID(sessionID string) (*models.Booking, error)
	BindPaymentSession(bookingID uuid.UUID, sessionID string) error
	CompareAndSetStatus(id uuid.UUID, expectedRevision int64, newStatus models.BookingStatus, paymentReference *string) error
	RecordRetryToken(id uuid.UUID, token string) error
	ListExpiredPending(cutoff time.Time, limit int) ([]models.Booking, error)
	ListConfirmedEnded(asOf time.Time, limit int) ([]models.Booking, error)
}

// AuditStore receives the append-only payment event trail
type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// CheckoutGateway is the payment provider adapter
type CheckoutGateway interface {
	CreateSession(ctx context.Context, params *CreateSessionParams) (*SessionHandle, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	VerifyNotification(payload []byte, signatureHeader string) (*WebhookEvent, error)
	IsConfigured() bool
}

// SessionCache holds short-lived gateway session snapshots so concurrent
// confirmation attempts don't each hit the gateway. Optional: nil disables it.
type SessionCache interface {
	GetSnapshot(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	SetSnapshot(ctx context.Context, sessionID string, snap *SessionSnapshot) error
	Invalidate(ctx context.Context, sessionID string) error
}

// EventPublisher emits booking lifecycle events to downstream consumers.
// Optional: nil disables publishing.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, booking *models.Booking) error
}

var _ BookingStore = (*database.BookingRepository)(nil)
var _ AuditStore = (*database.PaymentAuditRepository)(nil)
var _ CheckoutGateway = (*CheckoutService)(nil)

// Actor identifies who triggered an operation. Zero value means an
// unauthenticated guest.
type Actor struct {
	UserID *uuid.UUID
	Email  string
	Role   string
}

// ClientMeta carries request metadata into the audit trail
type ClientMeta struct {
	IP         string
	UserAgent  string
	DeviceType string
}

// CreateBookingResult is returned when a booking and its checkout session
// were both set up.
type CreateBookingResult struct {
	BookingID   uuid.UUID `json:"booking_id"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
}

// FinalizeResult reports the booking's state after a confirmation attempt.
// Settled means payment is confirmed (whether by this call or an earlier
// one); AlreadyFinal means this call found the work already done and wrote
// nothing.
type FinalizeResult struct {
	BookingID        uuid.UUID            `json:"booking_id"`
	Status           models.BookingStatus `json:"status"`
	PaymentReference *string              `json:"payment_reference,omitempty"`
	Settled          bool                 `json:"settled"`
	AlreadyFinal     bool                 `json:"-"`
}

// NotificationOutcome reports how an inbound gateway notification was handled
type NotificationOutcome struct {
	EventType string
	Handled   bool
	Finalize  *FinalizeResult
}

// BookingServiceConfig holds the orchestrator's tunables
type BookingServiceConfig struct {
	DefaultCurrency string
	PendingTTL      time.Duration
	SweepBatchSize  int
}

// DefaultBookingServiceConfig returns production defaults.
func DefaultBookingServiceConfig() BookingServiceConfig {
	return BookingServiceConfig{
		DefaultCurrency: "SGD",
		PendingTTL:      24 * time.Hour,
		SweepBatchSize:  100,
	}
}

// BookingService orchestrates the booking lifecycle: it validates requests,
// drives status transitions through the store's compare-and-set, and funnels
// both confirmation channels (webhook and client poll) into one Finalize
// path. It holds no state of its own; every decision is re-derived from the
// store and the gateway, which is what makes duplicate and concurrent
// confirmations converge.
type BookingService struct {
	store     BookingStore
	audits    AuditStore
	gateway   CheckoutGateway
	cache     SessionCache
	publisher EventPublisher
	metrics   *metrics.Metrics
	config    BookingServiceConfig
	logger    *logrus.Logger
}

// NewBookingService creates a new booking orchestrator. cache, publisher and
// metrics may be nil.
func NewBookingService(
	store BookingStore,
	audits AuditStore,
	gateway CheckoutGateway,
	cache SessionCache,
	publisher EventPublisher,
	m *metrics.Metrics,
	config BookingServiceConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		audits:    audits,
		gateway:   gateway,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

// Create validates a booking request, persists the pending booking, and opens
// a checkout session for it. When the gateway call fails the pending booking
// is kept and a *PaymentSetupError carrying the booking id is returned: the
// guest retries payment against that id instead of re-submitting the
// reservation.
func (s *BookingService) Create(ctx context.Context, req *models.CreateBookingRequest, actor Actor, meta *ClientMeta) (*CreateBookingResult, error) {
	if req.Currency == "" {
		req.Currency = s.config.DefaultCurrency
	}
	if errs := req.Validate(time.Now()); len(errs) > 0 {
		return nil, errs
	}

	checkIn, checkOut, err := req.StayDates()
	if err != nil {
		return nil, models.ValidationErrors{{Field: "check_in", Message: err.Error()}}
	}

	booking := &models.Booking{
		ID:           uuid.New(),
		UserID:       actor.UserID,
		HotelID:      req.HotelID,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		Adults:       req.Adults,
		Children:     req.Children,
		Rooms:        req.Rooms,
		TotalAmount:  req.TotalAmount,
		Currency:     req.Currency,
		GuestName:    req.GuestName,
		ContactEmail: req.ContactEmail,
		Status:       models.BookingStatusPending,
		Revision:     0,
	}
	if actor.Email != "" {
		booking.ContactEmail = actor.Email
	}
	if req.ContactPhone != "" {
		normalized, err := validator.NormalizePhone(req.ContactPhone)
		if err == nil {
			booking.ContactPhone = &normalized
		}
	}
	if req.SpecialRequest != "" {
		booking.SpecialRequest = &req.SpecialRequest
	}

	if err := s.store.Create(booking); err != nil {
		if errors.Is(err, database.ErrDuplicateBookingID) {
			// Freshly generated UUIDs should never collide. If this fires
			// something is wrong with id generation or the store.
			s.logger.WithField("booking_id", booking.ID).Error("Duplicate booking id on insert")
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"hotel_id":   booking.HotelID,
		"amount":     booking.TotalAmount,
		"currency":   booking.Currency,
	}).Info("Booking created")
	if s.metrics != nil {
		s.metrics.BookingsCreated.Inc()
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCreated, models.PaymentSourceAPI).
		SetBooking(booking.ID).
		SetDetails(map[string]interface{}{
			"hotel_id": booking.HotelID,
			"amount":   booking.TotalAmount,
			"currency": booking.Currency,
		}), meta)

	return s.openSession(ctx, booking, meta)
}

// openSession opens and binds a checkout session for a pending booking.
// Shared by Create and RetryPayment.
func (s *BookingService) openSession(ctx context.Context, booking *models.Booking, meta *ClientMeta) (*CreateBookingResult, error) {
	handle, err := s.gateway.CreateSession(ctx, &CreateSessionParams{
		BookingID:     booking.ID.String(),
		Amount:        booking.TotalAmount,
		Currency:      booking.Currency,
		Description:   fmt.Sprintf("Hotel %s, %d night stay", booking.HotelID, booking.Nights()),
		CustomerEmail: booking.ContactEmail,
	})
	if err != nil {
		token := "retry-" + time.Now().UTC().Format(time.RFC3339)
		if tokenErr := s.store.RecordRetryToken(booking.ID, token); tokenErr != nil {
			s.logger.WithError(tokenErr).WithField("booking_id", booking.ID).Error("Failed to record retry token")
		}

		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Checkout session setup failed; booking kept pending")
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventSessionCreateFailed, models.PaymentSourceAPI).
			SetBooking(booking.ID).
			SetError(err), meta)

		return nil, &PaymentSetupError{BookingID: booking.ID, RetryToken: token, Err: err}
	}

	if err := s.store.BindPaymentSession(booking.ID, handle.ID); err != nil {
		return nil, fmt.Errorf("failed to bind checkout session: %w", err)
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventSessionCreated, models.PaymentSourceAPI).
		SetBooking(booking.ID).
		SetSession(handle.ID), meta)

	s.publish(ctx, "booking.created", booking)

	return &CreateBookingResult{
		BookingID:   booking.ID,
		SessionID:   handle.ID,
		RedirectURL: handle.RedirectURL,
	}, nil
}

// Finalize drives a booking to its settled state from a checkout session id.
// Both confirmation channels call it, any number of times, in any order: the
// session→booking mapping recorded at checkout creation resolves the target,
// terminal bookings are returned unchanged without touching the gateway, and
// the store's compare-and-set arbitrates concurrent attempts.
func (s *BookingService) Finalize(ctx context.Context, sessionID, bookingIDHint string, source models.PaymentEventSource, meta *ClientMeta) (*FinalizeResult, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	booking, err := s.store.GetBySessionID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, sessionID)
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"session_id": sessionID,
		"source":     source,
	})

	// A caller-supplied booking id is a cross-check only. When it disagrees
	// the recorded mapping wins; the mismatch is kept on the audit trail.
	if bookingIDHint != "" && bookingIDHint != booking.ID.String() {
		log.WithField("hint", bookingIDHint).Warn("Booking id hint disagrees with session mapping")
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventHintMismatch, source).
			SetBooking(booking.ID).
			SetSession(sessionID).
			SetDetails(map[string]interface{}{"hint": bookingIDHint}), meta)
	}

	// Idempotent fast path: a terminal booking is reported as-is. No gateway
	// call, no write.
	if booking.Status.IsTerminal() {
		log.WithField("status", booking.Status).Info("Finalize found booking already settled")
		if s.metrics != nil {
			s.metrics.DuplicateFinalizes.Inc()
		}
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventStatusChecked, source).
			SetBooking(booking.ID).
			SetSession(sessionID).
			SetPaymentStatus(string(booking.Status)).
			MarkAsDuplicate(), meta)
		return s.resultFor(booking, true), nil
	}

	snap, err := s.sessionSnapshot(ctx, sessionID)
	if err != nil {
		// Gateway truth is unreachable. Nothing is written; the caller
		// retries and the booking stays exactly where it was.
		return nil, err
	}

	switch {
	case snap.IsPaid():
		return s.confirm(ctx, booking, snap, source, meta)

	case snap.IsClosed():
		// The gateway explicitly closed the session unpaid. This is a
		// recoverable dead end: the guest can retry payment.
		return s.failPayment(ctx, booking, snap, source, meta)

	default:
		// Session still open and unpaid. Report and leave the booking alone.
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventStatusChecked, source).
			SetBooking(booking.ID).
			SetSession(sessionID).
			SetPaymentStatus(snap.PaymentStatus), meta)
		return &FinalizeResult{
			BookingID:        booking.ID,
			Status:           booking.Status,
			PaymentReference: booking.PaymentReference,
			Settled:          false,
		}, nil
	}
}

// sessionSnapshot returns the gateway's view of a session, via the cache when
// one is wired. Cache errors degrade to a gateway call.
func (s *BookingService) sessionSnapshot(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	if s.cache != nil {
		if snap, err := s.cache.GetSnapshot(ctx, sessionID); err == nil && snap != nil {
			return snap, nil
		}
	}

	snap, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, sessionID, snap); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Debug("Failed to cache session snapshot")
		}
	}
	return snap, nil
}

// invalidateSnapshot drops the cached snapshot after a status transition so
// the next read for the session sees gateway truth, not the pre-transition
// state. Best effort: the short TTL bounds the damage if the delete fails.
func (s *BookingService) invalidateSnapshot(ctx context.Context, sessionID string) {
	if s.cache == nil || sessionID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Debug("Failed to invalidate session snapshot")
	}
}

// confirm moves a paid booking to confirmed. The compare-and-set is retried
// once after a stale revision; if the re-read shows another finalizer already
// reached a terminal state, that outcome is returned as-is.
func (s *BookingService) confirm(ctx context.Context, booking *models.Booking, snap *SessionSnapshot, source models.PaymentEventSource, meta *ClientMeta) (*FinalizeResult, error) {
	paymentRef := &snap.PaymentID

	fresh, alreadyFinal, err := s.casOnceRetried(booking, models.BookingStatusConfirmed, paymentRef)
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		if s.metrics != nil {
			s.metrics.DuplicateFinalizes.Inc()
		}
		return s.resultFor(fresh, true), nil
	}
	s.invalidateSnapshot(ctx, snap.SessionID)

	audit := models.NewPaymentAudit(models.PaymentEventPaymentConfirmed, source).
		SetBooking(booking.ID).
		SetSession(snap.SessionID).
		SetGatewayPayment(snap.PaymentID).
		SetPaymentStatus(snap.PaymentStatus)
	if !audit.SetAmounts(booking.TotalAmount, snap.AmountTotal, snap.Currency) {
		// Recorded for operator review; a mismatch alone never blocks the
		// confirmation the gateway has already settled.
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"expected":   booking.TotalAmount,
			"received":   snap.AmountTotal,
		}).Warn("Confirmed payment amount disagrees with booking amount")
		if s.metrics != nil {
			s.metrics.AmountMismatches.Inc()
		}
	}
	s.audit(ctx, audit, meta)

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"session_id": snap.SessionID,
		"payment_id": snap.PaymentID,
		"source":     source,
	}).Info("Booking confirmed")
	if s.metrics != nil {
		s.metrics.BookingsConfirmed.Inc()
	}
	s.publish(ctx, "booking.confirmed", fresh)

	return s.resultFor(fresh, false), nil
}

// failPayment moves a booking whose session the gateway closed unpaid to
// payment_failed and stamps a fresh retry token.
func (s *BookingService) failPayment(ctx context.Context, booking *models.Booking, snap *SessionSnapshot, source models.PaymentEventSource, meta *ClientMeta) (*FinalizeResult, error) {
	fresh, alreadyFinal, err := s.casOnceRetried(booking, models.BookingStatusPaymentFailed, nil)
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		return s.resultFor(fresh, true), nil
	}
	s.invalidateSnapshot(ctx, snap.SessionID)

	token := "retry-" + time.Now().UTC().Format(time.RFC3339)
	if err := s.store.RecordRetryToken(fresh.ID, token); err != nil {
		s.logger.WithError(err).WithField("booking_id", fresh.ID).Debug("Could not stamp retry token on failed booking")
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventPaymentFailed, source).
		SetBooking(booking.ID).
		SetSession(snap.SessionID).
		SetPaymentStatus(snap.Status), meta)

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"session_id":     snap.SessionID,
		"session_status": snap.Status,
	}).Info("Payment attempt failed; booking is retryable")
	if s.metrics != nil {
		s.metrics.PaymentFailures.Inc()
	}
	s.publish(ctx, "booking.payment_failed", fresh)

	return s.resultFor(fresh, false), nil
}

// casOnceRetried performs the status transition with a single retry after a
// stale revision. Returns the fresh booking, and whether the re-read showed
// a race winner had already finished the work.
func (s *BookingService) casOnceRetried(booking *models.Booking, next models.BookingStatus, paymentRef *string) (*models.Booking, bool, error) {
	err := s.store.CompareAndSetStatus(booking.ID, booking.Revision, next, paymentRef)
	if err == nil {
		return s.reread(booking, next, paymentRef)
	}
	if !errors.Is(err, database.ErrStaleRevision) {
		return nil, false, err
	}

	// Lost the race. Re-read: if the winner finished the job there is
	// nothing left to do; otherwise retry against the new revision once.
	fresh, rerr := s.store.GetByID(booking.ID)
	if rerr != nil {
		return nil, false, fmt.Errorf("failed to re-read booking after stale revision: %w", rerr)
	}
	if fresh == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrBookingNotFound, booking.ID)
	}
	if fresh.Status.IsTerminal() {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"status":     fresh.Status,
		}).Info("Concurrent finalizer already settled booking")
		return fresh, true, nil
	}

	if err := s.store.CompareAndSetStatus(fresh.ID, fresh.Revision, next, paymentRef); err != nil {
		return nil, false, err
	}
	return s.reread(fresh, next, paymentRef)
}

// reread fetches the booking after a successful transition. If the read
// fails the transition still happened, so the result is reconstructed from
// what was written.
func (s *BookingService) reread(applied *models.Booking, next models.BookingStatus, paymentRef *string) (*models.Booking, bool, error) {
	fresh, err := s.store.GetByID(applied.ID)
	if err == nil && fresh != nil {
		return fresh, false, nil
	}

	updated := *applied
	updated.Status = next
	updated.Revision++
	if paymentRef != nil {
		updated.PaymentReference = paymentRef
	}
	return &updated, false, nil
}

func (s *BookingService) resultFor(booking *models.Booking, alreadyFinal bool) *FinalizeResult {
	return &FinalizeResult{
		BookingID:        booking.ID,
		Status:           booking.Status,
		PaymentReference: booking.PaymentReference,
		Settled:          booking.Status == models.BookingStatusConfirmed || booking.Status == models.BookingStatusCompleted,
		AlreadyFinal:     alreadyFinal,
	}
}

// RetryPayment opens a fresh checkout session for a booking whose previous
// payment attempt failed or whose session setup never completed. The booking
// id stays the same; only the session correlation is new.
func (s *BookingService) RetryPayment(ctx context.Context, bookingID uuid.UUID, actor Actor, meta *ClientMeta) (*CreateBookingResult, error) {
	booking, err := s.store.GetByID(bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if err := s.checkOwnership(booking, actor); err != nil {
		return nil, err
	}
	if !booking.CanRetryPayment() {
		return nil, fmt.Errorf("%w: booking is %s", ErrBookingNotRetryable, booking.Status)
	}

	// A failed attempt re-enters pending before the new session opens.
	if booking.Status == models.BookingStatusPaymentFailed {
		if err := s.store.CompareAndSetStatus(booking.ID, booking.Revision, models.BookingStatusPending, nil); err != nil {
			if errors.Is(err, database.ErrStaleRevision) || errors.Is(err, database.ErrInvalidTransition) {
				return nil, fmt.Errorf("%w: booking changed concurrently", ErrBookingNotRetryable)
			}
			return nil, err
		}
		fresh, err := s.store.GetByID(booking.ID)
		if err != nil || fresh == nil {
			return nil, fmt.Errorf("failed to re-read booking after retry re-entry: %w", err)
		}
		booking = fresh
	}

	s.logger.WithField("booking_id", booking.ID).Info("Opening fresh checkout session for payment retry")
	return s.openSession(ctx, booking, meta)
}

// Cancel cancels a pending booking. Cancelling an already cancelled booking
// is an idempotent no-op; other terminal statuses refuse.
func (s *BookingService) Cancel(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string, meta *ClientMeta) error {
	booking, err := s.store.GetByID(bookingID)
	if err != nil {
		return fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	if err := s.checkOwnership(booking, actor); err != nil {
		return err
	}
	if booking.Status == models.BookingStatusCancelled {
		return nil
	}

	fresh, alreadyFinal, err := s.casOnceRetried(booking, models.BookingStatusCancelled, nil)
	if err != nil {
		return err
	}
	if alreadyFinal && fresh.Status != models.BookingStatusCancelled {
		return fmt.Errorf("%w: %s -> cancelled", database.ErrInvalidTransition, fresh.Status)
	}

	details := map[string]interface{}{}
	if reason != "" {
		details["reason"] = reason
	}
	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCancelled, models.PaymentSourceAPI).
		SetBooking(booking.ID).
		SetDetails(details), meta)

	s.logger.WithField("booking_id", booking.ID).Info("Booking cancelled")
	if s.metrics != nil {
		s.metrics.BookingsCancelled.Inc()
	}
	s.publish(ctx, "booking.cancelled", fresh)
	return nil
}

// CompleteFinishedStays moves confirmed bookings whose check-out has passed
// to completed. Scheduler entry point; returns the number completed.
func (s *BookingService) CompleteFinishedStays(ctx context.Context, asOf time.Time) (int, error) {
	bookings, err := s.store.ListConfirmedEnded(asOf, s.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list ended stays: %w", err)
	}

	completed := 0
	for i := range bookings {
		b := &bookings[i]
		if err := s.store.CompareAndSetStatus(b.ID, b.Revision, models.BookingStatusCompleted, nil); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to complete finished stay")
			continue
		}
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCompleted, models.PaymentSourceScheduler).
			SetBooking(b.ID), nil)
		b.Status = models.BookingStatusCompleted
		b.Revision++
		s.publish(ctx, "booking.completed", b)
		completed++
	}

	if completed > 0 {
		s.logger.WithField("count", completed).Info("Completed finished stays")
	}
	return completed, nil
}

// CompleteBooking marks one confirmed booking completed, regardless of its
// check-out date. Operator entry point for early departures and corrections.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID uuid.UUID, meta *ClientMeta) error {
	booking, err := s.store.GetByID(bookingID)
	if err != nil {
		return fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}

	fresh, alreadyFinal, err := s.casOnceRetried(booking, models.BookingStatusCompleted, nil)
	if err != nil {
		return err
	}
	if alreadyFinal {
		return nil
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCompleted, models.PaymentSourceAPI).
		SetBooking(booking.ID), meta)
	s.publish(ctx, "booking.completed", fresh)
	s.logger.WithField("booking_id", booking.ID).Info("Booking completed manually")
	return nil
}

// ExpirePending sweeps pending bookings older than the cutoff. A booking with
// a bound session gets one authoritative gateway check first: a payment that
// settled without a notification reaching us is confirmed, not expired.
func (s *BookingService) ExpirePending(ctx context.Context, olderThan time.Time) (int, error) {
	bookings, err := s.store.ListExpiredPending(olderThan, s.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired pending bookings: %w", err)
	}

	expired := 0
	for i := range bookings {
		b := &bookings[i]
		log := s.logger.WithField("booking_id", b.ID)

		if b.HasActiveSession() {
			res, err := s.Finalize(ctx, *b.SessionID, "", models.PaymentSourceScheduler, nil)
			if err != nil {
				// Gateway unreachable or mapping odd: leave it for the next
				// sweep rather than expiring a possibly paid booking.
				log.WithError(err).Warn("Skipping expiry; could not verify session with gateway")
				continue
			}
			if res.Settled || res.Status != models.BookingStatusPending {
				continue
			}
		}

		token := "retry-" + time.Now().UTC().Format(time.RFC3339)
		if err := s.store.CompareAndSetStatus(b.ID, b.Revision, models.BookingStatusPaymentFailed, nil); err != nil {
			log.WithError(err).Warn("Failed to expire pending booking")
			continue
		}
		if err := s.store.RecordRetryToken(b.ID, token); err != nil {
			log.WithError(err).Debug("Could not stamp retry token on expired booking")
		}

		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingExpired, models.PaymentSourceScheduler).
			SetBooking(b.ID), nil)
		if s.metrics != nil {
			s.metrics.BookingsExpired.Inc()
		}
		expired++
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired stale pending bookings")
	}
	return expired, nil
}

// HandleNotification verifies and dispatches an inbound gateway notification.
// Session lifecycle events funnel into Finalize; anything else is
// acknowledged and ignored so the gateway stops retrying it.
func (s *BookingService) HandleNotification(ctx context.Context, payload []byte, signatureHeader string, meta *ClientMeta) (*NotificationOutcome, error) {
	event, err := s.gateway.VerifyNotification(payload, signatureHeader)
	if err != nil {
		s.logger.WithError(err).Warn("Rejected gateway notification")
		if s.metrics != nil {
			s.metrics.CountWebhook("rejected")
		}
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventSignatureRejected, models.PaymentSourceWebhook).
			SetRawBody(payload).
			SetError(err), meta)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CountWebhook("verified")
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		res, err := s.Finalize(ctx, event.SessionID, event.BookingID, models.PaymentSourceWebhook, meta)
		if err != nil {
			return nil, err
		}
		return &NotificationOutcome{EventType: event.Type, Handled: true, Finalize: res}, nil

	default:
		s.logger.WithField("event_type", event.Type).Debug("Ignoring unhandled notification type")
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).
			SetSession(event.SessionID).
			SetDetails(map[string]interface{}{"event_type": event.Type, "ignored": true}), meta)
		return &NotificationOutcome{EventType: event.Type, Handled: false}, nil
	}
}

// GetBooking retrieves one booking. Returns (nil, nil) when absent; the
// handler turns that into a 404.
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID, actor Actor) (*models.Booking, error) {
	booking, err := s.store.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, nil
	}
	if err := s.checkOwnership(booking, actor); err != nil {
		return nil, err
	}
	return booking, nil
}

// ListBookings retrieves all bookings for a contact email, most recent first.
func (s *BookingService) ListBookings(ctx context.Context, email string) ([]models.Booking, error) {
	return s.store.ListByEmail(email)
}

// checkOwnership refuses access when the booking belongs to a different
// registered user. Admins and bookings without a user association pass.
func (s *BookingService) checkOwnership(booking *models.Booking, actor Actor) error {
	if actor.Role == "admin" {
		return nil
	}
	if booking.UserID == nil || actor.UserID == nil {
		return nil
	}
	if *booking.UserID != *actor.UserID {
		return fmt.Errorf("%w: %s", ErrNotBookingOwner, booking.ID)
	}
	return nil
}

// audit writes a trail entry best-effort. The trail never blocks the money
// path; failures are logged and dropped.
func (s *BookingService) audit(ctx context.Context, entry *models.PaymentAudit, meta *ClientMeta) {
	if s.audits == nil {
		return
	}
	if meta != nil {
		entry.SetClient(meta.IP, meta.UserAgent, meta.DeviceType)
	}
	if err := s.audits.Log(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("event_type", entry.EventType).Error("Failed to write audit entry")
	}
}

// publish emits a lifecycle event best-effort.
func (s *BookingService) publish(ctx context.Context, eventType string, booking *models.Booking) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBookingEvent(ctx, eventType, booking); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"booking_id": booking.ID,
		}).Warn("Failed to publish booking event")
	}
}

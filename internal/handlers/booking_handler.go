package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/database"
	"github.com/harborstay/booking-backend/internal/middleware"
	"github.com/harborstay/booking-backend/internal/models"
	"github.com/harborstay/booking-backend/internal/services"
)

// BookingHandler handles the booking lifecycle endpoints
type BookingHandler struct {
	bookingService *services.BookingService
	rateLimiter    *services.RateLimitService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	bookingService *services.BookingService,
	rateLimiter *services.RateLimitService,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		rateLimiter:    rateLimiter,
		logger:         logger,
	}
}

func actorFrom(c *gin.Context) services.Actor {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		return services.Actor{}
	}
	return services.Actor{
		UserID: &userCtx.UserID,
		Email:  userCtx.Email,
		Role:   userCtx.Role,
	}
}

// CreateBooking creates a booking and opens its checkout session
// @Summary Create a booking
// @Description Records the reservation and returns the checkout redirect URL
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} services.CreateBookingResult
// @Failure 400 {object} map[string]interface{} "Validation errors"
// @Failure 502 {object} map[string]interface{} "Booking saved but payment setup failed"
// @Router /bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.bookingService.Create(c.Request.Context(), &req, actorFrom(c), clientMeta(c))
	if err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": verrs})
			return
		}

		var setupErr *services.PaymentSetupError
		if errors.As(err, &setupErr) {
			// The reservation is saved; only checkout setup failed. The
			// booking id is the recovery handle for a payment retry.
			c.JSON(http.StatusBadGateway, gin.H{
				"booking_id":  setupErr.BookingID,
				"retry_token": setupErr.RetryToken,
				"error":       "payment session could not be created",
				"retryable":   true,
			})
			return
		}

		h.logger.WithError(err).Error("Failed to create booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create booking"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"booking_id":   result.BookingID,
		"session_id":   result.SessionID,
		"redirect_url": result.RedirectURL,
		"status":       models.BookingStatusPending,
	})
}

// GetBooking retrieves one booking
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	booking, err := h.bookingService.GetBooking(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		if errors.Is(err, services.ErrNotBookingOwner) {
			c.JSON(http.StatusForbidden, gin.H{"error": "booking belongs to another guest"})
			return
		}
		h.logger.WithError(err).Error("Failed to get booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get booking"})
		return
	}
	if booking == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListBookings retrieves the caller's bookings
// @Summary List my bookings
// @Tags Bookings
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Success 200 {object} map[string]interface{}
// @Router /bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	bookings, err := h.bookingService.ListBookings(c.Request.Context(), actor.Email)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bookings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// RetryPayment opens a fresh checkout session for a failed payment
// @Summary Retry payment for a booking
// @Tags Bookings
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Booking ID"
// @Success 200 {object} services.CreateBookingResult
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Booking is not retryable"
// @Failure 429 {object} map[string]interface{} "Too many attempts"
// @Router /bookings/{id}/payment/retry [post]
func (h *BookingHandler) RetryPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	if err := h.rateLimiter.Allow("retry:" + id.String()); err != nil {
		var rlErr *services.RateLimitError
		if errors.As(err, &rlErr) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many payment attempts",
				"retry_after": rlErr.RetryAfter,
			})
			return
		}
	}

	result, err := h.bookingService.RetryPayment(c.Request.Context(), id, actorFrom(c), clientMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, services.ErrNotBookingOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "booking belongs to another guest"})
		case errors.Is(err, services.ErrBookingNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			var setupErr *services.PaymentSetupError
			if errors.As(err, &setupErr) {
				c.JSON(http.StatusBadGateway, gin.H{
					"booking_id":  setupErr.BookingID,
					"retry_token": setupErr.RetryToken,
					"error":       "payment session could not be created",
					"retryable":   true,
				})
				return
			}
			h.logger.WithError(err).Error("Failed to retry payment")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry payment"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id":   result.BookingID,
		"session_id":   result.SessionID,
		"redirect_url": result.RedirectURL,
	})
}

// CancelBooking cancels a pending booking
// @Summary Cancel a booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Booking ID"
// @Param request body models.CancelBookingRequest false "Cancellation reason"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Booking cannot be cancelled"
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	var req models.CancelBookingRequest
	_ = c.ShouldBindJSON(&req)

	err = h.bookingService.Cancel(c.Request.Context(), id, actorFrom(c), req.Reason, clientMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, services.ErrNotBookingOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "booking belongs to another guest"})
		case errors.Is(err, database.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "booking can no longer be cancelled"})
		default:
			h.logger.WithError(err).Error("Failed to cancel booking")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel booking"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": id,
		"status":     models.BookingStatusCancelled,
	})
}

// CompleteBooking marks a confirmed booking completed (admin only)
// @Summary Complete a booking manually
// @Tags Admin
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Booking is not confirmed"
// @Router /admin/bookings/{id}/complete [post]
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	err = h.bookingService.CompleteBooking(c.Request.Context(), id, clientMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, database.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "only confirmed bookings can be completed"})
		default:
			h.logger.WithError(err).Error("Failed to complete booking")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to complete booking"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": id,
		"status":     models.BookingStatusCompleted,
	})
}

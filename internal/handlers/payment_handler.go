package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/models"
	"github.com/harborstay/booking-backend/internal/services"
)

// AuditReader exposes the payment trail for the operator endpoints
type AuditReader interface {
	ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]*models.PaymentAudit, error)
	ListAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// PaymentHandler handles the two payment confirmation channels: the gateway
// webhook and the client-initiated confirm poll. Both funnel into the same
// finalize path, so their handlers only differ in authentication and
// response codes.
type PaymentHandler struct {
	bookingService *services.BookingService
	rateLimiter    *services.RateLimitService
	audits         AuditReader
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	bookingService *services.BookingService,
	rateLimiter *services.RateLimitService,
	audits AuditReader,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		bookingService: bookingService,
		rateLimiter:    rateLimiter,
		audits:         audits,
		logger:         logger,
	}
}

// Webhook handles gateway payment notifications
// @Summary Payment gateway webhook
// @Description Called by the checkout gateway to notify of session lifecycle events
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Checkout-Signature header string true "HMAC signature over the raw body"
// @Success 200 {object} map[string]interface{} "Notification processed or ignored"
// @Failure 400 {object} map[string]interface{} "Signature verification failed"
// @Failure 503 {object} map[string]interface{} "Gateway re-poll required but unavailable"
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	signature := c.GetHeader("X-Checkout-Signature")
	outcome, err := h.bookingService.HandleNotification(c.Request.Context(), body, signature, clientMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSignatureInvalid):
			// 400 tells the gateway the delivery itself was bad; its retry
			// policy takes over.
			c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		case errors.Is(err, services.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway unavailable", "retryable": true})
		case errors.Is(err, services.ErrSessionUnknown):
			// Unknown sessions happen for events about checkouts this
			// deployment never created. Acknowledge so the gateway stops
			// retrying.
			h.logger.Warn("Webhook referenced an unknown checkout session")
			c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "note": "unknown session"})
		default:
			// Processing failed after a valid signature. A retry of the same
			// delivery will hit the same error, so acknowledge; the client
			// confirm channel and the expiry sweep still converge the
			// booking.
			h.logger.WithError(err).Error("Webhook processing failed")
			c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "error": "processing failed"})
		}
		return
	}

	if !outcome.Handled {
		c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "event_type": outcome.EventType})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "processed",
		"event_type": outcome.EventType,
		"booking_id": outcome.Finalize.BookingID,
		"status":     outcome.Finalize.Status,
	})
}

// ConfirmPayment is the client-initiated confirmation poll
// @Summary Confirm payment after checkout redirect
// @Description Verifies the session with the gateway and finalizes the booking
// @Tags Payments
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.FinalizePaymentRequest true "Session to confirm"
// @Success 200 {object} services.FinalizeResult
// @Failure 404 {object} map[string]interface{} "Unknown session"
// @Failure 429 {object} map[string]interface{} "Too many attempts"
// @Failure 503 {object} map[string]interface{} "Gateway unavailable"
// @Router /payments/confirm [post]
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	var req models.FinalizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.rateLimiter.Allow("confirm:" + req.SessionID); err != nil {
		var rlErr *services.RateLimitError
		if errors.As(err, &rlErr) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many confirmation attempts",
				"retry_after": rlErr.RetryAfter,
			})
			return
		}
	}

	result, err := h.bookingService.Finalize(c.Request.Context(), req.SessionID, req.BookingID, models.PaymentSourceClient, clientMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionUnknown):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown checkout session"})
		case errors.Is(err, services.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway unavailable", "retryable": true})
		default:
			h.logger.WithError(err).Error("Failed to confirm payment")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm payment"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id":        result.BookingID,
		"status":            result.Status,
		"payment_reference": result.PaymentReference,
		"settled":           result.Settled,
	})
}

// GetAuditTrail returns the payment event trail for a booking (admin only)
// @Summary Get a booking's payment audit trail
// @Tags Admin
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Router /bookings/{id}/audit [get]
func (h *PaymentHandler) GetAuditTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	entries, err := h.audits.ListByBookingID(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": id,
		"events":     entries,
	})
}

// GetSessionAuditTrail returns the payment trail for a checkout session
// (admin only). Useful when a gateway support ticket only carries the
// session id.
// @Summary Get a checkout session's payment audit trail
// @Tags Admin
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param session_id path string true "Checkout session ID"
// @Success 200 {object} map[string]interface{}
// @Router /admin/payments/sessions/{session_id}/audit [get]
func (h *PaymentHandler) GetSessionAuditTrail(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}

	entries, err := h.audits.ListBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list session audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     entries,
	})
}

// ListAmountMismatches returns recent confirmations whose settled amount
// disagreed with the booking amount (admin only)
// @Summary List amount mismatch audit entries
// @Tags Admin
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param limit query int false "Maximum entries to return" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /admin/payments/amount-mismatches [get]
func (h *PaymentHandler) ListAmountMismatches(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	entries, err := h.audits.ListAmountMismatches(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list amount mismatches")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list amount mismatches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

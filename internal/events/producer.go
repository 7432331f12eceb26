package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/models"
	"github.com/harborstay/booking-backend/internal/services"
)

// BookingEvent is the wire shape published for booking lifecycle changes
type BookingEvent struct {
	EventType  string               `json:"event_type"`
	BookingID  string               `json:"booking_id"`
	HotelID    string               `json:"hotel_id"`
	Status     models.BookingStatus `json:"status"`
	Amount     float64              `json:"amount"`
	Currency   string               `json:"currency"`
	CheckIn    time.Time            `json:"check_in"`
	CheckOut   time.Time            `json:"check_out"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Producer publishes booking lifecycle events to kafka. Events are keyed by
// booking id so one booking's events stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *logrus.Logger
}

var _ services.EventPublisher = (*Producer)(nil)

// NewProducer creates a kafka producer for booking events.
func NewProducer(cfg config.KafkaConfig, logger *logrus.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger,
	}
}

// PublishBookingEvent emits one lifecycle event for a booking.
func (p *Producer) PublishBookingEvent(ctx context.Context, eventType string, booking *models.Booking) error {
	event := BookingEvent{
		EventType:  eventType,
		BookingID:  booking.ID.String(),
		HotelID:    booking.HotelID,
		Status:     booking.Status,
		Amount:     booking.TotalAmount,
		Currency:   booking.Currency,
		CheckIn:    booking.CheckIn,
		CheckOut:   booking.CheckOut,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode booking event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(booking.ID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish booking event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"booking_id": booking.ID,
		"topic":      p.topic,
	}).Debug("Published booking event")
	return nil
}

// Close flushes and closes the kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

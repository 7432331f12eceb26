package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ExpirationService periodically sweeps stale pending bookings. Each sweep
// asks the gateway about bookings that still have a bound session before
// failing them, so a payment that settled quietly is confirmed instead of
// expired.
type ExpirationService struct {
	bookingSvc *BookingService
	pendingTTL time.Duration
	interval   time.Duration
	logger     *logrus.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewExpirationService creates a new pending booking sweeper.
func NewExpirationService(bookingSvc *BookingService, pendingTTL, interval time.Duration, logger *logrus.Logger) *ExpirationService {
	return &ExpirationService{
		bookingSvc: bookingSvc,
		pendingTTL: pendingTTL,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *ExpirationService) Start() {
	s.logger.WithFields(logrus.Fields{
		"pending_ttl": s.pendingTTL,
		"interval":    s.interval,
	}).Info("Expiration sweeper started")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *ExpirationService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.logger.Info("Expiration sweeper stopped")
}

func (s *ExpirationService) sweep() {
	cutoff := time.Now().Add(-s.pendingTTL)
	count, err := s.bookingSvc.ExpirePending(context.Background(), cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Pending booking sweep failed")
		return
	}
	if count > 0 {
		s.logger.WithField("expired", count).Info("Pending booking sweep finished")
	}
}

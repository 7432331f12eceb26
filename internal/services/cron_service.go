package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RedactionStore blanks guest PII on old cancelled bookings
type RedactionStore interface {
	RedactContactInfo(before time.Time) (int64, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron          *cron.Cron
	bookingSvc    *BookingService
	redactions    RedactionStore
	retentionDays int
	logger        *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(bookingSvc *BookingService, redactions RedactionStore, retentionDays int, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:          cron.New(),
		bookingSvc:    bookingSvc,
		redactions:    redactions,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start registers and starts all scheduled jobs.
func (s *CronService) Start() error {
	// Daily at 4:00 AM: move confirmed stays past check-out to completed.
	if _, err := s.cron.AddFunc("0 4 * * *", s.completeStaysJob); err != nil {
		return fmt.Errorf("failed to schedule stay completion job: %w", err)
	}

	// Weekly on Sunday at 5:00 AM: redact contact info on cancelled
	// bookings past retention.
	if _, err := s.cron.AddFunc("0 5 * * 0", s.redactionJob); err != nil {
		return fmt.Errorf("failed to schedule redaction job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) completeStaysJob() {
	start := time.Now()
	count, err := s.bookingSvc.CompleteFinishedStays(context.Background(), time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Stay completion job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"completed": count,
		"duration":  time.Since(start),
	}).Info("Stay completion job finished")
}

func (s *CronService) redactionJob() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.redactions.RedactContactInfo(cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Redaction job failed")
		return
	}
	if count > 0 {
		s.logger.WithField("redacted", count).Info("Redacted contact info on old cancelled bookings")
	}
}

// RunCompleteStaysNow runs the stay completion job immediately.
func (s *CronService) RunCompleteStaysNow() {
	s.completeStaysJob()
}

// JobStatus reports the scheduled jobs and their next run times.
func (s *CronService) JobStatus() map[string]interface{} {
	entries := s.cron.Entries()
	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}
	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

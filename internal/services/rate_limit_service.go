package services

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitService throttles payment confirmation attempts per key (session
// id or client IP) with an in-memory sliding window. Attempts are cheap and
// short-lived, so no durable store is involved; a restart simply resets the
// windows.
type RateLimitService struct {
	mu       sync.Mutex
	attempts map[string][]time.Time

	maxAttempts int
	window      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimitService creates a new rate limiter allowing maxAttempts per
// key within the window.
func NewRateLimitService(maxAttempts int, window time.Duration) *RateLimitService {
	return &RateLimitService{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		stop:        make(chan struct{}),
	}
}

// RateLimitError reports a throttled request and when to retry
type RateLimitError struct {
	Key        string
	RetryAfter time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts; retry after %s", e.RetryAfter.Format(time.RFC3339))
}

// Allow records an attempt for the key and reports whether it is within the
// limit. Returns *RateLimitError when the window is full.
func (s *RateLimitService) Allow(key string) error {
	now := time.Now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.attempts[key][:0]
	for _, t := range s.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= s.maxAttempts {
		s.attempts[key] = recent
		return &RateLimitError{
			Key:        key,
			RetryAfter: recent[0].Add(s.window),
		}
	}

	s.attempts[key] = append(recent, now)
	return nil
}

// StartCleanup launches a background goroutine that drops keys with no
// recent attempts, keeping the map bounded.
func (s *RateLimitService) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the cleanup goroutine.
func (s *RateLimitService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *RateLimitService) cleanup() {
	cutoff := time.Now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, times := range s.attempts {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(s.attempts, key)
		}
	}
}

package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitAllow(t *testing.T) {
	t.Run("Allows up to the limit", func(t *testing.T) {
		limiter := NewRateLimitService(3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.NoError(t, limiter.Allow("cs_1"))
		}

		err := limiter.Allow("cs_1")
		require.Error(t, err)

		var rlErr *RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.Equal(t, "cs_1", rlErr.Key)
		assert.True(t, rlErr.RetryAfter.After(time.Now()))
	})

	t.Run("Keys are independent", func(t *testing.T) {
		limiter := NewRateLimitService(1, time.Minute)

		assert.NoError(t, limiter.Allow("cs_1"))
		assert.Error(t, limiter.Allow("cs_1"))
		assert.NoError(t, limiter.Allow("cs_2"))
	})

	t.Run("Window slides", func(t *testing.T) {
		limiter := NewRateLimitService(1, 20*time.Millisecond)

		assert.NoError(t, limiter.Allow("cs_1"))
		assert.Error(t, limiter.Allow("cs_1"))

		time.Sleep(30 * time.Millisecond)
		assert.NoError(t, limiter.Allow("cs_1"))
	})

	t.Run("Rejected attempts do not extend the window", func(t *testing.T) {
		limiter := NewRateLimitService(1, 30*time.Millisecond)

		assert.NoError(t, limiter.Allow("cs_1"))
		for i := 0; i < 5; i++ {
			assert.Error(t, limiter.Allow("cs_1"))
		}

		time.Sleep(40 * time.Millisecond)
		assert.NoError(t, limiter.Allow("cs_1"))
	})
}

func TestRateLimitCleanup(t *testing.T) {
	limiter := NewRateLimitService(3, 10*time.Millisecond)

	require.NoError(t, limiter.Allow("cs_old"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, limiter.Allow("cs_new"))

	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.attempts, "cs_old")
	assert.Contains(t, limiter.attempts, "cs_new")
}

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noJitter(int64) int64 { return 0 }

func TestRetryDelayDoubles(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{6, 320 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempt, noJitter), "attempt %d", tt.attempt)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	maxJitter := func(n int64) int64 { return n - 1 }
	for _, attempt := range []int{7, 8, 20, 1000} {
		assert.Equal(t, backoffCap, retryDelay(attempt, maxJitter), "attempt %d", attempt)
	}
	// Jitter can push attempt 6 over 320s but never over the cap.
	assert.LessOrEqual(t, retryDelay(6, maxJitter), backoffCap)
}

func TestRetryDelayJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := RetryDelay(2)
		assert.GreaterOrEqual(t, d, 20*time.Second)
		assert.Less(t, d, 25*time.Second)
	}
}

func TestRetryDelayNegativeAttempt(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(-3, noJitter))
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, MaxAttempts(KindPurgeMessages))
	assert.Equal(t, 3, MaxAttempts(KindAsk))
	assert.Equal(t, 5, MaxAttempts(KindIndexSession))
	assert.Equal(t, 5, MaxAttempts(KindProcessAttachment))
	assert.Equal(t, 3, MaxAttempts("unknown_kind"))
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, DefaultPriority(KindPurgeMessages))
	assert.Equal(t, PriorityHigh, DefaultPriority(KindAsk))
	assert.Equal(t, PriorityDefault, DefaultPriority(KindIndexSession))
	assert.Equal(t, PriorityLow, DefaultPriority(KindBulkBackfill))
}

package queue

import (
	"math/rand"
	"time"
)

// Retry delay bounds.
const (
	backoffBase = 5 * time.Second
	backoffCap  = 600 * time.Second
)

// RetryDelay computes the redelivery delay for a failed attempt (0-based):
// base·2^attempt plus up to base of jitter, capped at ten minutes. The cap
// applies after jitter, so the ceiling is a hard one.
func RetryDelay(attempt int) time.Duration {
	return retryDelay(attempt, rand.Int63n)
}

// retryDelay takes the jitter source as a parameter so tests can pin it.
func retryDelay(attempt int, intn func(int64) int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Past 2^7 the uncapped delay already exceeds the cap; clamping the
	// exponent keeps the shift from overflowing.
	if attempt > 7 {
		attempt = 7
	}
	d := backoffBase << uint(attempt)
	d += time.Duration(intn(int64(backoffBase)))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

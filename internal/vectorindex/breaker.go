package vectorindex

import (
	"sync/atomic"
	"time"
)

// Circuit breaker states.
const (
	breakerClosed int32 = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker is a lock-free three-state breaker. After `threshold`
// consecutive failures the circuit opens; after `cooldown` a single probe is
// allowed through (half-open); its outcome closes or re-opens the circuit.
type circuitBreaker struct {
	state     atomic.Int32
	failures  atomic.Int32
	openedAt  atomic.Int64
	threshold int32
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int32, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed.
func (b *circuitBreaker) Allow() bool {
	switch b.state.Load() {
	case breakerClosed:
		return true
	case breakerOpen:
		opened := time.Unix(0, b.openedAt.Load())
		if time.Since(opened) < b.cooldown {
			return false
		}
		// One probe wins the CAS; the rest stay rejected until it reports.
		return b.state.CompareAndSwap(breakerOpen, breakerHalfOpen)
	case breakerHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit.
func (b *circuitBreaker) RecordSuccess() {
	b.failures.Store(0)
	b.state.Store(breakerClosed)
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A failed half-open probe re-opens immediately.
func (b *circuitBreaker) RecordFailure() {
	if b.state.Load() == breakerHalfOpen {
		b.trip()
		return
	}
	if b.failures.Add(1) >= b.threshold {
		b.trip()
	}
}

func (b *circuitBreaker) trip() {
	b.openedAt.Store(time.Now().UnixNano())
	b.state.Store(breakerOpen)
}

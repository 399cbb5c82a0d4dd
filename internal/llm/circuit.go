package llm

import (
	"sync"
	"time"
)

// circuitBreaker tracks consecutive failures across all keys of a Gateway.
// After maxFailures it opens for cooldown, failing fast; the first success
// after opening closes it again.
type circuitBreaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown time.Duration
	now func() time.Time

	consecutiveFailures int
	openUntil time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	if maxFailures <= 0 {
 maxFailures = 3
	}
	if cooldown <= 0 {
 cooldown = 60 * time.Second
	}
	return &circuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().After(b.openUntil)
}

// RecordSuccess closes the circuit immediately.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.openUntil = time.Time{}
}

// RecordFailure increments the failure streak and opens the circuit once
// maxFailures is reached.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.maxFailures {
 b.openUntil = b.now().Add(b.cooldown)
	}
}

// RecordCancellation is used on context cancellation: the call failed but
// must not count toward opening the circuit.
func (b *circuitBreaker) RecordCancellation() {}

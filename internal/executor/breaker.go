package executor

import (
	"sync"
	"time"
)

// cooldowns are the escalating open durations for consecutive trips.
var cooldowns = []time.Duration{
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
}

// Breaker is a circuit breaker over the aggregator. A run of consecutive
// failures opens it; while open, quote warming pauses and sells fail fast.
// Repeated trips escalate the cooldown. Any success resets everything.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	trips       int
	openUntil   time.Time
	now         func() time.Time
}

// NewBreaker creates a Breaker that opens after threshold consecutive
// failures.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{
		threshold: threshold,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().After(b.openUntil)
}

// Success records a successful call, closing the breaker and resetting the
// escalation ladder.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.consecutive = 0
	b.trips = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

// Failure records a failed call. When the consecutive-failure threshold is
// reached the breaker opens for the next cooldown on the ladder.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.consecutive < b.threshold {
		return
	}

	idx := b.trips
	if idx >= len(cooldowns) {
		idx = len(cooldowns) - 1
	}
	b.openUntil = b.now().Add(cooldowns[idx])
	b.trips++
	b.consecutive = 0
}

// OpenUntil returns the zero time when closed, else the instant the current
// cooldown ends.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().After(b.openUntil) {
		return time.Time{}
	}
	return b.openUntil
}

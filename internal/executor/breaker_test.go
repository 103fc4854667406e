package executor

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(3)
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()
	if !b.Allow() {
		t.Fatal("breaker must stay closed below the threshold")
	}
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker must open at the threshold")
	}

	// First trip cools down for 30s.
	now = now.Add(29 * time.Second)
	if b.Allow() {
		t.Error("still inside the first cooldown")
	}
	now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Error("cooldown elapsed, breaker must allow again")
	}
}

func TestBreakerEscalatesCooldowns(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1)
	b.now = func() time.Time { return now }

	expected := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	for i, want := range expected {
		b.Failure()
		until := b.OpenUntil()
		if got := until.Sub(now); got != want {
			t.Fatalf("trip %d: cooldown = %v, want %v", i+1, got, want)
		}
		now = until.Add(time.Second)
	}
}

func TestBreakerSuccessResetsLadder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(1)
	b.now = func() time.Time { return now }

	b.Failure() // 30s trip
	now = b.OpenUntil().Add(time.Second)
	b.Failure() // would be 1m without a success in between
	now = b.OpenUntil().Add(time.Second)

	b.Success()
	b.Failure()
	if got := b.OpenUntil().Sub(now); got != 30*time.Second {
		t.Errorf("cooldown after reset = %v, want 30s", got)
	}
}

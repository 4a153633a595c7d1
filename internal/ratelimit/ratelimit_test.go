package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAllowBurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 2}).WithClock(clock.now)

	for i := range 2 {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	err := l.Allow("alice")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.RetryAfter != time.Second {
		t.Errorf("limit error = %+v", le)
	}

	// Other keys have their own bucket.
	if err := l.Allow("bob"); err != nil {
		t.Errorf("bob: %v", err)
	}

	clock.advance(time.Second)
	if err := l.Allow("alice"); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for range 100 {
		if err := l.Allow("x"); err != nil {
			t.Fatal(err)
		}
	}
	var nilLimiter *Limiter
	if err := nilLimiter.Allow("x"); err != nil {
		t.Fatal(err)
	}
}

func TestPrune(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 5}).WithClock(clock.now)

	_ = l.Allow("idle")
	clock.advance(2 * time.Second)
	for range 5 {
		_ = l.Allow("busy")
	}

	if n := l.Prune(); n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}
}

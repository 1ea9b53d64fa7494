package inference

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(threshold, cooldown, nil)
	b.now = func() time.Time { return current }
	return b, &current
}

func tripBreaker(t *testing.T, b *Breaker, threshold int) {
	t.Helper()
	for i := 0; i < threshold; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d rejected while closed: %v", i, err)
		}
		b.Failure()
	}
}

func TestBreaker(t *testing.T) {
	t.Run("opens after consecutive failures reach the threshold", func(t *testing.T) {
		b, _ := newTestBreaker(5, time.Minute)

		for i := 0; i < 4; i++ {
			b.Failure()
		}
		if b.State() != StateClosed {
			t.Fatalf("breaker opened early at %d failures", 4)
		}
		b.Failure()
		if b.State() != StateOpen {
			t.Fatal("breaker did not open at the threshold")
		}
	})

	t.Run("short-circuits while open", func(t *testing.T) {
		b, _ := newTestBreaker(3, time.Minute)
		tripBreaker(t, b, 3)

		if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
			t.Fatalf("expected ErrBreakerOpen during cooldown, got %v", err)
		}
	})

	t.Run("a success resets the failure count", func(t *testing.T) {
		b, _ := newTestBreaker(3, time.Minute)

		b.Failure()
		b.Failure()
		b.Success()
		b.Failure()
		b.Failure()
		if b.State() != StateClosed {
			t.Fatal("success must reset the consecutive failure count")
		}
	})

	t.Run("admits a single trial after the cooldown", func(t *testing.T) {
		b, now := newTestBreaker(3, time.Minute)
		tripBreaker(t, b, 3)

		*now = now.Add(time.Minute)
		if err := b.Allow(); err != nil {
			t.Fatalf("trial call rejected after cooldown: %v", err)
		}
		if b.State() != StateHalfOpen {
			t.Fatalf("expected half-open, got %v", b.State())
		}
		if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
			t.Fatal("second caller must be rejected while the trial is in flight")
		}
	})

	t.Run("trial success closes the circuit", func(t *testing.T) {
		b, now := newTestBreaker(3, time.Minute)
		tripBreaker(t, b, 3)

		*now = now.Add(time.Minute)
		if err := b.Allow(); err != nil {
			t.Fatalf("trial rejected: %v", err)
		}
		b.Success()
		if b.State() != StateClosed {
			t.Fatalf("expected closed after trial success, got %v", b.State())
		}
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker rejected a call: %v", err)
		}
	})

	t.Run("trial failure reopens and restarts the cooldown", func(t *testing.T) {
		b, now := newTestBreaker(3, time.Minute)
		tripBreaker(t, b, 3)

		*now = now.Add(time.Minute)
		if err := b.Allow(); err != nil {
			t.Fatalf("trial rejected: %v", err)
		}
		b.Failure()
		if b.State() != StateOpen {
			t.Fatalf("expected open after trial failure, got %v", b.State())
		}

		// Still inside the restarted cooldown.
		*now = now.Add(30 * time.Second)
		if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
			t.Fatal("cooldown must restart after a failed trial")
		}

		*now = now.Add(31 * time.Second)
		if err := b.Allow(); err != nil {
			t.Fatalf("trial rejected after restarted cooldown: %v", err)
		}
	})

	t.Run("reports transitions to the state callback", func(t *testing.T) {
		var transitions []BreakerState
		b := NewBreaker(2, time.Minute, func(s BreakerState) {
			transitions = append(transitions, s)
		})
		current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return current }

		b.Failure()
		b.Failure()
		current = current.Add(time.Minute)
		if err := b.Allow(); err != nil {
			t.Fatalf("trial rejected: %v", err)
		}
		b.Success()

		want := []BreakerState{StateOpen, StateHalfOpen, StateClosed}
		if len(transitions) != len(want) {
			t.Fatalf("expected %d transitions, got %v", len(want), transitions)
		}
		for i, s := range want {
			if transitions[i] != s {
				t.Errorf("transition %d: expected %v, got %v", i, s, transitions[i])
			}
		}
	})
}

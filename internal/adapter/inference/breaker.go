package inference

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's three-state machine.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen is returned when a call is short-circuited without any
// network attempt.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker isolates a flaky dependency. Closed passes calls through and
// counts consecutive failures; reaching the threshold opens the circuit for
// a cooldown window during which calls short-circuit immediately. After the
// cooldown exactly one trial call is allowed: success closes the circuit,
// failure reopens it and restarts the cooldown.
type Breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onStateChange    func(BreakerState)
}

// NewBreaker creates a closed breaker. onStateChange may be nil; it is
// invoked outside the lock on every transition (used to export the state
// gauge).
func NewBreaker(failureThreshold int, cooldown time.Duration, onStateChange func(BreakerState)) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

// Allow reports whether a call may proceed. In the half-open state only one
// trial call is admitted; concurrent callers are rejected until the trial
// reports its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(StateHalfOpen)
		return nil
	default: // half-open
		if b.trialInFlight {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return nil
	}
}

// Success records a successful call, resetting the breaker to closed.
func (b *Breaker) Success() {
	b.mu.Lock()
	prev := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.mu.Unlock()

	if prev != StateClosed {
		b.notify(StateClosed)
	}
}

// Failure records a failed call. In the closed state it counts toward the
// threshold; in the half-open state it reopens the circuit immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	var transitioned bool

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.trialInFlight = false
		transitioned = true
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			transitioned = true
		}
	}
	b.mu.Unlock()

	if transitioned {
		b.notify(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) notify(s BreakerState) {
	if b.onStateChange != nil {
		b.onStateChange(s)
	}
}

package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is open and the reset
// timeout has not elapsed.
var ErrBreakerOpen = errors.New("redis breaker open")

// State represents the breaker state.
type State int

const (
	StateClosed   State = 0 // normal operation, calls pass through
	StateOpen     State = 1 // tripped, calls rejected immediately
	StateHalfOpen State = 2 // probing, one call allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker protects the ticker cache from a flapping Redis. After
// maxFailures consecutive failures it opens and rejects calls for
// resetTimeout, then half-opens and lets one probe through: success
// closes it, failure reopens it.
//
// An open breaker means marks are simply not shared across processes for
// a while — tickers are never buffered for later replay, because a
// replayed stale quote would surface as a stale mark.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	resetAfter  time.Duration
	openedAt    time.Time

	// OnStateChange, if set, is called on every transition. Used for the
	// breaker-state metric.
	OnStateChange func(from, to State)
}

// NewBreaker creates a Breaker.
// maxFailures: consecutive failures before opening (e.g. 5).
// resetAfter: wait before the half-open probe (e.g. 10s).
func NewBreaker(maxFailures int, resetAfter time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, resetAfter: resetAfter}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) <= b.resetAfter {
			return ErrBreakerOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.openedAt = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resilience guards calls to unreliable dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/firewatch/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the guarded function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker fails fast after threshold consecutive failures and lets a
// single probe through once resetTimeout has elapsed. It never retries.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	clock        Clock
	isFailure    func(error) bool
	onChange     func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateChange registers a hook invoked (outside the lock) on transitions.
func WithStateChange(fn func(from, to State)) Option {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
		isFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := cb.allow()
	if !ok {
		metrics.RecordCircuitBreakerRejection(cb.name)
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil && cb.isFailure(err) {
		cb.record(false, probe)
	} else {
		cb.record(true, probe)
	}
	return err
}

func (cb *CircuitBreaker) allow() (probe bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, false
		}
		cb.transitionLocked(StateHalfOpen)
		cb.probing = true
		return true, true
	default: // half-open: one probe at a time
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	}
}

func (cb *CircuitBreaker) record(success, probe bool) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}
	if success {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.transitionLocked(StateClosed)
		}
	} else {
		cb.failures++
		switch {
		case cb.state == StateHalfOpen:
			metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
			cb.transitionLocked(StateOpen)
		case cb.state == StateClosed && cb.failures >= cb.threshold:
			metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
			cb.transitionLocked(StateOpen)
		}
	}
	to := cb.state
	hook := cb.onChange
	cb.mu.Unlock()

	if hook != nil && from != to {
		hook(from, to)
	}
}

// transitionLocked changes state. Caller must hold mu.
func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	if next == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.SetCircuitBreakerState(cb.name, string(next))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Package resilience provides the fault-tolerance primitives used by
// components that call out to unreliable external services: the upstream
// conversational-AI provider and the persistence sink. The pronunciation
// assessor call is not wrapped. It implements a circuit breaker, exponential-backoff retry,
// request hedging, and a provider-scoped rate limiter.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	// StateClosed means requests flow normally.
	StateClosed State = "closed"
	// StateOpen means requests are rejected immediately.
	StateOpen State = "open"
	// StateHalfOpen means a single probe request is allowed through to test
	// recovery.
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the call
// was rejected without invoking the wrapped function.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// CircuitBreaker trips after a run of consecutive failures and rejects calls
// until resetTimeout has elapsed, at which point it allows a single probe
// call through (half-open) to decide whether to close again.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker creates a CircuitBreaker. A failureThreshold <= 0 defaults
// to 5; a resetTimeout <= 0 defaults to 30s.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
	}
}

// State returns the breaker's current state, advancing Open to HalfOpen if
// resetTimeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return cb.state
}

// advanceLocked transitions Open -> HalfOpen once resetTimeout has elapsed.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) advanceLocked() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
	}
}

// Execute runs fn if the breaker permits it. In the open state it returns
// ErrCircuitOpen without calling fn. In the half-open state a single probe is
// allowed through; success closes the breaker, failure reopens it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	cb.mu.Lock()
	cb.advanceLocked()
	if cb.state == StateOpen {
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	cb.mu.Unlock()

	result, err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
		return result, err
	}

	cb.failures = 0
	cb.state = StateClosed
	return result, nil
}

// Reset forces the breaker back to the closed state and clears its failure
// count. Intended for operator intervention or test setup.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

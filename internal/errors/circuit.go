package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// maxResetTimeout is the cap on the doubling cool-down after repeated
// half-open probe failures.
const maxResetTimeout = 300 * time.Second

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// CircuitBreaker implements the circuit breaker pattern described for the
// embedding provider router: N consecutive failures within a rolling
// window trip the breaker open for a cool-down; a single half-open probe
// either closes it or doubles the cool-down, capped at 300s. A health-TTL
// tracks the last successful health check so callers can additionally
// gate eligibility on "health check passed within TTL" independent of the
// failure-count state machine.
type CircuitBreaker struct {
	name            string
	maxFailures     int
	window          time.Duration
	baseResetTimeout time.Duration
	healthTTL       time.Duration

	mu               sync.RWMutex
	state            State
	failures         int
	windowStart      time.Time
	lastFailure      time.Time
	currentReset     time.Duration
	lastHealthCheck  time.Time
	lastHealthOK     bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the initial cool-down before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.baseResetTimeout = d
	}
}

// WithFailureWindow sets the rolling window failures are counted within.
func WithFailureWindow(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.window = d
	}
}

// WithHealthTTL sets how long a passing health check is considered valid.
func WithHealthTTL(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.healthTTL = d
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Defaults: 5 failures in a 60s window, 30s initial cool-down, 30s health TTL.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		maxFailures:      5,
		window:           60 * time.Second,
		baseResetTimeout: 30 * time.Second,
		healthTTL:        30 * time.Second,
		state:            StateClosed,
	}
	cb.currentReset = cb.baseResetTimeout

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) > cb.currentReset {
			return StateHalfOpen
		}
	}
	return cb.state
}

// Failures returns the current failure count within the active window.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.currentState() {
	case StateClosed, StateHalfOpen:
		return true
	default: // StateOpen
		return false
	}
}

// HealthEligible reports whether the last recorded health check passed
// within the configured TTL. Used by the provider router's eligibility
// filter independently of the failure-count state machine.
func (cb *CircuitBreaker) HealthEligible() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.lastHealthCheck.IsZero() {
		return false
	}
	return cb.lastHealthOK && time.Since(cb.lastHealthCheck) <= cb.healthTTL
}

// RecordHealthCheck records the outcome of an out-of-band health probe.
func (cb *CircuitBreaker) RecordHealthCheck(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastHealthCheck = time.Now()
	cb.lastHealthOK = ok
}

// RecordSuccess records a successful request: closes the circuit, resets
// the failure count and the cool-down back to its base value.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = StateClosed
	cb.currentReset = cb.baseResetTimeout
}

// RecordFailure records a failed request. Failures older than the rolling
// window are discarded before counting. If the breaker was half-open, the
// failure doubles the cool-down (capped at 300s) and reopens it; otherwise
// N consecutive failures within the window opens it at the base cool-down.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	wasHalfOpen := cb.state == StateOpen && now.Sub(cb.lastFailure) > cb.currentReset

	if cb.windowStart.IsZero() || now.Sub(cb.windowStart) > cb.window {
		cb.windowStart = now
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now

	switch {
	case wasHalfOpen:
		cb.currentReset *= 2
		if cb.currentReset > maxResetTimeout {
			cb.currentReset = maxResetTimeout
		}
		cb.state = StateOpen
	case cb.failures >= cb.maxFailures:
		cb.state = StateOpen
	}
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen

	case StateHalfOpen:
		cb.state = StateOpen // provisional; flipped back by RecordFailure/Success below
		cb.mu.Unlock()

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil

	default: // StateClosed
		cb.mu.Unlock()

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	}
}

// ExecuteWithResult runs a function that returns a value through the
// circuit breaker. If the circuit is open, the fallback function runs.
func (cb *CircuitBreaker) ExecuteWithResult(fn func() (string, error), fallback func() (string, error)) (string, error) {
	return CircuitExecuteWithResult(cb, fn, fallback)
}

// CircuitExecuteWithResult is a generic function for executing with fallback.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return fallback()

	case StateHalfOpen:
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.RecordFailure()
			return fallback()
		}
		cb.RecordSuccess()
		return result, nil

	default: // StateClosed
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.RecordFailure()
			return result, err
		}
		cb.RecordSuccess()
		return result, nil
	}
}

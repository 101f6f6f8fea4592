package tahan

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// Circuit breaker defaults: trip after 3 failures, stay open 60s, double the
// open window on each re-trip up to 300s.
const (
	DefaultMaxFailures    = 3
	DefaultOpenTimeout    = 60 * time.Second
	DefaultMaxOpenTimeout = 300 * time.Second
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	MaxFailures    int
	OpenTimeout    time.Duration
	MaxOpenTimeout time.Duration
}

// CircuitBreaker guards one upstream service. While open no calls are issued;
// after the open window elapses exactly one probe is permitted, and its
// outcome either closes the circuit or reopens it with a doubled window.
type CircuitBreaker struct {
	mu            sync.Mutex
	config        CircuitBreakerConfig
	state         CircuitState
	failures      int
	lastFailure   time.Time
	openUntil     time.Time
	openTimeout   time.Duration
	probeInFlight bool
	now           func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultOpenTimeout
	}
	if config.MaxOpenTimeout < config.OpenTimeout {
		config.MaxOpenTimeout = DefaultMaxOpenTimeout
		if config.MaxOpenTimeout < config.OpenTimeout {
			config.MaxOpenTimeout = config.OpenTimeout
		}
	}
	return &CircuitBreaker{
		config:      config,
		state:       StateClosed,
		openTimeout: config.OpenTimeout,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only the
// single probe is admitted; everything else is refused until the probe
// outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if !cb.now().Before(cb.openUntil) {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// releaseProbe returns an admitted probe that never reached the upstream
// (local quota denial, full queue). Without this the half-open state would
// deadlock waiting for an outcome that will never be recorded.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// RecordSuccess resets the failure count. A successful half-open probe closes
// the circuit and restores the base open window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.probeInFlight = false
		cb.openTimeout = cb.config.OpenTimeout
	}
}

// RecordFailure counts a failure. The breaker trips once the threshold is
// reached; a failed half-open probe reopens immediately with a doubled open
// window, capped at MaxOpenTimeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.openUntil = now.Add(cb.openTimeout)
		}
	case StateHalfOpen:
		cb.failures++
		cb.probeInFlight = false
		cb.openTimeout *= 2
		if cb.openTimeout > cb.config.MaxOpenTimeout {
			cb.openTimeout = cb.config.MaxOpenTimeout
		}
		cb.state = StateOpen
		cb.openUntil = now.Add(cb.openTimeout)
	case StateOpen:
		// Already open; nothing to count.
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// OpenUntil returns when the open window elapses (zero when not open).
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openUntil
}

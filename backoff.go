package tahan

import (
	"sync"
	"time"
)

// Backoff defaults. The required interval starts at the baseline, doubles on
// each consecutive rate limit up to the cap, and decays by 0.8 per success
// back down to the baseline.
const (
	DefaultBackoffBaseline = 60 * time.Second
	DefaultBackoffMax      = 300 * time.Second

	backoffGrowthFactor = 2.0
	backoffDecayFactor  = 0.8
)

// BackoffController tracks the required minimum interval between upstream
// calls for one service. It is grown by rate-limit outcomes and decayed by
// successes, independently of the circuit breaker.
type BackoffController struct {
	mu                    sync.Mutex
	baseline              time.Duration
	max                   time.Duration
	required              time.Duration
	lastCall              time.Time
	consecutiveRateLimits int
	now                   func() time.Time
}

// NewBackoffController builds a controller with the given baseline and cap.
func NewBackoffController(baseline, max time.Duration) *BackoffController {
	if baseline <= 0 {
		baseline = DefaultBackoffBaseline
	}
	if max < baseline {
		max = DefaultBackoffMax
		if max < baseline {
			max = baseline
		}
	}
	return &BackoffController{
		baseline: baseline,
		max:      max,
		required: baseline,
		now:      time.Now,
	}
}

// CanCall reports whether enough time has elapsed since the last upstream
// call. A controller that has never issued a call always allows one.
func (b *BackoffController) CanCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastCall.IsZero() {
		return true
	}
	return b.now().Sub(b.lastCall) >= b.required
}

// RecordCall stamps the moment an upstream call is issued.
func (b *BackoffController) RecordCall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCall = b.now()
}

// RecordSuccess decays the required interval toward the baseline and clears
// the consecutive rate-limit streak.
func (b *BackoffController) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveRateLimits = 0
	decayed := time.Duration(float64(b.required) * backoffDecayFactor)
	if decayed < b.baseline {
		decayed = b.baseline
	}
	b.required = decayed
}

// RecordRateLimited doubles the required interval up to the cap and extends
// the consecutive rate-limit streak.
func (b *BackoffController) RecordRateLimited() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveRateLimits++
	grown := time.Duration(float64(b.required) * backoffGrowthFactor)
	if grown > b.max {
		grown = b.max
	}
	b.required = grown
}

// RequiredInterval returns the current minimum interval between calls.
func (b *BackoffController) RequiredInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.required
}

// ConsecutiveRateLimits returns the current rate-limit streak length.
func (b *BackoffController) ConsecutiveRateLimits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveRateLimits
}

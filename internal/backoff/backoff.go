// Package backoff computes retry delays for the gateway's in-process retry
// loop. This is separate from the upstream call pacing controller, which
// spaces calls to the metered endpoint; these delays only space a caller's
// own attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Calculator computes exponential retry delays with uniform jitter.
type Calculator struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// NewCalculator creates a calculator. Non-positive durations and multipliers
// fall back to sane values; jitter is clamped to [0, 1].
func NewCalculator(initial, max time.Duration, multiplier, jitter float64) *Calculator {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	if multiplier < 1 {
		multiplier = 2
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Calculator{initial: initial, max: max, multiplier: multiplier, jitter: jitter}
}

// Delay returns the delay before the given retry attempt, starting at 0.
func (c *Calculator) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent to avoid overflow.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(c.initial) * pow(c.multiplier, attempt))
	if d < 0 || d > c.max {
		d = c.max
	}

	if c.jitter > 0 {
		extra := time.Duration(float64(d) * c.jitter * rand.Float64())
		if d+extra > c.max {
			d = c.max
		} else {
			d += extra
		}
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

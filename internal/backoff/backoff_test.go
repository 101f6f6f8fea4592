package backoff

import (
	"testing"
	"time"
)

func TestCalculatorDelayGrowth(t *testing.T) {
	c := NewCalculator(100*time.Millisecond, 5*time.Second, 2, 0)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := c.Delay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestCalculatorDelayCapped(t *testing.T) {
	c := NewCalculator(100*time.Millisecond, time.Second, 2, 0)

	if got := c.Delay(20); got != time.Second {
		t.Errorf("Expected cap at 1s, got %v", got)
	}
	if got := c.Delay(1000); got != time.Second {
		t.Errorf("Expected large attempts not to overflow, got %v", got)
	}
}

func TestCalculatorJitterBounds(t *testing.T) {
	c := NewCalculator(100*time.Millisecond, 5*time.Second, 2, 0.5)

	for i := 0; i < 100; i++ {
		d := c.Delay(1)
		if d < 200*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("Expected jittered delay in [200ms,300ms], got %v", d)
		}
	}
}

func TestCalculatorNegativeAttempt(t *testing.T) {
	c := NewCalculator(100*time.Millisecond, time.Second, 2, 0)

	if got := c.Delay(-5); got != 100*time.Millisecond {
		t.Errorf("Expected negative attempt treated as zero, got %v", got)
	}
}

func TestCalculatorDefaults(t *testing.T) {
	c := NewCalculator(0, 0, 0, -1)

	if c.initial <= 0 || c.max <= 0 {
		t.Error("Expected defaults for non-positive durations")
	}
	if c.multiplier < 1 {
		t.Errorf("Expected multiplier floor, got %v", c.multiplier)
	}
	if c.jitter != 0 {
		t.Errorf("Expected negative jitter clamped to 0, got %v", c.jitter)
	}
}

package tahan

import (
	"sync"
	"time"
)

// DefaultQuotaPerMinute is the per-service upstream call budget. The real
// quota lives upstream; this local bucket keeps us from ever reaching it.
const DefaultQuotaPerMinute = 10

// QuotaLimiter is a token bucket bounding upstream calls per minute for one
// service. A denied token routes the batch to the fallback chain without
// touching the breaker or backoff state: no upstream rejection happened.
type QuotaLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewQuotaLimiter builds a limiter allowing perMinute calls per minute.
func NewQuotaLimiter(perMinute int) *QuotaLimiter {
	if perMinute <= 0 {
		perMinute = DefaultQuotaPerMinute
	}
	q := &QuotaLimiter{
		tokens:     perMinute,
		maxTokens:  perMinute,
		refillRate: time.Minute / time.Duration(perMinute),
		now:        time.Now,
	}
	q.lastRefill = q.now()
	return q
}

// Allow consumes one token if available.
func (q *QuotaLimiter) Allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.refill()
	if q.tokens > 0 {
		q.tokens--
		return true
	}
	return false
}

// Tokens returns the number of tokens currently available.
func (q *QuotaLimiter) Tokens() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.refill()
	return q.tokens
}

func (q *QuotaLimiter) refill() {
	now := q.now()
	elapsed := now.Sub(q.lastRefill)
	if q.refillRate <= 0 {
		return
	}
	add := int(elapsed / q.refillRate)
	if add <= 0 {
		return
	}
	q.tokens += add
	if q.tokens > q.maxTokens {
		q.tokens = q.maxTokens
	}
	q.lastRefill = q.lastRefill.Add(time.Duration(add) * q.refillRate)
}

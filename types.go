package tahan

import (
	"context"
	"time"
)

// ServiceType identifies an upstream inference service. Each service gets its
// own batch worker, credential pool, circuit breaker, backoff state and quota.
type ServiceType string

const (
	ServiceVision  ServiceType = "vision"
	ServiceGeo     ServiceType = "geo"
	ServiceGeneric ServiceType = "generic"
)

// Priority is the caller-supplied urgency hint. It controls how many cache
// tiers a successful result is written into; it does not reorder the queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Confidence grades how trustworthy a Response is. Live and batched upstream
// answers are high; degraded answers carry medium, low or estimated so callers
// can weight them.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceLow       Confidence = "low"
	ConfidenceEstimated Confidence = "estimated"
)

// Source tags for Response.Source. Cache hits use "cache:<tier>" and fallback
// answers use "fallback:<strategy>".
const (
	SourceLive  = "live"
	SourceBatch = "batch"
)

// Request is one unit of work owned by the batch collector from enqueue until
// flush or caller timeout.
type Request struct {
	ID          string
	Service     ServiceType
	Payload     []byte
	Priority    Priority
	SubmittedAt time.Time
	Timeout     time.Duration
}

// Response is the single, structured answer every submitted request resolves
// to. Success is true whenever usable data is present, including fallback
// data; Source and Confidence disclose where it came from.
type Response struct {
	RequestID      string        `json:"request_id"`
	Success        bool          `json:"success"`
	Data           []byte        `json:"data,omitempty"`
	Error          string        `json:"error,omitempty"`
	Source         string        `json:"source"`
	Latency        time.Duration `json:"latency_ms"`
	Confidence     Confidence    `json:"confidence"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
}

// Credential is one API credential for an upstream service. A zero
// BlacklistedUntil means the credential is usable.
type Credential struct {
	Token            string
	BlacklistedUntil time.Time
}

// Blacklisted reports whether the credential is cooling down at time t.
func (c Credential) Blacklisted(t time.Time) bool {
	return !c.BlacklistedUntil.IsZero() && t.Before(c.BlacklistedUntil)
}

// Transport performs the actual upstream calls. Implementations must map
// upstream failures onto the package error taxonomy (see GatewayError) so the
// gateway can tell a rate limit from a server error from a parse failure.
type Transport interface {
	// Do issues a single-item call and returns the result payload.
	Do(ctx context.Context, cred Credential, service ServiceType, payload []byte) ([]byte, error)
	// DoBatch issues one combined call for several payloads and returns the
	// combined reply text, to be demultiplexed by the batch collector.
	DoBatch(ctx context.Context, cred Credential, service ServiceType, payloads [][]byte) ([]byte, error)
}

// CacheEntry is one cached result. Entries remember the confidence of the
// result that produced them, so a cache hit of a fallback answer still reads
// as degraded.
type CacheEntry struct {
	Fingerprint string     `json:"fingerprint"`
	Data        []byte     `json:"data"`
	Priority    Priority   `json:"priority"`
	Confidence  Confidence `json:"confidence"`
	WrittenAt   time.Time  `json:"written_at"`
}

// TierStore is the key/value backend underneath TieredCache. Stores keep
// entries past their tier TTL (freshness is judged by the cache, not the
// store) so expired entries remain available to the stale-cache fallback.
type TierStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool)
	Set(ctx context.Context, key string, entry *CacheEntry)
	Delete(ctx context.Context, key string)
}

// Estimator is an optional caller-supplied local heuristic used by the
// fallback chain when the upstream is unavailable. Returning an error skips
// the strategy.
type Estimator func(service ServiceType, payload []byte) ([]byte, error)

// Option configures a Gateway.
type Option func(*Gateway)

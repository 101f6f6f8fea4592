package tahan

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Fallback source tags, ordered by preference.
const (
	SourceFallbackStaleCache = "fallback:stale_cache"
	SourceFallbackHeuristic  = "fallback:heuristic"
	SourceFallbackTimeOfDay  = "fallback:time_of_day"
	SourceFallbackDefault    = "fallback:default"
)

// defaultFallbackPayload is the fixed safe answer of last resort.
var defaultFallbackPayload = []byte(`{"people_count":10,"method":"static_estimate"}`)

// FallbackChain produces a best-effort answer when the upstream cannot be
// used: stale cache entry, then a caller-supplied local heuristic, then a
// time-of-day statistical estimate, then a fixed default. Every result
// carries an explicit degraded source and confidence so it can never be
// mistaken for a live measurement.
type FallbackChain struct {
	cache     *TieredCache
	estimator Estimator
	defaults  map[ServiceType][]byte
	now       func() time.Time
}

// NewFallbackChain builds a chain over the given cache. estimator may be nil;
// defaults overrides the last-resort payload per service.
func NewFallbackChain(cache *TieredCache, estimator Estimator, defaults map[ServiceType][]byte) *FallbackChain {
	return &FallbackChain{
		cache:     cache,
		estimator: estimator,
		defaults:  defaults,
		now:       time.Now,
	}
}

// Resolve walks the chain and always returns a response. reason records what
// pushed the request off the live path.
func (fc *FallbackChain) Resolve(ctx context.Context, req *Request, fingerprint, reason string) *Response {
	if entry, _, ok := fc.cache.GetStale(ctx, fingerprint); ok {
		return &Response{
			RequestID:      req.ID,
			Success:        true,
			Data:           entry.Data,
			Source:         SourceFallbackStaleCache,
			Confidence:     degrade(entry.Confidence),
			FallbackReason: reason,
		}
	}

	if fc.estimator != nil {
		if data, err := fc.estimator(req.Service, req.Payload); err == nil && len(data) > 0 {
			return &Response{
				RequestID:      req.ID,
				Success:        true,
				Data:           data,
				Source:         SourceFallbackHeuristic,
				Confidence:     ConfidenceMedium,
				FallbackReason: reason,
			}
		}
	}

	if data := timeOfDayEstimate(fc.now()); data != nil {
		return &Response{
			RequestID:      req.ID,
			Success:        true,
			Data:           data,
			Source:         SourceFallbackTimeOfDay,
			Confidence:     ConfidenceEstimated,
			FallbackReason: reason,
		}
	}

	data := defaultFallbackPayload
	if d, ok := fc.defaults[req.Service]; ok && len(d) > 0 {
		data = d
	}
	return &Response{
		RequestID:      req.ID,
		Success:        true,
		Data:           data,
		Source:         SourceFallbackDefault,
		Confidence:     ConfidenceLow,
		FallbackReason: reason,
	}
}

// degrade caps the confidence of a stale entry at medium. A stale real
// measurement is still better than a synthetic one, but it is not current.
func degrade(c Confidence) Confidence {
	if c == ConfidenceHigh {
		return ConfidenceMedium
	}
	return c
}

// timeOfDayEstimate produces a crowd estimate from historical daily rhythm:
// morning and lunch peaks, an evening maximum, lighter night activity.
func timeOfDayEstimate(now time.Time) []byte {
	var base int
	switch hour := now.Hour(); {
	case hour >= 9 && hour <= 11:
		base = 15
	case hour >= 12 && hour <= 14:
		base = 20
	case hour >= 17 && hour <= 19:
		base = 25
	case hour >= 20 && hour <= 22:
		base = 18
	default:
		base = 8
	}

	count := base + rand.Intn(9) - 3
	if count < 1 {
		count = 1
	}
	if count > 35 {
		count = 35
	}
	return []byte(fmt.Sprintf(`{"people_count":%d,"method":"time_of_day"}`, count))
}

// Package tahan is a resilience gateway that sits between many concurrent
// callers and a metered, rate-limited inference endpoint. It layers the
// mitigations needed to survive strict per-minute quotas and intermittent
// upstream failures:
//
//   - Request batching (coalesces N pending calls into 1 upstream call)
//   - Credential rotation with temporary blacklisting
//   - Per-service circuit breaker (closed / open / half-open)
//   - Adaptive required-interval backoff grown and decayed by outcome
//   - Three-tier TTL cache with priority-driven write fan-out
//   - Ordered fallback chain producing confidence-tagged best-effort answers
//   - Per-service call quota, in-flight coalescing, Prometheus metrics
//
// Design goals:
//   - Callers always get a structured Response within their timeout, never a
//     raw upstream error and never an unbounded wait
//   - A synthetic or degraded answer is always visibly tagged as such via
//     Source and Confidence; it can never pass for a live measurement
//   - Per-service lock granularity: unrelated services never contend
//
// Typical usage:
//
//	gw, err := tahan.New(
//	    tahan.WithCredentials(tahan.ServiceVision, "key-a", "key-b"),
//	    tahan.WithHTTPEndpoints(map[tahan.ServiceType]string{
//	        tahan.ServiceVision: "https://inference.example.com/v1/vision",
//	    }),
//	    tahan.WithBatchSize(5),
//	    tahan.WithMetrics(),
//	)
//	resp := gw.Submit(ctx, &tahan.Request{
//	    Service:  tahan.ServiceVision,
//	    Payload:  frame,
//	    Priority: tahan.PriorityHigh,
//	})
//
// Submit is safe for concurrent use from any number of goroutines; one
// background worker per service type owns all upstream I/O.
package tahan

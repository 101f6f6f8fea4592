package tahan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the gateway's request
// lifecycle and reliability layers. All methods are nil-safe so the gateway
// can run without metrics. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	batchFlushSize *prometheus.HistogramVec

	fallbacksTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	backoffInterval     *prometheus.GaugeVec

	credentialBlacklists *prometheus.CounterVec
	quotaDenials         *prometheus.CounterVec

	coalescedRequests *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_requests_total",
				Help: "Total number of resolved requests",
			},
			[]string{"service", "source"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tahan_request_duration_seconds",
				Help:    "Duration from submit to resolution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "source"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"service", "tier"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"service"},
		),
		batchFlushSize: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tahan_batch_flush_size",
				Help:    "Number of requests combined per upstream batch call",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
			},
			[]string{"service"},
		),
		fallbacksTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_fallbacks_total",
				Help: "Total number of requests resolved by a fallback strategy",
			},
			[]string{"service", "strategy"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tahan_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		backoffInterval: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tahan_backoff_interval_seconds",
				Help: "Current required interval between upstream calls",
			},
			[]string{"service"},
		),
		credentialBlacklists: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_credential_blacklists_total",
				Help: "Total number of credential blacklisting events",
			},
			[]string{"service"},
		),
		quotaDenials: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_quota_denials_total",
				Help: "Total number of flushes denied by the local quota",
			},
			[]string{"service"},
		),
		coalescedRequests: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_coalesced_requests_total",
				Help: "Total number of requests coalesced onto an identical in-flight request",
			},
			[]string{"service"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tahan_errors_total",
				Help: "Total number of upstream and internal errors by type",
			},
			[]string{"service", "type"},
		),
	}
}

// RecordRequest records one resolved request with its duration.
func (mc *MetricsCollector) RecordRequest(service, source string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(service, source).Inc()
	mc.requestDuration.WithLabelValues(service, source).Observe(duration.Seconds())
}

// RecordCacheHit increments the cache hit counter for a tier.
func (mc *MetricsCollector) RecordCacheHit(service, tier string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(service, tier).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(service string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(service).Inc()
}

// RecordBatchFlush observes the size of one flushed batch.
func (mc *MetricsCollector) RecordBatchFlush(service string, size int) {
	if mc == nil {
		return
	}

	mc.batchFlushSize.WithLabelValues(service).Observe(float64(size))
}

// RecordFallback increments the fallback counter for a strategy.
func (mc *MetricsCollector) RecordFallback(service, strategy string) {
	if mc == nil {
		return
	}

	mc.fallbacksTotal.WithLabelValues(service, strategy).Inc()
}

// RecordCircuitState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitState(service string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(service).Set(stateValue)
}

// RecordBackoffInterval sets the required-interval gauge.
func (mc *MetricsCollector) RecordBackoffInterval(service string, interval time.Duration) {
	if mc == nil {
		return
	}

	mc.backoffInterval.WithLabelValues(service).Set(interval.Seconds())
}

// RecordCredentialBlacklist increments the blacklisting counter.
func (mc *MetricsCollector) RecordCredentialBlacklist(service string) {
	if mc == nil {
		return
	}

	mc.credentialBlacklists.WithLabelValues(service).Inc()
}

// RecordQuotaDenial increments the quota denial counter.
func (mc *MetricsCollector) RecordQuotaDenial(service string) {
	if mc == nil {
		return
	}

	mc.quotaDenials.WithLabelValues(service).Inc()
}

// RecordCoalesced increments the coalesced-request counter.
func (mc *MetricsCollector) RecordCoalesced(service string) {
	if mc == nil {
		return
	}

	mc.coalescedRequests.WithLabelValues(service).Inc()
}

// RecordError increments the error counter by taxonomy type.
func (mc *MetricsCollector) RecordError(service, errorType string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(service, errorType).Inc()
}

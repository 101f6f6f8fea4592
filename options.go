package tahan

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WithCredentials sets the credential tokens for a service. Configuring a
// service implicitly enables it; each configured service gets its own batch
// worker and reliability state.
func WithCredentials(service ServiceType, tokens ...string) Option {
	return func(g *Gateway) {
		g.credentials[service] = tokens
	}
}

// WithHTTPEndpoints sets the upstream URL per service for the built-in HTTP
// transport. Ignored when a custom Transport is supplied.
func WithHTTPEndpoints(endpoints map[ServiceType]string) Option {
	return func(g *Gateway) {
		for svc, url := range endpoints {
			g.endpoints[svc] = url
		}
	}
}

// WithTransport replaces the built-in HTTP transport.
func WithTransport(t Transport) Option {
	return func(g *Gateway) {
		g.transport = t
	}
}

// WithHTTPClient sets the HTTP client used by the built-in transport.
// Ignored when a custom Transport is supplied.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// WithBatchSize sets how many requests are combined per upstream call.
func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		g.batchSize = n
	}
}

// WithBatchTimeout sets how long a partial batch waits before flushing.
func WithBatchTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.batchTimeout = d
	}
}

// WithQueueSize sets the per-service pending queue capacity.
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		g.queueSize = n
	}
}

// WithMaxRetries sets how many extra live attempts a request gets before
// falling back.
func WithMaxRetries(n int) Option {
	return func(g *Gateway) {
		g.maxRetries = n
	}
}

// WithRequestTimeout sets the default caller wait budget per request,
// overridable per request via Request.Timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.requestTimeout = d
	}
}

// WithUpstreamTimeout bounds one upstream exchange.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.upstreamTimeout = d
	}
}

// WithCircuitBreaker sets the per-service circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(g *Gateway) {
		g.breakerConfig = config
	}
}

// WithBackoff sets the upstream call pacing baseline and cap.
func WithBackoff(baseline, max time.Duration) Option {
	return func(g *Gateway) {
		g.backoffBaseline = baseline
		g.backoffMax = max
	}
}

// WithQuota sets the local per-service upstream call budget per minute.
func WithQuota(perMinute int) Option {
	return func(g *Gateway) {
		g.quotaPerMinute = perMinute
	}
}

// WithCredentialCooldown sets how long a rate-limited credential stays
// blacklisted.
func WithCredentialCooldown(d time.Duration) Option {
	return func(g *Gateway) {
		g.credCooldown = d
	}
}

// WithCacheTTLs sets the three cache tier TTLs.
func WithCacheTTLs(short, medium, long time.Duration) Option {
	return func(g *Gateway) {
		g.shortTTL = short
		g.mediumTTL = medium
		g.longTTL = long
	}
}

// WithTierStore replaces the in-memory cache backend, for example with a
// RedisStore shared between processes.
func WithTierStore(store TierStore) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

// WithEstimator supplies the local heuristic used by the fallback chain.
func WithEstimator(e Estimator) Option {
	return func(g *Gateway) {
		g.estimator = e
	}
}

// WithDefaultFallback sets the last-resort payload for a service.
func WithDefaultFallback(service ServiceType, payload []byte) Option {
	return func(g *Gateway) {
		g.fallbackDefaults[service] = payload
	}
}

// WithoutCoalescing disables merging of identical in-flight requests.
func WithoutCoalescing() Option {
	return func(g *Gateway) {
		g.coalesce = false
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger.
func WithSimpleLogger() Option {
	return func(g *Gateway) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.Enabled = true
		g.logger = NewSimpleLogger()
	}
}

// WithZapLogger enables debug logging through a zap logger.
func WithZapLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.Enabled = true
		g.logger = NewZapLogger(l)
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(g *Gateway) {
		if g.debug == nil {
			g.debug = DefaultDebugConfig()
		}
		g.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(g *Gateway) {
		g.debug = config
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(g *Gateway) {
		g.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(g *Gateway) {
		g.metrics = mc
	}
}

// WithRequestIDGenerator replaces the default UUID request ID generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(g *Gateway) {
		g.requestID = gen
	}
}

// WithCallbackWorkers bounds how many SubmitAsync callbacks run concurrently.
func WithCallbackWorkers(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.callbackSem = make(chan struct{}, n)
		}
	}
}

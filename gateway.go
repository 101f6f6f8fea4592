package tahan

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tahan-dev/tahan/internal/backoff"
)

// Request handling defaults.
const (
	DefaultMaxRetries       = 1
	DefaultRequestTimeout   = 10 * time.Second
	DefaultCallbackWorkers  = 16
	DefaultRetryDelay       = 200 * time.Millisecond
	DefaultRetryDelayMax    = 2 * time.Second
	DefaultRetryDelayJitter = 0.2
)

// gatewayCounters are the lifetime statistics, updated lock-free from the
// submit path and the batch workers.
type gatewayCounters struct {
	totalRequests    atomic.Int64
	batchedRequests  atomic.Int64
	cacheHits        atomic.Int64
	fallbacksUsed    atomic.Int64
	failedRequests   atomic.Int64
	rateLimitAvoided atomic.Int64
}

// Stats is a snapshot of gateway activity. SuccessRatePercent counts requests
// answered with real data (live, batch or cache) against everything submitted;
// degraded fallbacks and failed submissions both count against it.
type Stats struct {
	TotalRequests      int64   `json:"total_requests"`
	BatchedRequests    int64   `json:"batched_requests"`
	CacheHits          int64   `json:"cache_hits"`
	FallbacksUsed      int64   `json:"fallbacks_used"`
	FailedRequests     int64   `json:"failed_requests"`
	RateLimitAvoided   int64   `json:"rate_limit_avoided"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
}

// serviceState bundles the per-service reliability machinery: one batch
// worker, credential pool, circuit breaker, call pacing and quota.
type serviceState struct {
	breaker   *CircuitBreaker
	backoff   *BackoffController
	pool      *CredentialPool
	quota     *QuotaLimiter
	collector *BatchCollector
}

// Gateway mediates between concurrent callers and metered inference
// endpoints. Every submitted request resolves to exactly one Response; the
// gateway absorbs upstream failures into cache hits or fallback answers
// rather than surfacing them.
type Gateway struct {
	transport  Transport
	httpClient *http.Client
	store      TierStore
	cache      *TieredCache
	fallback   *FallbackChain

	services map[ServiceType]*serviceState

	// configuration, fixed after New
	credentials      map[ServiceType][]string
	endpoints        map[ServiceType]string
	estimator        Estimator
	fallbackDefaults map[ServiceType][]byte

	batchSize    int
	batchTimeout time.Duration
	queueSize    int

	maxRetries      int
	requestTimeout  time.Duration
	upstreamTimeout time.Duration
	retryDelay      *backoff.Calculator

	breakerConfig   CircuitBreakerConfig
	backoffBaseline time.Duration
	backoffMax      time.Duration
	quotaPerMinute  int
	credCooldown    time.Duration

	shortTTL  time.Duration
	mediumTTL time.Duration
	longTTL   time.Duration

	coalesce bool
	group    singleflight.Group

	logger    Logger
	debug     *DebugConfig
	metrics   *MetricsCollector
	requestID func() string

	counters    gatewayCounters
	callbackSem chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a Gateway with the given options. At least one service must be
// configured with credentials, and either an HTTP endpoint per service or a
// custom Transport must be provided.
func New(options ...Option) (*Gateway, error) {
	g := &Gateway{
		credentials:      make(map[ServiceType][]string),
		endpoints:        make(map[ServiceType]string),
		fallbackDefaults: make(map[ServiceType][]byte),
		batchSize:        DefaultBatchSize,
		batchTimeout:     DefaultBatchTimeout,
		queueSize:        DefaultQueueSize,
		maxRetries:       DefaultMaxRetries,
		requestTimeout:   DefaultRequestTimeout,
		upstreamTimeout:  DefaultUpstreamTimeout,
		breakerConfig: CircuitBreakerConfig{
			MaxFailures:    DefaultMaxFailures,
			OpenTimeout:    DefaultOpenTimeout,
			MaxOpenTimeout: DefaultMaxOpenTimeout,
		},
		backoffBaseline: DefaultBackoffBaseline,
		backoffMax:      DefaultBackoffMax,
		quotaPerMinute:  DefaultQuotaPerMinute,
		credCooldown:    DefaultCredentialCooldown,
		shortTTL:        DefaultShortTTL,
		mediumTTL:       DefaultMediumTTL,
		longTTL:         DefaultLongTTL,
		coalesce:        true,
		debug:           DefaultDebugConfig(),
		requestID:       func() string { return uuid.NewString() },
		callbackSem:     make(chan struct{}, DefaultCallbackWorkers),
		done:            make(chan struct{}),
	}

	for _, opt := range options {
		opt(g)
	}

	if err := g.ValidateConfiguration(); err != nil {
		return nil, err
	}

	if g.debug == nil {
		g.debug = DefaultDebugConfig()
	}

	if g.transport == nil {
		g.transport = NewHTTPTransport(g.httpClient, g.endpoints)
	}
	if g.store == nil {
		g.store = NewInMemoryStore()
	}
	if g.retryDelay == nil {
		g.retryDelay = backoff.NewCalculator(DefaultRetryDelay, DefaultRetryDelayMax, 2, DefaultRetryDelayJitter)
	}
	g.cache = NewTieredCache(g.store, g.shortTTL, g.mediumTTL, g.longTTL)
	g.fallback = NewFallbackChain(g.cache, g.estimator, g.fallbackDefaults)

	g.services = make(map[ServiceType]*serviceState, len(g.credentials))
	for svc, tokens := range g.credentials {
		st := &serviceState{
			breaker: NewCircuitBreaker(g.breakerConfig),
			backoff: NewBackoffController(g.backoffBaseline, g.backoffMax),
			pool:    NewCredentialPool(tokens, g.credCooldown),
			quota:   NewQuotaLimiter(g.quotaPerMinute),
		}
		st.collector = newBatchCollector(svc, collectorConfig{
			queueSize:       g.queueSize,
			batchSize:       g.batchSize,
			batchTimeout:    g.batchTimeout,
			upstreamTimeout: g.upstreamTimeout,
			transport:       g.transport,
			pool:            st.pool,
			backoff:         st.backoff,
			breaker:         st.breaker,
			quota:           st.quota,
			counters:        &g.counters,
			metrics:         g.metrics,
			logger:          g.logger,
			debug:           g.debug,
			done:            g.done,
		})
		g.services[svc] = st
		go st.collector.run()
	}

	return g, nil
}

// ValidateConfiguration checks for invalid or inconsistent settings.
func (g *Gateway) ValidateConfiguration() error {
	if len(g.credentials) == 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "at least one service must have credentials"}
	}
	for svc, tokens := range g.credentials {
		if len(tokens) == 0 {
			return &GatewayError{Type: ErrorTypeValidation, Service: svc, Message: "empty credential list"}
		}
		if g.transport == nil && g.endpoints[svc] == "" {
			return &GatewayError{Type: ErrorTypeValidation, Service: svc, Message: "no endpoint or transport configured"}
		}
	}
	if g.batchSize <= 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "batch size must be positive"}
	}
	if g.batchTimeout <= 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "batch timeout must be positive"}
	}
	if g.queueSize <= 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "queue size must be positive"}
	}
	if g.maxRetries < 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "max retries cannot be negative"}
	}
	if g.requestTimeout <= 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "request timeout must be positive"}
	}
	if g.upstreamTimeout <= 0 {
		return &GatewayError{Type: ErrorTypeValidation, Message: "upstream timeout must be positive"}
	}
	return nil
}

// Submit resolves one request. It always returns a Response: a live or
// batched upstream answer, a cache hit, or a degraded fallback. The only
// unsuccessful responses are validation failures and submission after Close.
func (g *Gateway) Submit(ctx context.Context, req *Request) *Response {
	start := time.Now()

	if req == nil {
		return &Response{Success: false, Error: "nil request", Source: "none"}
	}
	if req.ID == "" {
		req.ID = g.requestID()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = start
	}

	if g.closed.Load() {
		return g.errorResponse(req, ErrGatewayClosed, start)
	}

	g.counters.totalRequests.Add(1)

	st, ok := g.services[req.Service]
	if !ok {
		return g.failedResponse(req, &GatewayError{
			Type:    ErrorTypeValidation,
			Service: req.Service,
			Message: "unknown service",
		}, start)
	}
	if len(req.Payload) == 0 {
		return g.failedResponse(req, &GatewayError{
			Type:    ErrorTypeValidation,
			Service: req.Service,
			Message: "empty payload",
		}, start)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.requestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fp := Fingerprint(req.Service, req.Payload)

	if entry, tier, _, ok := g.cache.Get(ctx, fp); ok {
		g.counters.cacheHits.Add(1)
		g.metrics.RecordCacheHit(string(req.Service), tier.String())
		if g.debugEnabled(g.debug.LogCache) {
			g.logger.Debug("Cache hit", "requestID", req.ID, "service", req.Service, "tier", tier.String())
		}
		resp := &Response{
			RequestID:  req.ID,
			Success:    true,
			Data:       entry.Data,
			Source:     "cache:" + tier.String(),
			Confidence: entry.Confidence,
			Latency:    time.Since(start),
		}
		g.metrics.RecordRequest(string(req.Service), resp.Source, resp.Latency)
		return resp
	}
	g.metrics.RecordCacheMiss(string(req.Service))

	if !g.coalesce {
		return g.resolve(ctx, st, req, fp, start)
	}

	key := string(req.Service) + ":" + fp
	ch := g.group.DoChan(key, func() (interface{}, error) {
		return g.resolve(ctx, st, req, fp, start), nil
	})
	select {
	case res := <-ch:
		resp := res.Val.(*Response)
		if resp.RequestID != req.ID {
			// A waiter coalesced onto the leader's in-flight resolution.
			clone := *resp
			clone.RequestID = req.ID
			clone.Latency = time.Since(start)
			g.counters.rateLimitAvoided.Add(1)
			g.metrics.RecordCoalesced(string(req.Service))
			return &clone
		}
		return resp
	case <-ctx.Done():
		// This caller's budget expired before the shared resolution
		// finished. It is answered from the fallback chain on its own
		// deadline; the shared flight keeps running for the others.
		g.group.Forget(key)
		return g.fallbackResponse(ctx, st, req, fp, "timeout", start)
	}
}

// SubmitAsync resolves the request on a bounded background worker and hands
// the response to callback. The callback must not block indefinitely.
func (g *Gateway) SubmitAsync(ctx context.Context, req *Request, callback func(*Response)) {
	go func() {
		select {
		case g.callbackSem <- struct{}{}:
		case <-g.done:
			callback(g.errorResponse(req, ErrGatewayClosed, time.Now()))
			return
		}
		defer func() { <-g.callbackSem }()
		callback(g.Submit(ctx, req))
	}()
}

// resolve runs the live path with retries, falling back when the upstream
// cannot be used within the caller's budget.
func (g *Gateway) resolve(ctx context.Context, st *serviceState, req *Request, fp string, start time.Time) *Response {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.retryDelay.Delay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return g.fallbackResponse(ctx, st, req, fp, "timeout", start)
			}
		}

		if !st.breaker.Allow() {
			if g.debugEnabled(g.debug.LogCircuit) {
				g.logger.Warn("Circuit open, skipping upstream", "requestID", req.ID, "service", req.Service)
			}
			g.counters.rateLimitAvoided.Add(1)
			return g.fallbackResponse(ctx, st, req, fp, "circuit_open", start)
		}
		// A rate limit blacklisted the credential and grew the pacing
		// interval, but the pool rotated to a fresh one. The in-budget retry
		// goes straight through on the rotated credential; the grown interval
		// paces the calls that follow.
		retryOnRotated := attempt > 0 && IsRateLimited(lastErr)
		if !retryOnRotated && !st.backoff.CanCall() {
			st.breaker.releaseProbe()
			g.counters.rateLimitAvoided.Add(1)
			return g.fallbackResponse(ctx, st, req, fp, "backoff_active", start)
		}

		out, err := g.dispatch(ctx, st, req)
		if err == nil {
			g.cache.Put(ctx, fp, out.data, req.Priority, out.confidence)
			resp := &Response{
				RequestID:  req.ID,
				Success:    true,
				Data:       out.data,
				Source:     out.source,
				Confidence: out.confidence,
				Latency:    time.Since(start),
			}
			g.metrics.RecordRequest(string(req.Service), out.source, resp.Latency)
			if g.debugEnabled(g.debug.LogRequests) {
				g.logger.Debug("Request resolved", "requestID", req.ID, "service", req.Service, "source", out.source)
			}
			return resp
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// The caller's budget expired while the request sat in the queue
			// or waited for a slow upstream. Treated as upstream pressure.
			st.breaker.RecordFailure()
			st.backoff.RecordRateLimited()
			return g.fallbackResponse(ctx, st, req, fp, "timeout", start)
		}

		switch {
		case errors.Is(err, ErrQuotaExceeded):
			st.breaker.releaseProbe()
			g.counters.rateLimitAvoided.Add(1)
			return g.fallbackResponse(ctx, st, req, fp, "quota_exhausted", start)
		case errors.Is(err, ErrExhaustedCredentials):
			st.breaker.releaseProbe()
			return g.fallbackResponse(ctx, st, req, fp, "credentials_exhausted", start)
		case errors.Is(err, ErrQueueFull):
			st.breaker.releaseProbe()
			return g.fallbackResponse(ctx, st, req, fp, "queue_full", start)
		case errors.Is(err, ErrGatewayClosed):
			st.breaker.releaseProbe()
			return g.failedResponse(req, err, start)
		}

		g.metrics.RecordError(string(req.Service), ErrorType(err))
		if !IsTransient(err) {
			break
		}
	}

	return g.fallbackResponse(ctx, st, req, fp, fallbackReason(lastErr), start)
}

// dispatch enqueues the request onto the service's batch worker and waits for
// its outcome or the caller's deadline.
func (g *Gateway) dispatch(ctx context.Context, st *serviceState, req *Request) (batchOutcome, error) {
	item := &batchItem{
		id:         req.ID,
		payload:    req.Payload,
		priority:   req.Priority,
		enqueuedAt: time.Now(),
		result:     make(chan batchOutcome, 1),
	}
	if err := st.collector.enqueue(item); err != nil {
		return batchOutcome{}, err
	}

	select {
	case out := <-item.result:
		if out.err != nil {
			return batchOutcome{}, out.err
		}
		return out, nil
	case <-ctx.Done():
		return batchOutcome{}, ctx.Err()
	}
}

// fallbackResponse resolves via the fallback chain and records the
// bookkeeping. Heuristic answers are cached so repeated degraded requests do
// not rerun the estimator; stale and synthetic answers are not.
func (g *Gateway) fallbackResponse(ctx context.Context, st *serviceState, req *Request, fp, reason string, start time.Time) *Response {
	resp := g.fallback.Resolve(ctx, req, fp, reason)
	resp.Latency = time.Since(start)

	g.counters.fallbacksUsed.Add(1)
	g.metrics.RecordFallback(string(req.Service), resp.Source)
	g.metrics.RecordRequest(string(req.Service), resp.Source, resp.Latency)
	if g.debugEnabled(g.debug.LogFallbacks) {
		g.logger.Info("Fallback answer", "requestID", req.ID, "service", req.Service,
			"strategy", resp.Source, "reason", reason)
	}

	if resp.Source == SourceFallbackHeuristic {
		g.cache.Put(ctx, fp, resp.Data, PriorityMedium, resp.Confidence)
	}
	return resp
}

// failedResponse is errorResponse for requests already counted in the totals.
func (g *Gateway) failedResponse(req *Request, err error, start time.Time) *Response {
	g.counters.failedRequests.Add(1)
	return g.errorResponse(req, err, start)
}

func (g *Gateway) errorResponse(req *Request, err error, start time.Time) *Response {
	id := ""
	if req != nil {
		id = req.ID
	}
	return &Response{
		RequestID: id,
		Success:   false,
		Error:     err.Error(),
		Source:    "none",
		Latency:   time.Since(start),
	}
}

// fallbackReason maps a terminal error onto the reason tag carried by the
// degraded response.
func fallbackReason(err error) string {
	switch ErrorType(err) {
	case ErrorTypeRateLimited:
		return "rate_limited"
	case ErrorTypeServer:
		return "upstream_error"
	case ErrorTypeNetwork:
		return "network_error"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeParse:
		return "parse_error"
	case ErrorTypeBatchSplit:
		return "batch_split_failure"
	case ErrorTypeExhaustedCredentials:
		return "credentials_exhausted"
	case ErrorTypeQuota:
		return "quota_exhausted"
	default:
		return "upstream_error"
	}
}

// Stats returns a snapshot of gateway activity counters.
func (g *Gateway) Stats() Stats {
	total := g.counters.totalRequests.Load()
	fallbacks := g.counters.fallbacksUsed.Load()
	failed := g.counters.failedRequests.Load()
	s := Stats{
		TotalRequests:    total,
		BatchedRequests:  g.counters.batchedRequests.Load(),
		CacheHits:        g.counters.cacheHits.Load(),
		FallbacksUsed:    fallbacks,
		FailedRequests:   failed,
		RateLimitAvoided: g.counters.rateLimitAvoided.Load(),
	}
	if total > 0 {
		answered := total - fallbacks - failed
		if answered < 0 {
			answered = 0
		}
		s.SuccessRatePercent = float64(answered) / float64(total) * 100
	}
	return s
}

// CircuitState reports the breaker state for a service, StateClosed for
// unknown services.
func (g *Gateway) CircuitState(service ServiceType) CircuitState {
	if st, ok := g.services[service]; ok {
		return st.breaker.State()
	}
	return StateClosed
}

// AvailableCredentials reports how many credentials are usable for a service.
func (g *Gateway) AvailableCredentials(service ServiceType) int {
	if st, ok := g.services[service]; ok {
		return st.pool.Available()
	}
	return 0
}

// Close stops the batch workers. Queued requests resolve with a gateway
// closed error; Submit after Close returns an unsuccessful response.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		close(g.done)
	})
}

func (g *Gateway) debugEnabled(flag bool) bool {
	return g.debug != nil && g.debug.Enabled && flag && g.logger != nil
}

package tahan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Batching defaults. Batching N items reduces upstream call count by up to
// (N-1)/N, which is the main lever against quota exhaustion.
const (
	DefaultBatchSize    = 5
	DefaultBatchTimeout = 2 * time.Second
	DefaultQueueSize    = 256

	// individualDispatchLimit bounds concurrent per-item calls after a
	// combined reply could not be demultiplexed.
	individualDispatchLimit = 3
)

// batchItem is one pending request inside a collector queue. The result
// channel is buffered so a caller that times out and walks away never blocks
// the worker or corrupts the flush for the other waiters.
type batchItem struct {
	id         string
	payload    []byte
	priority   Priority
	enqueuedAt time.Time
	result     chan batchOutcome
}

type batchOutcome struct {
	data       []byte
	source     string
	confidence Confidence
	err        error
}

// BatchCollector owns the queue and the single worker goroutine for one
// service type. Items accumulate until the batch size is reached or the batch
// timeout elapses since the first queued item, then flush as one combined
// upstream call. A lone leftover item dispatches as a plain single call.
type BatchCollector struct {
	service         ServiceType
	queue           chan *batchItem
	batchSize       int
	batchTimeout    time.Duration
	upstreamTimeout time.Duration

	transport Transport
	pool      *CredentialPool
	backoff   *BackoffController
	breaker   *CircuitBreaker
	quota     *QuotaLimiter

	counters *gatewayCounters
	metrics  *MetricsCollector
	logger   Logger
	debug    *DebugConfig

	done chan struct{}
}

func newBatchCollector(service ServiceType, cfg collectorConfig) *BatchCollector {
	return &BatchCollector{
		service:         service,
		queue:           make(chan *batchItem, cfg.queueSize),
		batchSize:       cfg.batchSize,
		batchTimeout:    cfg.batchTimeout,
		upstreamTimeout: cfg.upstreamTimeout,
		transport:       cfg.transport,
		pool:            cfg.pool,
		backoff:         cfg.backoff,
		breaker:         cfg.breaker,
		quota:           cfg.quota,
		counters:        cfg.counters,
		metrics:         cfg.metrics,
		logger:          cfg.logger,
		debug:           cfg.debug,
		done:            cfg.done,
	}
}

type collectorConfig struct {
	queueSize       int
	batchSize       int
	batchTimeout    time.Duration
	upstreamTimeout time.Duration
	transport       Transport
	pool            *CredentialPool
	backoff         *BackoffController
	breaker         *CircuitBreaker
	quota           *QuotaLimiter
	counters        *gatewayCounters
	metrics         *MetricsCollector
	logger          Logger
	debug           *DebugConfig
	done            chan struct{}
}

// enqueue hands an item to the worker without blocking the caller.
func (bc *BatchCollector) enqueue(item *batchItem) error {
	select {
	case bc.queue <- item:
		return nil
	case <-bc.done:
		return ErrGatewayClosed
	default:
		return ErrQueueFull
	}
}

// run is the worker loop. One goroutine per service type; all upstream I/O
// for the service happens here.
func (bc *BatchCollector) run() {
	for {
		select {
		case <-bc.done:
			bc.drainQueue()
			return
		case first := <-bc.queue:
			batch := []*batchItem{first}
			timer := time.NewTimer(bc.batchTimeout)
		collect:
			for len(batch) < bc.batchSize {
				select {
				case item := <-bc.queue:
					batch = append(batch, item)
				case <-timer.C:
					break collect
				case <-bc.done:
					timer.Stop()
					bc.failAll(batch, ErrGatewayClosed)
					bc.drainQueue()
					return
				}
			}
			timer.Stop()
			bc.flush(batch)
		}
	}
}

func (bc *BatchCollector) drainQueue() {
	for {
		select {
		case item := <-bc.queue:
			item.result <- batchOutcome{err: ErrGatewayClosed}
		default:
			return
		}
	}
}

func (bc *BatchCollector) failAll(batch []*batchItem, err error) {
	for _, item := range batch {
		item.result <- batchOutcome{err: err}
	}
}

// flush performs one upstream call for the collected batch and demultiplexes
// the reply onto the waiting items.
func (bc *BatchCollector) flush(batch []*batchItem) {
	if bc.quota != nil && !bc.quota.Allow() {
		if bc.debugEnabled(bc.debug.LogBatches) {
			bc.logger.Warn("Local quota spent, skipping upstream", "service", bc.service, "pending", len(batch))
		}
		bc.metrics.RecordQuotaDenial(string(bc.service))
		bc.failAll(batch, ErrQuotaExceeded)
		return
	}

	cred, err := bc.pool.Acquire()
	if err != nil {
		bc.failAll(batch, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bc.upstreamTimeout)
	defer cancel()

	bc.backoff.RecordCall()

	if len(batch) == 1 {
		bc.dispatchSingle(ctx, cred, batch[0], SourceLive)
		return
	}

	payloads := make([][]byte, len(batch))
	for i, item := range batch {
		payloads[i] = item.payload
	}

	combined, err := bc.transport.DoBatch(ctx, cred, bc.service, payloads)
	bc.recordOutcome(cred, err)

	if err != nil {
		if ErrorType(err) == ErrorTypeParse {
			// Malformed combined reply: re-dispatch the items individually
			// before giving up on them.
			bc.dispatchIndividually(batch)
			return
		}
		bc.failAll(batch, err)
		return
	}

	parts, splitErr := splitBatchResponse(string(combined), len(batch))
	if splitErr != nil {
		if bc.debugEnabled(bc.debug.LogBatches) {
			bc.logger.Warn("Combined reply could not be split", "service", bc.service, "items", len(batch), "error", splitErr.Error())
		}
		bc.dispatchIndividually(batch)
		return
	}

	for i, item := range batch {
		item.result <- batchOutcome{
			data:       parts[i].data,
			source:     SourceBatch,
			confidence: parts[i].confidence,
		}
	}

	bc.counters.batchedRequests.Add(int64(len(batch)))
	bc.counters.rateLimitAvoided.Add(int64(len(batch) - 1))
	bc.metrics.RecordBatchFlush(string(bc.service), len(batch))
	if bc.debugEnabled(bc.debug.LogBatches) {
		bc.logger.Info("Batch flushed", "service", bc.service, "items", len(batch))
	}
}

// dispatchSingle issues a plain single-item call and resolves the item.
func (bc *BatchCollector) dispatchSingle(ctx context.Context, cred Credential, item *batchItem, source string) {
	data, err := bc.transport.Do(ctx, cred, bc.service, item.payload)
	bc.recordOutcome(cred, err)
	if err != nil {
		item.result <- batchOutcome{err: err}
		return
	}
	item.result <- batchOutcome{data: data, source: source, confidence: ConfidenceHigh}
}

// dispatchIndividually retries each item of an unsplittable batch as its own
// upstream call. Each call acquires its own credential so a mid-run
// blacklisting rotates cleanly, and spends its own quota token since the
// combined call already consumed the one the batch was admitted on.
func (bc *BatchCollector) dispatchIndividually(batch []*batchItem) {
	var g errgroup.Group
	g.SetLimit(individualDispatchLimit)

	for _, item := range batch {
		item := item
		g.Go(func() error {
			if bc.quota != nil && !bc.quota.Allow() {
				bc.metrics.RecordQuotaDenial(string(bc.service))
				item.result <- batchOutcome{err: ErrQuotaExceeded}
				return nil
			}
			cred, err := bc.pool.Acquire()
			if err != nil {
				item.result <- batchOutcome{err: err}
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), bc.upstreamTimeout)
			defer cancel()
			bc.backoff.RecordCall()
			bc.dispatchSingle(ctx, cred, item, SourceLive)
			return nil
		})
	}
	g.Wait()
}

// recordOutcome applies one upstream outcome to the failure-mode state: a
// success resets the breaker and decays the backoff, a rate limit blacklists
// the credential and grows both, any other failure counts against the breaker.
func (bc *BatchCollector) recordOutcome(cred Credential, err error) {
	switch {
	case err == nil:
		bc.breaker.RecordSuccess()
		bc.backoff.RecordSuccess()
	case IsRateLimited(err):
		bc.pool.Blacklist(cred.Token)
		bc.backoff.RecordRateLimited()
		bc.breaker.RecordFailure()
		bc.metrics.RecordCredentialBlacklist(string(bc.service))
		if bc.debugEnabled(bc.debug.LogCircuit) {
			bc.logger.Warn("Rate limited, credential blacklisted", "service", bc.service,
				"requiredInterval", bc.backoff.RequiredInterval(), "available", bc.pool.Available())
		}
	default:
		bc.breaker.RecordFailure()
	}
	bc.metrics.RecordCircuitState(string(bc.service), bc.breaker.State())
	bc.metrics.RecordBackoffInterval(string(bc.service), bc.backoff.RequiredInterval())
}

func (bc *BatchCollector) debugEnabled(flag bool) bool {
	return bc.debug != nil && bc.debug.Enabled && flag && bc.logger != nil
}

// splitPart is one demultiplexed slice of a combined reply. Positional
// (proportional) attribution is marked medium confidence since it is not
// verified against the delimiters.
type splitPart struct {
	data       []byte
	confidence Confidence
}

func batchRequestMarker(i int) string {
	return fmt.Sprintf("REQUEST_%d:", i)
}

func batchResponseMarker(i int) string {
	return fmt.Sprintf("REQUEST_%d_RESPONSE:", i)
}

// splitBatchResponse demultiplexes a combined reply for n items. It prefers
// explicit per-item delimiters; items whose delimiter is missing fall back to
// proportional text-splitting by position. A reply too short to split at all
// is a BatchSplitFailure.
func splitBatchResponse(combined string, n int) ([]splitPart, error) {
	combined = strings.TrimSpace(combined)
	if combined == "" {
		return nil, &GatewayError{Type: ErrorTypeBatchSplit, Message: "empty combined reply"}
	}
	if n <= 0 {
		return nil, &GatewayError{Type: ErrorTypeBatchSplit, Message: "no items to split for"}
	}

	positions := make([]int, n)
	found := 0
	for i := 0; i < n; i++ {
		positions[i] = strings.Index(combined, batchResponseMarker(i+1))
		if positions[i] >= 0 {
			found++
		}
	}

	if found == 0 && len(combined) < n {
		return nil, &GatewayError{Type: ErrorTypeBatchSplit, Message: "combined reply too short for positional split"}
	}

	parts := make([]splitPart, n)
	chunk := len(combined) / n
	for i := 0; i < n; i++ {
		if positions[i] < 0 {
			start := i * chunk
			end := start + chunk
			if i == n-1 {
				end = len(combined)
			}
			parts[i] = splitPart{
				data:       []byte(strings.TrimSpace(combined[start:end])),
				confidence: ConfidenceMedium,
			}
			continue
		}

		start := positions[i] + len(batchResponseMarker(i+1))
		end := len(combined)
		for j := i + 1; j < n; j++ {
			if positions[j] > positions[i] {
				end = positions[j]
				break
			}
		}
		parts[i] = splitPart{
			data:       []byte(strings.TrimSpace(combined[start:end])),
			confidence: ConfidenceHigh,
		}
	}
	return parts, nil
}

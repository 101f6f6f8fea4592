package tahan

import (
	"testing"
	"time"
)

func TestOptionsApply(t *testing.T) {
	custom := NewInMemoryStore()
	estimator := func(service ServiceType, payload []byte) ([]byte, error) { return []byte("e"), nil }

	g, err := New(
		WithTransport(&recordingTransport{}),
		WithCredentials(ServiceVision, "k1", "k2"),
		WithCredentials(ServiceGeo, "g1"),
		WithBatchSize(3),
		WithBatchTimeout(time.Second),
		WithQueueSize(64),
		WithMaxRetries(2),
		WithRequestTimeout(5*time.Second),
		WithUpstreamTimeout(15*time.Second),
		WithCircuitBreaker(CircuitBreakerConfig{MaxFailures: 7}),
		WithBackoff(10*time.Second, 100*time.Second),
		WithQuota(30),
		WithCredentialCooldown(time.Minute),
		WithCacheTTLs(time.Minute, 2*time.Minute, 3*time.Minute),
		WithTierStore(custom),
		WithEstimator(estimator),
		WithDefaultFallback(ServiceVision, []byte(`{"n":1}`)),
		WithoutCoalescing(),
		WithRequestIDGenerator(func() string { return "fixed" }),
		WithCallbackWorkers(4),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer g.Close()

	if len(g.services) != 2 {
		t.Errorf("Expected 2 services, got %d", len(g.services))
	}
	if g.batchSize != 3 || g.batchTimeout != time.Second || g.queueSize != 64 {
		t.Error("Batch options not applied")
	}
	if g.maxRetries != 2 || g.requestTimeout != 5*time.Second || g.upstreamTimeout != 15*time.Second {
		t.Error("Timeout options not applied")
	}
	if g.breakerConfig.MaxFailures != 7 {
		t.Errorf("Expected breaker threshold 7, got %d", g.breakerConfig.MaxFailures)
	}
	if g.store != TierStore(custom) {
		t.Error("Expected custom tier store")
	}
	if g.coalesce {
		t.Error("Expected coalescing disabled")
	}
	if g.requestID() != "fixed" {
		t.Error("Expected custom request ID generator")
	}
	if cap(g.callbackSem) != 4 {
		t.Errorf("Expected 4 callback workers, got %d", cap(g.callbackSem))
	}
	if g.cache.TTL(TierShort) != time.Minute {
		t.Errorf("Expected short TTL 1m, got %v", g.cache.TTL(TierShort))
	}
}

func TestWithDebugAndLoggers(t *testing.T) {
	g, err := New(
		WithTransport(&recordingTransport{}),
		WithCredentials(ServiceVision, "k"),
		WithSimpleLogger(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer g.Close()

	if !g.debug.Enabled {
		t.Error("Expected debug enabled by WithSimpleLogger")
	}
	if g.logger == nil {
		t.Error("Expected logger set")
	}
}

func TestValidateConfigurationRejectsBadValues(t *testing.T) {
	cases := []Option{
		WithBatchSize(-1),
		WithBatchTimeout(0),
		WithQueueSize(0),
		WithMaxRetries(-1),
		WithRequestTimeout(0),
		WithUpstreamTimeout(0),
	}

	for i, bad := range cases {
		_, err := New(
			WithTransport(&recordingTransport{}),
			WithCredentials(ServiceVision, "k"),
			bad,
		)
		if err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

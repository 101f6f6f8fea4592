package tahan

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigYAML = `
batch_size: 4
batch_timeout: 1s
max_retries: 2
quota_per_minute: 20
circuit:
  max_failures: 5
  open_timeout: 30s
backoff:
  baseline: 10s
  max: 120s
cache:
  short_ttl: 2m
credentials:
  vision:
    - key-one
    - key-two
endpoints:
  vision: https://inference.example.com/v1/analyze
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tahan.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.BatchSize != 4 {
		t.Errorf("Expected batch_size 4, got %d", cfg.BatchSize)
	}
	if cfg.BatchTimeout != time.Second {
		t.Errorf("Expected batch_timeout 1s, got %v", cfg.BatchTimeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("Expected max_retries 2, got %d", cfg.MaxRetries)
	}
	if cfg.Circuit.MaxFailures != 5 {
		t.Errorf("Expected circuit.max_failures 5, got %d", cfg.Circuit.MaxFailures)
	}
	if cfg.Circuit.OpenTimeout != 30*time.Second {
		t.Errorf("Expected circuit.open_timeout 30s, got %v", cfg.Circuit.OpenTimeout)
	}
	if cfg.Backoff.Baseline != 10*time.Second {
		t.Errorf("Expected backoff.baseline 10s, got %v", cfg.Backoff.Baseline)
	}
	if cfg.Cache.ShortTTL != 2*time.Minute {
		t.Errorf("Expected cache.short_ttl 2m, got %v", cfg.Cache.ShortTTL)
	}
	if len(cfg.Credentials["vision"]) != 2 {
		t.Errorf("Expected 2 vision credentials, got %d", len(cfg.Credentials["vision"]))
	}
	if cfg.Endpoints["vision"] == "" {
		t.Error("Expected vision endpoint")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tahan.yaml")
	if err := os.WriteFile(path, []byte("credentials:\n  vision: [k]\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("Expected default batch size, got %d", cfg.BatchSize)
	}
	if cfg.Cache.MediumTTL != DefaultMediumTTL {
		t.Errorf("Expected default medium TTL, got %v", cfg.Cache.MediumTTL)
	}
	if cfg.QuotaPerMinute != DefaultQuotaPerMinute {
		t.Errorf("Expected default quota, got %d", cfg.QuotaPerMinute)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestConfigOptionsBuildGateway(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	opts := append(cfg.Options(), WithTransport(&recordingTransport{}))
	g, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer g.Close()

	if g.batchSize != 4 {
		t.Errorf("Expected configured batch size, got %d", g.batchSize)
	}
	if g.breakerConfig.MaxFailures != 5 {
		t.Errorf("Expected configured breaker threshold, got %d", g.breakerConfig.MaxFailures)
	}
	if _, ok := g.services[ServiceVision]; !ok {
		t.Error("Expected vision service configured")
	}
}

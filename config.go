package tahan

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Config is the file-based gateway configuration. It mirrors the functional
// options so deployments can ship a YAML file instead of wiring options in
// code; Options converts a loaded Config into the equivalent option list.
type Config struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`

	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`

	Circuit CircuitConfig `mapstructure:"circuit"`
	Backoff BackoffConfig `mapstructure:"backoff"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Redis   RedisConfig   `mapstructure:"redis"`

	QuotaPerMinute     int           `mapstructure:"quota_per_minute"`
	CredentialCooldown time.Duration `mapstructure:"credential_cooldown"`

	// Credentials and Endpoints are keyed by service name (vision, geo,
	// generic).
	Credentials map[string][]string `mapstructure:"credentials"`
	Endpoints   map[string]string   `mapstructure:"endpoints"`

	Debug   bool `mapstructure:"debug"`
	Metrics bool `mapstructure:"metrics"`
}

// CircuitConfig is the file form of CircuitBreakerConfig.
type CircuitConfig struct {
	MaxFailures    int           `mapstructure:"max_failures"`
	OpenTimeout    time.Duration `mapstructure:"open_timeout"`
	MaxOpenTimeout time.Duration `mapstructure:"max_open_timeout"`
}

// BackoffConfig is the file form of the call pacing settings.
type BackoffConfig struct {
	Baseline time.Duration `mapstructure:"baseline"`
	Max      time.Duration `mapstructure:"max"`
}

// CacheConfig holds the tier TTLs.
type CacheConfig struct {
	ShortTTL  time.Duration `mapstructure:"short_ttl"`
	MediumTTL time.Duration `mapstructure:"medium_ttl"`
	LongTTL   time.Duration `mapstructure:"long_ttl"`
}

// RedisConfig enables the shared Redis cache backend when Addr is set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoadConfig reads a YAML config file and environment overrides. Environment
// variables use the TAHAN_ prefix with underscores for nesting, for example
// TAHAN_BATCH_SIZE or TAHAN_REDIS_ADDR.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TAHAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setConfigDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("batch_timeout", DefaultBatchTimeout)
	v.SetDefault("queue_size", DefaultQueueSize)

	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("upstream_timeout", DefaultUpstreamTimeout)

	v.SetDefault("circuit.max_failures", DefaultMaxFailures)
	v.SetDefault("circuit.open_timeout", DefaultOpenTimeout)
	v.SetDefault("circuit.max_open_timeout", DefaultMaxOpenTimeout)

	v.SetDefault("backoff.baseline", DefaultBackoffBaseline)
	v.SetDefault("backoff.max", DefaultBackoffMax)

	v.SetDefault("cache.short_ttl", DefaultShortTTL)
	v.SetDefault("cache.medium_ttl", DefaultMediumTTL)
	v.SetDefault("cache.long_ttl", DefaultLongTTL)

	v.SetDefault("redis.retention", DefaultRedisRetention)

	v.SetDefault("quota_per_minute", DefaultQuotaPerMinute)
	v.SetDefault("credential_cooldown", DefaultCredentialCooldown)
}

// Options converts the config into the option list for New.
func (c *Config) Options() []Option {
	opts := []Option{
		WithBatchSize(c.BatchSize),
		WithBatchTimeout(c.BatchTimeout),
		WithQueueSize(c.QueueSize),
		WithMaxRetries(c.MaxRetries),
		WithRequestTimeout(c.RequestTimeout),
		WithUpstreamTimeout(c.UpstreamTimeout),
		WithCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:    c.Circuit.MaxFailures,
			OpenTimeout:    c.Circuit.OpenTimeout,
			MaxOpenTimeout: c.Circuit.MaxOpenTimeout,
		}),
		WithBackoff(c.Backoff.Baseline, c.Backoff.Max),
		WithCacheTTLs(c.Cache.ShortTTL, c.Cache.MediumTTL, c.Cache.LongTTL),
		WithQuota(c.QuotaPerMinute),
		WithCredentialCooldown(c.CredentialCooldown),
	}

	for svc, tokens := range c.Credentials {
		opts = append(opts, WithCredentials(ServiceType(svc), tokens...))
	}
	if len(c.Endpoints) > 0 {
		endpoints := make(map[ServiceType]string, len(c.Endpoints))
		for svc, url := range c.Endpoints {
			endpoints[ServiceType(svc)] = url
		}
		opts = append(opts, WithHTTPEndpoints(endpoints))
	}

	if c.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		opts = append(opts, WithTierStore(NewRedisStore(client, c.Redis.Retention)))
	}

	if c.Debug {
		opts = append(opts, WithSimpleLogger())
	}
	if c.Metrics {
		opts = append(opts, WithMetrics())
	}
	return opts
}

// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers defaults, an optional .env file, an optional YAML file and
//   VAULT_ prefixed environment variables.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the event store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`

	// StoreDSN is the data source name handed to database/sql.
	StoreDSN string `koanf:"store_dsn"`

	// CacheBackend selects the decryption cache: memory, sqlite or redis.
	CacheBackend string `koanf:"cache_backend"`

	// CacheDSN is the sqlite file used when CacheBackend is sqlite.
	CacheDSN string `koanf:"cache_dsn"`

	// CacheMaxEntries bounds the in-memory cache; 0 means unbounded.
	CacheMaxEntries int `koanf:"cache_max_entries"`

	// RedisAddr and RedisTTL configure the redis cache.
	RedisAddr string        `koanf:"redis_addr"`
	RedisTTL  time.Duration `koanf:"redis_ttl"`

	// KeyDir holds one <accountId>.jwk private key per account.
	KeyDir string `koanf:"key_dir"`

	// DefaultRange and DefaultResolution apply when a stats query omits them.
	DefaultRange      int    `koanf:"default_range"`
	DefaultResolution string `koanf:"default_resolution"`

	// EventQueueSize bounds the in-memory ingestion queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the event id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MetricsEnabled exports Prometheus metrics on /metrics.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsRefreshInterval is how often runtime and queue gauges are sampled.
	MetricsRefreshInterval time.Duration `koanf:"metrics_refresh_interval"`

	// TracingEnabled installs the OpenTelemetry SDK provider.
	TracingEnabled bool `koanf:"tracing_enabled"`

	// TracingSampleRate is the fraction of traces sampled when enabled.
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// TracingEndpoint is the OTLP/HTTP collector (host:port) spans are
	// exported to. Empty defers to OTEL_EXPORTER_OTLP_ENDPOINT.
	TracingEndpoint string `koanf:"tracing_endpoint"`

	// TracingInsecure talks plain HTTP to the collector.
	TracingInsecure bool `koanf:"tracing_insecure"`
}

// New creates a Config holding the defaults. The context is reserved for
// loaders that need it.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		StoreDriver:            StoreSQLite,
		StoreDSN:               "vault.db",
		CacheBackend:           CacheMemory,
		CacheDSN:               "vault-cache.db",
		CacheMaxEntries:        1_000_000,
		RedisAddr:              "localhost:6379",
		RedisTTL:               24 * time.Hour,
		KeyDir:                 "keys",
		DefaultRange:           7,
		DefaultResolution:      "days",
		EventQueueSize:         100_000,
		WorkerCount:            runtime.NumCPU() * 2,
		DedupeSize:             500_000,
		MetricsEnabled:         true,
		MetricsRefreshInterval: 10 * time.Second,
		TracingEnabled:         false,
		TracingSampleRate:      1,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !oneOf(c.StoreDriver, StoreMemory, StoreSQLite, StorePostgres):
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver != StoreMemory && c.StoreDSN == "":
		return fmt.Errorf("%w: store_dsn must not be empty", ErrInvalidConfig)
	case !oneOf(c.CacheBackend, CacheMemory, CacheSQLite, CacheRedis):
		return fmt.Errorf("%w: unknown cache_backend %q", ErrInvalidConfig, c.CacheBackend)
	case c.CacheBackend == CacheSQLite && c.CacheDSN == "":
		return fmt.Errorf("%w: cache_dsn must not be empty", ErrInvalidConfig)
	case c.CacheBackend == CacheRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr must not be empty", ErrInvalidConfig)
	case c.DefaultRange <= 0:
		return fmt.Errorf("%w: default_range must be positive", ErrInvalidConfig)
	case !oneOf(c.DefaultResolution, "hours", "days", "weeks"):
		return fmt.Errorf("%w: unknown default_resolution %q", ErrInvalidConfig, c.DefaultResolution)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MetricsRefreshInterval <= 0:
		return fmt.Errorf("%w: metrics_refresh_interval must be positive", ErrInvalidConfig)
	case c.TracingSampleRate < 0 || c.TracingSampleRate > 1:
		return fmt.Errorf("%w: tracing_sample_rate must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

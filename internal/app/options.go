package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/config"
	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig applies every setting of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		for _, opt := range []Option{
			WithWorkerCount(cfg.WorkerCount),
			WithQueueSize(cfg.EventQueueSize),
			WithDedupeSize(cfg.DedupeSize),
			WithStoreDriver(cfg.StoreDriver, cfg.StoreDSN),
			WithCacheBackend(cfg.CacheBackend, cfg.CacheDSN),
			WithCacheMaxEntries(cfg.CacheMaxEntries),
			WithRedis(cfg.RedisAddr, cfg.RedisTTL),
			WithKeyDir(cfg.KeyDir),
			WithDefaultQuery(cfg.DefaultRange, stats.Resolution(cfg.DefaultResolution)),
		} {
			opt(s)
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock stats queries default their reference time to.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStoreDriver selects the event store opened by Start.
func WithStoreDriver(driver, dsn string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
			s.storeDSN = dsn
		}
	}
}

// WithStore uses store instead of opening one. The caller keeps ownership.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithCacheBackend selects the decryption cache opened by Start.
func WithCacheBackend(backend, dsn string) Option {
	return func(s *Service) {
		if backend != "" {
			s.cacheBackend = backend
			s.cacheDSN = dsn
		}
	}
}

// WithCache uses c instead of opening a cache. The caller keeps ownership.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithCacheMaxEntries bounds the in-memory cache; 0 means unbounded.
func WithCacheMaxEntries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.cacheMaxEntries = n
		}
	}
}

// WithRedis configures the redis cache backend.
func WithRedis(addr string, ttl time.Duration) Option {
	return func(s *Service) {
		if addr != "" {
			s.redisAddr = addr
		}
		if ttl >= 0 {
			s.redisTTL = ttl
		}
	}
}

// WithKeyDir sets the directory account keys are read from.
func WithKeyDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.keyDir = dir
		}
	}
}

// WithDefaultQuery sets the range and resolution used when a stats query
// leaves them out.
func WithDefaultQuery(rng int, res stats.Resolution) Option {
	return func(s *Service) {
		if rng > 0 {
			s.defaultRange = rng
		}
		if res != "" {
			s.defaultResolution = res
		}
	}
}

// Package service wires the stores, the decryption pipeline and the
// ingestion workers into the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/okian/vault/internal/adapters/cachestore"
	"github.com/okian/vault/internal/adapters/http/api"
	"github.com/okian/vault/internal/adapters/keyring"
	eventqueue "github.com/okian/vault/internal/adapters/mq/queue"
	workerpool "github.com/okian/vault/internal/adapters/mq/worker"
	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/adapters/webcrypto"
	"github.com/okian/vault/internal/config"
	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/internal/domain/decrypt"
	"github.com/okian/vault/internal/domain/dedupe"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service implements the API dependencies for the vault.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	cache      cache.Cache
	keys       *keyring.Keyring
	engine     *stats.Engine
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Resources opened by Start and released by Stop. Injected store and
	// cache belong to the caller.
	closers  []io.Closer
	ownStore bool
	ownCache bool

	// Configuration
	workerCount       int
	queueSize         int
	dedupeSize        int
	storeDriver       string
	storeDSN          string
	cacheBackend      string
	cacheDSN          string
	cacheMaxEntries   int
	redisAddr         string
	redisTTL          time.Duration
	keyDir            string
	defaultRange      int
	defaultResolution stats.Resolution
	clock             clockwork.Clock

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

var (
	_ api.Dependencies  = (*Service)(nil)
	_ api.HealthChecker = (*Service)(nil)
)

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       runtime.NumCPU() * 2,
		queueSize:         100000,
		dedupeSize:        50000,
		storeDriver:       config.StoreMemory,
		cacheBackend:      config.CacheMemory,
		cacheMaxEntries:   1_000_000,
		redisAddr:         "localhost:6379",
		redisTTL:          24 * time.Hour,
		keyDir:            "keys",
		defaultRange:      stats.DefaultRange,
		defaultResolution: stats.DefaultResolution,
		clock:             clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ownStore = s.store == nil
	s.ownCache = s.cache == nil
	return s
}

// Start opens the store and cache and starts the ingestion workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting vault service...")

	if err := s.openStore(ctx); err != nil {
		s.release()
		return err
	}
	if err := s.openCache(ctx); err != nil {
		s.release()
		return err
	}

	decryptor := decrypt.NewDecryptor(webcrypto.NewProvider(), s.cache,
		decrypt.WithLogger(s.logger.Named("decrypt")),
	)
	s.engine = stats.NewEngine(s.store, decryptor,
		stats.WithClock(s.clock),
		stats.WithLogger(s.logger.Named("stats")),
	)
	s.keys = keyring.New(s.keyDir)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.store,
		workerpool.WithLogger(s.logger.Named("worker")),
		workerpool.WithDeduper(s.deduper),
	)

	// Workers outlive the caller's context so that Stop can drain the queue.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "vault service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("store", s.storeDriver),
		logger.String("cache", s.cacheBackend),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	switch s.storeDriver {
	case config.StoreMemory:
		s.store = repository.NewMemoryStore()
	default:
		st, err := repository.OpenSQLStore(ctx, repository.Dialect(s.storeDriver), s.storeDSN,
			repository.WithLogger(s.logger.Named("store")),
		)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
	}
	s.closers = append(s.closers, s.store)
	return nil
}

func (s *Service) openCache(ctx context.Context) error {
	if s.cache != nil {
		return nil
	}
	opts := []cachestore.Option{cachestore.WithLogger(s.logger.Named("cache"))}
	switch s.cacheBackend {
	case config.CacheMemory:
		s.cache = cache.NewInMemoryCache(cache.WithMaxSize(s.cacheMaxEntries))
	case config.CacheSQLite:
		c, err := cachestore.OpenSQLite(ctx, s.cacheDSN, opts...)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		s.cache = c
		s.closers = append(s.closers, c)
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: s.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("open cache: ping redis at %s: %w", s.redisAddr, err)
		}
		c := cachestore.NewRedis(client, append(opts, cachestore.WithTTL(s.redisTTL))...)
		s.cache = c
		s.closers = append(s.closers, c, client)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCache, s.cacheBackend)
	}
	return nil
}

// release closes what Start opened, most recent first.
func (s *Service) release() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error(context.Background(), "error releasing resource", logger.Error(err))
		}
	}
	s.closers = nil
	if s.ownStore {
		s.store = nil
	}
	if s.ownCache {
		s.cache = nil
	}
}

// Stop drains the queue into the store and releases the store and cache.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping vault service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	s.cancel()
	s.release()

	s.started = false
	s.logger.Info(ctx, "vault service stopped")
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	if s.deduper == nil {
		return false
	}
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	if s.deduper != nil {
		s.deduper.Unrecord(ctx, id)
	}
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits an event for asynchronous persistence.
func (s *Service) Enqueue(ctx context.Context, it eventqueue.Item) bool { //nolint:gocritic // hugeParam: items travel by value
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false
	}
	s.logger.Debug(ctx, "enqueueing event",
		logger.String("accountId", it.AccountID),
		logger.String("eventId", it.Event.EventID),
	)
	return s.eventQueue.Enqueue(ctx, it)
}

// Stats computes the statistics of accountID with the account key from
// the key ring. Range and resolution default to the configured values.
func (s *Service) Stats(ctx context.Context, accountID string, q stats.Query) (*stats.Result, error) {
	s.mu.RLock()
	started, keys, engine := s.started, s.keys, s.engine
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}

	if q.Range == 0 {
		q.Range = s.defaultRange
	}
	if q.Resolution == "" {
		q.Resolution = s.defaultResolution
	}
	key, err := keys.PrivateKey(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return engine.GetDefaultStats(ctx, accountID, q, key)
}

// InsertSecrets stores secrets under accountID.
func (s *Service) InsertSecrets(ctx context.Context, accountID string, secrets ...model.EncryptedSecret) error {
	s.mu.RLock()
	started, store := s.started, s.store
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return store.InsertSecrets(ctx, accountID, secrets...)
}

// Health reports queue and worker state and refreshes the matching gauges.
func (s *Service) Health(ctx context.Context) (api.Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return api.Health{Status: "stopped"}, ErrNotStarted
	}
	if s.eventQueue.IsClosed() {
		return api.Health{Status: "draining"}, ErrQueueClosed
	}

	queueLen := s.eventQueue.Len(ctx)
	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.workerPool.Size())
	return api.Health{
		Status:      "ok",
		QueueLength: queueLen,
		Workers:     s.workerPool.Size(),
		DedupeSize:  s.deduper.Size(),
	}, nil
}

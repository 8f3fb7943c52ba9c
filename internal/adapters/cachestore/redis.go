package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

// RedisCache persists committed entries in Redis, optionally with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ws     *workingSet
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

var _ cache.Cache = (*RedisCache)(nil)

// NewRedis wraps client. The caller owns the client and closes it.
func NewRedis(client redis.UniversalClient, opts ...Option) *RedisCache {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &RedisCache{
		client: client,
		ws:     newWorkingSet(),
		prefix: s.keyPrefix,
		ttl:    s.ttl,
		logger: s.logger,
	}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// Get implements cache.Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.ws.get(key); err != nil || ok {
		if ok {
			metrics.RecordCacheLookup(true)
		}
		return v, ok, err
	}

	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.RecordCacheLookup(false)
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	c.ws.remember(key, value)
	metrics.RecordCacheLookup(true)
	return value, true, nil
}

// Set implements cache.Cache.
func (c *RedisCache) Set(_ context.Context, key string, value []byte) error {
	if err := c.ws.set(key, value); err != nil {
		return err
	}
	metrics.RecordCacheWrite()
	metrics.UpdateCacheEntries(int64(c.ws.size()))
	return nil
}

// Commit writes every dirty entry in one pipeline.
func (c *RedisCache) Commit(ctx context.Context) error {
	dirty, err := c.ws.drain()
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		c.ws.settle()
		return nil
	}
	_, err = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range dirty {
			p.Set(ctx, c.key(k), v, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.ws.restore(dirty)
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	c.ws.settle()
	metrics.UpdateCacheEntries(int64(c.ws.size()))
	c.logger.Debug(ctx, "cache committed", logger.Int("entries", len(dirty)))
	return nil
}

// Close drops the working set. The client stays open.
func (c *RedisCache) Close() error {
	c.ws.close()
	return nil
}

// Package cache defines the decryption cache contract and its in-memory
// default.
//
// Keys are account-scoped secret ids for unwrapped secrets and
// account-scoped event ids for decrypted payloads. Values are opaque bytes. Set only touches the working set;
// Commit is the durability boundary for implementations that have one.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/okian/vault/pkg/metrics"
)

// Cache is a key/value store with an explicit commit step.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key in the working set. Last write wins.
	Set(ctx context.Context, key string, value []byte) error
	// Commit flushes the working set to longer-lived storage.
	Commit(ctx context.Context) error
}

type entry struct {
	key   string
	value []byte
}

// InMemoryCache keeps values in process memory. When bounded, the oldest
// inserted key is evicted first. Commit is a no-op.
type InMemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is the most recently inserted key
	maxSize int        // <= 0 means unbounded
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache(opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get implements Cache.
func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	el, ok := c.items[key]
	c.mu.Unlock()

	metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false, nil
	}
	return el.Value.(*entry).value, true, nil
}

// Set implements Cache.
func (c *InMemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
	} else {
		if c.maxSize > 0 && c.order.Len() >= c.maxSize {
			c.evictOldest()
		}
		c.items[key] = c.order.PushFront(&entry{key: key, value: value})
	}

	metrics.RecordCacheWrite()
	metrics.UpdateCacheEntries(int64(c.order.Len()))
	return nil
}

// Commit implements Cache.
func (c *InMemoryCache) Commit(context.Context) error {
	return nil
}

// Len returns the number of cached keys.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// must be called with c.mu held
func (c *InMemoryCache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

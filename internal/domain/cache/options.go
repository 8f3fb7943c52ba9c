package cache

// Option applies a configuration option to the InMemoryCache.
type Option func(*InMemoryCache)

// WithMaxSize bounds the number of keys held in memory.
// If maxSize > 0: the oldest inserted key is evicted on overflow.
// If maxSize <= 0: unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *InMemoryCache) {
		c.maxSize = maxSize
	}
}

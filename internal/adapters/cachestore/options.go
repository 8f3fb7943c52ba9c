package cachestore

import (
	"time"

	"github.com/okian/vault/pkg/logger"
)

type settings struct {
	logger    logger.Logger
	ttl       time.Duration
	keyPrefix string
}

func defaultSettings() settings {
	return settings{
		logger:    logger.Discard(),
		keyPrefix: "vault:cache:",
	}
}

// Option configures a durable cache.
type Option func(*settings)

// WithLogger sets the logger used for flush diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l.Named("cachestore")
		}
	}
}

// WithTTL expires committed Redis keys after ttl. Zero keeps them forever.
// The SQLite cache ignores it.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		s.keyPrefix = prefix
	}
}

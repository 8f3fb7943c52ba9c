package stats

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/vault/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used when a query carries no now.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.Named("stats")
		}
	}
}

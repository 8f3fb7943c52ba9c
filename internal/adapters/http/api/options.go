package api

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/vault/pkg/logger"
)

const (
	defaultMaxBatch     = 1000
	defaultMaxBodyBytes = 8 << 20
)

type settings struct {
	logger       logger.Logger
	clock        clockwork.Clock
	maxBatch     int
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*settings)

// WithLogger sets the logger handlers report server side failures to.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used to stamp events that arrive without a
// timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMaxBatch bounds the number of events or secrets per request.
func WithMaxBatch(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithMaxBodyBytes bounds the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:       logger.Discard(),
		clock:        clockwork.NewRealClock(),
		maxBatch:     defaultMaxBatch,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

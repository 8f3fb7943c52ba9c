package decrypt

import (
	"github.com/okian/vault/pkg/logger"
)

// Option applies a configuration option to a Decryptor or SecretResolver.
type Option func(*settings)

type settings struct {
	logger logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

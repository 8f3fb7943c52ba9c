package service

import (
	"errors"
	"fmt"

	"github.com/okian/vault/internal/adapters/http/api"
)

// Sentinel errors for the service lifecycle.
var (
	ErrNotStarted   = fmt.Errorf("service not started: %w", api.ErrUnavailable)
	ErrQueueClosed  = fmt.Errorf("event queue closed: %w", api.ErrUnavailable)
	ErrUnknownCache = errors.New("unknown cache backend")
)

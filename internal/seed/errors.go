package seed

import "errors"

// Errors returned by the seed tool.
var (
	ErrInvalidConfig = errors.New("invalid seed config")
	ErrUnhealthy     = errors.New("service unhealthy")
	ErrNothingSaved  = errors.New("no traffic to save")
)

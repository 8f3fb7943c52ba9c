package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrStoreClosed   = errors.New("store closed")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrInvalidEvent  = errors.New("invalid event")
)

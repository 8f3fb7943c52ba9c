package stats

import "errors"

var (
	// ErrInvalidQuery is returned for an unknown resolution or an out of
	// bounds range.
	ErrInvalidQuery = errors.New("invalid stats query")
	// ErrFetch wraps store failures while loading events or secrets.
	ErrFetch = errors.New("fetching events failed")
)

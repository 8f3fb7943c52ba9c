package model

import "errors"

// Sentinel error kinds for payload parsing.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed payload")
)

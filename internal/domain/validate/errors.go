package validate

import "errors"

// ErrValidation marks an event rejected by ValidateAndParseEvent.
var ErrValidation = errors.New("invalid event")

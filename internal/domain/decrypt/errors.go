package decrypt

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package.
var (
	ErrNotFound       = errors.New("not found")
	ErrSecretNotFound = fmt.Errorf("secret %w", ErrNotFound)
	ErrAccountKey     = errors.New("account key unusable")
)

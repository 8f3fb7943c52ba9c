package keyring

import "errors"

var (
	// ErrKeyNotFound is returned when no key file exists for an account.
	ErrKeyNotFound = errors.New("account key not found")
	// ErrInvalidAccountID rejects ids that cannot be used as file names.
	ErrInvalidAccountID = errors.New("invalid account id")
)

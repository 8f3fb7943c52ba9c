package webcrypto

import "errors"

// Sentinel error kinds for crypto operations.
var (
	ErrDecryption          = errors.New("decryption failed")
	ErrUnsupportedKey      = errors.New("unsupported key")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

package decrypt

import "context"

// Decrypter decrypts wire ciphertexts with one bound key.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// CryptoProvider binds key material to decrypters. Both methods fail when
// the key cannot be used.
type CryptoProvider interface {
	// AsymmetricDecrypter binds an account private key given as a JWK.
	AsymmetricDecrypter(privateJWK []byte) (Decrypter, error)
	// SymmetricDecrypter binds a per-user secret key given as a JWK.
	SymmetricDecrypter(jwk []byte) (Decrypter, error)
}

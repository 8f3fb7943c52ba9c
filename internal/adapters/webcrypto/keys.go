package webcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	jose "github.com/go-jose/go-jose/v3"
)

// Key parameters used by browser clients.
const (
	AccountKeyBits = 2048
	SecretKeyBytes = 32
	gcmNonceSize   = 12
	algRSAOAEP256  = "RSA-OAEP-256"
	algA256GCM     = "A256GCM"
	keyUseEncrypt  = "enc"
)

// GenerateAccountKey creates an RSA key pair and returns both halves as JWKs.
func GenerateAccountKey() (privateJWK, publicJWK []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, AccountKeyBits)
	if err != nil {
		return nil, nil, err
	}
	key := jose.JSONWebKey{Key: priv, Algorithm: algRSAOAEP256, Use: keyUseEncrypt}
	privateJWK, err = key.MarshalJSON()
	if err != nil {
		return nil, nil, err
	}
	publicJWK, err = key.Public().MarshalJSON()
	if err != nil {
		return nil, nil, err
	}
	return privateJWK, publicJWK, nil
}

// GenerateSecretKey creates an AES-256 key as a JWK.
func GenerateSecretKey() ([]byte, error) {
	raw := make([]byte, SecretKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return jose.JSONWebKey{Key: raw, Algorithm: algA256GCM, Use: keyUseEncrypt}.MarshalJSON()
}

// EncryptAsymmetric encrypts plaintext for the holder of the account key.
func EncryptAsymmetric(publicJWK, plaintext []byte) (string, error) {
	key, err := parseJWK(publicJWK)
	if err != nil {
		return "", err
	}
	var pub *rsa.PublicKey
	switch k := key.Key.(type) {
	case *rsa.PublicKey:
		pub = k
	case *rsa.PrivateKey:
		pub = &k.PublicKey
	default:
		return "", fmt.Errorf("%w: want an RSA key, got %T", ErrUnsupportedKey, key.Key)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", err
	}
	return encodeWire(ct, nil), nil
}

// EncryptSymmetric encrypts plaintext with AES-GCM under a random nonce.
func EncryptSymmetric(jwk, plaintext []byte) (string, error) {
	block, err := secretCipher(jwk)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return encodeWire(gcm.Seal(nil, nonce, plaintext, nil), nonce), nil
}

// EncryptSymmetricCTR encrypts plaintext with AES-CTR and a zero counter,
// the format older clients emit.
func EncryptSymmetricCTR(jwk, plaintext []byte) (string, error) {
	block, err := secretCipher(jwk)
	if err != nil {
		return "", err
	}
	ct := make([]byte, len(plaintext))
	cipher.NewCTR(block, make([]byte, ctrIVSize)).XORKeyStream(ct, plaintext)
	return encodeWire(ct, nil), nil
}

func secretCipher(jwk []byte) (cipher.Block, error) {
	key, err := parseJWK(jwk)
	if err != nil {
		return nil, err
	}
	raw, ok := key.Key.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: want a symmetric key, got %T", ErrUnsupportedKey, key.Key)
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	return block, nil
}

// Package webcrypto implements the crypto provider used to decrypt events
// and secrets produced by browser clients.
//
// Ciphertexts use the wire format
//
//	{1,} <base64 ciphertext>[ <base64 nonce>]
//
// Account keys are RSA-OAEP (SHA-256) private keys. Per-user secrets are AES
// keys: AES-GCM is used when a nonce is present, AES-CTR with a zero counter
// otherwise. All keys travel as JWK documents.
package webcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"

	"github.com/okian/vault/internal/domain/decrypt"
)

const (
	wirePrefix = "{1,}"
	ctrIVSize  = aes.BlockSize
)

// Provider implements decrypt.CryptoProvider.
type Provider struct{}

var _ decrypt.CryptoProvider = (*Provider)(nil)

// NewProvider returns a crypto provider.
func NewProvider() *Provider {
	return &Provider{}
}

// AsymmetricDecrypter implements decrypt.CryptoProvider.
func (p *Provider) AsymmetricDecrypter(privateJWK []byte) (decrypt.Decrypter, error) {
	key, err := parseJWK(privateJWK)
	if err != nil {
		return nil, err
	}
	priv, ok := key.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: want an RSA private key, got %T", ErrUnsupportedKey, key.Key)
	}
	return &rsaDecrypter{key: priv}, nil
}

// SymmetricDecrypter implements decrypt.CryptoProvider.
func (p *Provider) SymmetricDecrypter(jwk []byte) (decrypt.Decrypter, error) {
	block, err := secretCipher(jwk)
	if err != nil {
		return nil, err
	}
	return &aesDecrypter{block: block}, nil
}

func parseJWK(data []byte) (*jose.JSONWebKey, error) {
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	return &key, nil
}

type rsaDecrypter struct {
	key *rsa.PrivateKey
}

func (d *rsaDecrypter) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct, _, err := decodeWire(ciphertext)
	if err != nil {
		return nil, err
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), nil, d.key, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return plain, nil
}

type aesDecrypter struct {
	block cipher.Block
}

func (d *aesDecrypter) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct, nonce, err := decodeWire(ciphertext)
	if err != nil {
		return nil, err
	}

	if nonce == nil {
		plain := make([]byte, len(ct))
		cipher.NewCTR(d.block, make([]byte, ctrIVSize)).XORKeyStream(plain, ct)
		return plain, nil
	}

	gcm, err := cipher.NewGCMWithNonceSize(d.block, len(nonce))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return plain, nil
}

// decodeWire splits a wire ciphertext. nonce is nil when absent.
func decodeWire(s string) (ciphertext, nonce []byte, err error) {
	parts := strings.Fields(s)
	if len(parts) < 2 || len(parts) > 3 || parts[0] != wirePrefix {
		return nil, nil, fmt.Errorf("%w: unexpected format", ErrMalformedCiphertext)
	}
	ciphertext, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %w", ErrMalformedCiphertext, err)
	}
	if len(parts) == 3 {
		nonce, err = base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: nonce: %w", ErrMalformedCiphertext, err)
		}
		if len(nonce) == 0 {
			return nil, nil, fmt.Errorf("%w: empty nonce", ErrMalformedCiphertext)
		}
	}
	return ciphertext, nonce, nil
}

func encodeWire(ciphertext, nonce []byte) string {
	s := wirePrefix + " " + base64.StdEncoding.EncodeToString(ciphertext)
	if nonce != nil {
		s += " " + base64.StdEncoding.EncodeToString(nonce)
	}
	return s
}

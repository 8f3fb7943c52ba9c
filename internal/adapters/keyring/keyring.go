// Package keyring loads account private keys from a directory of JWK
// files named <accountId>.jwk.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileExt = ".jwk"

// Keyring reads and writes account keys below a directory.
type Keyring struct {
	dir string
}

// New returns a keyring rooted at dir. The directory is created lazily on
// the first Put.
func New(dir string) *Keyring {
	return &Keyring{dir: dir}
}

// PrivateKey returns the private JWK of accountID.
func (k *Keyring) PrivateKey(ctx context.Context, accountID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := k.path(accountID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("read key for %s: %w", accountID, err)
	}
	return b, nil
}

// Put writes the private JWK of accountID, readable by the owner only.
func (k *Keyring) Put(accountID string, privateJWK []byte) error {
	path, err := k.path(accountID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, privateJWK, 0o600); err != nil {
		return fmt.Errorf("write key for %s: %w", accountID, err)
	}
	return os.Rename(tmp, path)
}

func (k *Keyring) path(accountID string) (string, error) {
	if accountID == "" || accountID == "." || accountID == ".." ||
		strings.ContainsAny(accountID, `/\`) || strings.ContainsRune(accountID, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountID, accountID)
	}
	return filepath.Join(k.dir, accountID+fileExt), nil
}

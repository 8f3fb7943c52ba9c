// Package decrypt turns encrypted events into decrypted ones.
//
// Failures are isolated per event: an event that cannot be decrypted is
// dropped from the batch and counted, never returned as an error.
package decrypt

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/singleflight"

	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

// Secret resolution results reported to metrics.
const (
	resolvedFromCache = "cache_hit"
	resolvedDecrypted = "decrypted"
	resolvedNotFound  = "not_found"
	resolvedFailed    = "error"
)

// SecretResolver unwraps per-user secrets with the account key. Secret ids
// are only unique within an account, so cache entries are scoped by it.
type SecretResolver struct {
	accountID string
	index     map[string]model.EncryptedSecret
	account Decrypter
	cache   cache.Cache
	group   singleflight.Group
	logger  logger.Logger
}

// NewSecretResolver indexes the secrets of accountID by id. account unwraps
// secret values; it may be nil, in which case every uncached secret fails
// to resolve.
func NewSecretResolver(accountID string, secrets []model.EncryptedSecret, account Decrypter, c cache.Cache, opts ...Option) *SecretResolver {
	s := newSettings(opts)
	index := make(map[string]model.EncryptedSecret, len(secrets))
	for _, sec := range secrets {
		index[sec.SecretID] = sec
	}
	return &SecretResolver{
		accountID: accountID,
		index:     index,
		account:   account,
		cache:     c,
		logger:    s.logger,
	}
}

// Resolve returns the decrypted secret for id. Concurrent calls for the
// same id share one resolution.
func (r *SecretResolver) Resolve(ctx context.Context, id string) (model.DecryptedSecret, error) {
	v, err, shared := r.group.Do(id, func() (any, error) {
		return r.resolve(ctx, id)
	})
	if shared {
		metrics.RecordSecretResolutionShared()
	}
	if err != nil {
		return model.DecryptedSecret{}, err
	}
	return v.(model.DecryptedSecret), nil
}

func (r *SecretResolver) resolve(ctx context.Context, id string) (model.DecryptedSecret, error) {
	key := cacheKey(r.accountID, id)
	if raw, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn(ctx, "secret cache lookup failed", logger.String("secretId", id), logger.Error(err))
	} else if ok {
		var cached model.DecryptedSecret
		if err := cbor.Unmarshal(raw, &cached); err == nil {
			metrics.RecordSecretResolution(resolvedFromCache)
			return cached, nil
		}
		r.logger.Warn(ctx, "discarding undecodable cached secret", logger.String("secretId", id))
	}

	secret, ok := r.index[id]
	if !ok {
		metrics.RecordSecretResolution(resolvedNotFound)
		return model.DecryptedSecret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, id)
	}
	if r.account == nil {
		metrics.RecordSecretResolution(resolvedFailed)
		return model.DecryptedSecret{}, ErrAccountKey
	}

	jwk, err := r.account.Decrypt(ctx, secret.Value)
	if err != nil {
		metrics.RecordSecretResolution(resolvedFailed)
		return model.DecryptedSecret{}, fmt.Errorf("unwrap secret %s: %w", id, err)
	}
	decrypted := model.DecryptedSecret{EncryptedSecret: secret, JWK: jwk}

	raw, err := cbor.Marshal(decrypted)
	if err == nil {
		err = r.cache.Set(ctx, key, raw)
	}
	if err != nil {
		r.logger.Warn(ctx, "caching secret failed", logger.String("secretId", id), logger.Error(err))
	}

	metrics.RecordSecretResolution(resolvedDecrypted)
	return decrypted, nil
}

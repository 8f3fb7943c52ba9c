package decrypt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/vault/internal/domain/cache"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
	"github.com/okian/vault/pkg/tracing"
)

// Decryptor decrypts batches of events for one account.
type Decryptor struct {
	crypto CryptoProvider
	cache  cache.Cache
	opts   []Option
	logger logger.Logger
}

// NewDecryptor creates a decryptor writing through c.
func NewDecryptor(crypto CryptoProvider, c cache.Cache, opts ...Option) *Decryptor {
	s := newSettings(opts)
	return &Decryptor{
		crypto: crypto,
		cache:  c,
		opts:   opts,
		logger: s.logger,
	}
}

// DecryptEvents decrypts every event it can and returns them in input
// order. Events that fail are dropped. The cache is committed once after
// all events settle; a failed commit is logged, not returned. The only
// error returned is the context's.
func (d *Decryptor) DecryptEvents(
	ctx context.Context,
	events []model.EncryptedEvent,
	secrets []model.EncryptedSecret,
	accountPrivateJWK []byte,
) ([]model.DecryptedEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "decrypt.events",
		attribute.Int("events", len(events)),
		attribute.Int("secrets", len(secrets)),
	)
	start := time.Now()

	account, err := d.crypto.AsymmetricDecrypter(accountPrivateJWK)
	if err != nil {
		// Cached payloads can still be served, so the batch goes on.
		d.logger.Warn(ctx, "account key unusable", logger.Error(err))
		account = nil
	}
	resolver := NewSecretResolver(batchAccount(events, secrets), secrets, account, d.cache, d.opts...)

	results := make([]*model.DecryptedEvent, len(events))
	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := events[i]
			payload, err := d.decryptOne(ctx, ev, account, resolver)
			if err != nil {
				metrics.RecordEventDropped(metrics.ReasonDecrypt)
				d.logger.Debug(ctx, "dropping event",
					logger.String("eventId", ev.EventID),
					logger.String("secretId", ev.SecretID),
					logger.Error(err),
				)
				return
			}
			dec := ev.WithPayload(payload)
			results[i] = &dec
			metrics.RecordEventDecrypted()
		}(i)
	}
	wg.Wait()

	out := make([]model.DecryptedEvent, 0, len(events))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}

	commitErr := d.cache.Commit(ctx)
	metrics.RecordCacheCommit(commitErr)
	if commitErr != nil {
		d.logger.Error(ctx, "committing decryption cache failed", logger.Error(commitErr))
	}

	metrics.RecordDecryptBatch(len(events), float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("decrypted", len(out)))
	tracing.EndSpan(span, ctx.Err())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Decryptor) decryptOne(ctx context.Context, ev model.EncryptedEvent, account Decrypter, resolver *SecretResolver) ([]byte, error) {
	key := cacheKey(ev.AccountID, ev.EventID)
	cached, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn(ctx, "event cache lookup failed", logger.String("eventId", ev.EventID), logger.Error(err))
	} else if ok {
		return cached, nil
	}

	var payload []byte
	if ev.Anonymous() {
		if account == nil {
			return nil, ErrAccountKey
		}
		payload, err = account.Decrypt(ctx, ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("decrypt with account key: %w", err)
		}
	} else {
		secret, err := resolver.Resolve(ctx, ev.SecretID)
		if err != nil {
			return nil, err
		}
		sym, err := d.crypto.SymmetricDecrypter(secret.JWK)
		if err != nil {
			return nil, fmt.Errorf("bind secret %s: %w", ev.SecretID, err)
		}
		payload, err = sym.Decrypt(ctx, ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("decrypt with secret %s: %w", ev.SecretID, err)
		}
	}

	if err := d.cache.Set(ctx, key, payload); err != nil {
		d.logger.Warn(ctx, "caching payload failed", logger.String("eventId", ev.EventID), logger.Error(err))
	}
	return payload, nil
}

// cacheKey scopes an event or secret id to its account. The cache is shared
// by every account while ids are only unique within one.
func cacheKey(accountID, id string) string {
	return accountID + "/" + id
}

// batchAccount returns the account a batch belongs to, taken from the first
// event or secret that names one.
func batchAccount(events []model.EncryptedEvent, secrets []model.EncryptedSecret) string {
	for _, ev := range events {
		if ev.AccountID != "" {
			return ev.AccountID
		}
	}
	for _, sec := range secrets {
		if sec.AccountID != "" {
			return sec.AccountID
		}
	}
	return ""
}

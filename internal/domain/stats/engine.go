package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
	"github.com/okian/vault/pkg/tracing"
)

const retentionLookback = retentionWeeks * 7 * 24 * time.Hour

// EventStore is the read side of the event store.
type EventStore interface {
	Events(ctx context.Context, accountID string, from, to time.Time) ([]model.EncryptedEvent, error)
	Secrets(ctx context.Context, accountID string) ([]model.EncryptedSecret, error)
}

// EventDecryptor turns ciphertext events into plaintext ones, dropping
// the events it cannot decrypt.
type EventDecryptor interface {
	DecryptEvents(ctx context.Context, events []model.EncryptedEvent, secrets []model.EncryptedSecret, accountPrivateJWK []byte) ([]model.DecryptedEvent, error)
}

// Engine computes statistics for one account at a time.
type Engine struct {
	store     EventStore
	decryptor EventDecryptor
	clock     clockwork.Clock
	logger    logger.Logger
}

// NewEngine creates an engine reading from store.
func NewEngine(store EventStore, decryptor EventDecryptor, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		decryptor: decryptor,
		clock:     clockwork.NewRealClock(),
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetDefaultStats fetches, decrypts and validates the account's events and
// derives the statistics for q. Events that fail to decrypt or validate
// are left out and show up in Result.Loss.
func (e *Engine) GetDefaultStats(ctx context.Context, accountID string, q Query, accountPrivateJWK []byte) (_ *Result, err error) {
	q, err = q.normalize(e.clock.Now())
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "stats.compute",
		attribute.String("accountId", accountID),
		attribute.String("resolution", string(q.Resolution)),
		attribute.Int("range", q.Range),
	)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()

	buckets := Buckets(q.Now, q.Resolution, q.Range)
	from := buckets[0].Start
	if lookback := q.Now.Add(-retentionLookback); lookback.Before(from) {
		from = lookback
	}

	events, err := e.store.Events(ctx, accountID, from, q.Now)
	if err != nil {
		return nil, fmt.Errorf("%w: events: %w", ErrFetch, err)
	}
	secrets, err := e.store.Secrets(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: secrets: %w", ErrFetch, err)
	}
	metrics.RecordEventsFetched(len(events))

	decrypted, err := e.decryptor.DecryptEvents(ctx, events, secrets, accountPrivateJWK)
	if err != nil {
		return nil, err
	}

	t := tabulate(decrypted)
	e.logger.Debug(ctx, "events tabulated",
		logger.String("accountId", accountID),
		logger.Int("fetched", len(events)),
		logger.Int("decrypted", len(decrypted)),
		logger.Int("observed", t.observed),
		logger.Int("validated", t.validated),
	)

	d := &deriver{
		ctx:     ctx,
		logger:  e.logger,
		table:   t.agg,
		buckets: buckets,
		now:     q.Now,
	}
	res := d.derive(q)
	res.Loss = loss(events, t.validatedIDs, buckets[0].Start, q.Now)

	span.SetAttributes(attribute.Float64("loss", res.Loss))
	metrics.RecordStatsComputation(string(q.Resolution), float64(time.Since(start).Milliseconds()), res.Loss)
	return res, nil
}

// loss is the share of events received in [from, to] that did not make it
// through decryption and validation.
func loss(events []model.EncryptedEvent, validated map[string]struct{}, from, to time.Time) float64 {
	var fetched, kept int
	for _, ev := range events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		fetched++
		if _, ok := validated[ev.EventID]; ok {
			kept++
		}
	}
	if fetched == 0 {
		return 0
	}
	return 1 - float64(kept)/float64(fetched)
}

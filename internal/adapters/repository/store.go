// Package repository stores encrypted events and secrets.
//
// Rows are filed under a partition key. Server side ingestion files every
// event under its own account id, so the partition key and the account id
// coincide there; tooling can file several accounts under one key.
package repository

import (
	"context"
	"time"

	"github.com/okian/vault/internal/domain/model"
)

// Store provides read/write access to encrypted events and secrets.
type Store interface {
	// Events returns the events filed under accountID whose envelope
	// timestamp lies within [from, to], ordered by timestamp then event id.
	Events(ctx context.Context, accountID string, from, to time.Time) ([]model.EncryptedEvent, error)

	// Secrets returns every secret filed under accountID.
	Secrets(ctx context.Context, accountID string) ([]model.EncryptedSecret, error)

	// InsertEvents files events under accountID. Events whose id is already
	// stored are skipped. Returns the number of events inserted.
	InsertEvents(ctx context.Context, accountID string, events ...model.EncryptedEvent) (int, error)

	// InsertSecrets files secrets under accountID, replacing the value of
	// secrets whose id is already stored.
	InsertSecrets(ctx context.Context, accountID string, secrets ...model.EncryptedSecret) error

	// Close releases the store. Later calls fail with ErrStoreClosed.
	Close() error
}

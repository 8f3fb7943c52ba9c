// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"net/url"
	"time"
)

// EncryptedEvent is an event as stored: the payload is opaque ciphertext.
// Fields mirror the OpenAPI schema for /events.
type EncryptedEvent struct {
	EventID   string    `json:"eventId"`            // ULID, time sortable
	AccountID string    `json:"accountId"`          // account the event was recorded for
	SecretID  string    `json:"secretId,omitempty"` // empty for anonymous events
	Payload   string    `json:"payload"`            // wire ciphertext
	Timestamp time.Time `json:"timestamp"`          // server side receive time
}

// Anonymous reports whether the payload is encrypted with the account key.
func (e EncryptedEvent) Anonymous() bool {
	return e.SecretID == ""
}

// EncryptedSecret is a per-user symmetric key wrapped with the account key.
type EncryptedSecret struct {
	SecretID  string `json:"secretId" cbor:"secretId"`
	AccountID string `json:"accountId,omitempty" cbor:"accountId,omitempty"`
	Value     string `json:"value" cbor:"value"`
}

// DecryptedSecret carries the unwrapped key material as a JWK document.
type DecryptedSecret struct {
	EncryptedSecret
	JWK []byte `json:"jwk" cbor:"jwk"`
}

// DecryptedEvent is an EncryptedEvent whose payload has been decrypted.
type DecryptedEvent struct {
	EventID   string          `json:"eventId"`
	AccountID string          `json:"accountId"`
	SecretID  string          `json:"secretId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// WithPayload returns the decrypted form of e.
func (e EncryptedEvent) WithPayload(payload []byte) DecryptedEvent {
	return DecryptedEvent{
		EventID:   e.EventID,
		AccountID: e.AccountID,
		SecretID:  e.SecretID,
		Timestamp: e.Timestamp,
		Payload:   json.RawMessage(payload),
	}
}

// ValidPageview is a pageview whose URLs and timestamp have been checked.
type ValidPageview struct {
	Href      *url.URL
	Referrer  *url.URL // nil when the pageview carried no referrer
	Timestamp time.Time
	SessionID string
	Title     string
	Pageload  *float64
	IsMobile  bool
}

// ValidatedEvent is a decrypted event that passed validation.
type ValidatedEvent struct {
	DecryptedEvent
	Pageview ValidPageview
}

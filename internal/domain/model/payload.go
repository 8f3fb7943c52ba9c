package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the tag of a decrypted payload.
type EventType string

// Known event types.
const (
	TypePageview EventType = "PAGEVIEW"
)

// Payload is the closed set of decrypted payload variants.
type Payload interface {
	Type() EventType
	// ObservedAt is the client side timestamp of the payload.
	ObservedAt() (time.Time, error)

	isPayload()
}

// Pageview is the payload recorded for a page impression. Anonymous
// pageviews carry only a timestamp and a pageload.
type Pageview struct {
	Href      string          `json:"href,omitempty"`
	Title     string          `json:"title,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Referrer  string          `json:"referrer,omitempty"`
	Timestamp json.RawMessage `json:"timestamp"`
	Pageload  *float64        `json:"pageload"`
	IsMobile  bool            `json:"isMobile,omitempty"`
}

func (Pageview) Type() EventType { return TypePageview }
func (Pageview) isPayload()      {}

// ObservedAt parses the timestamp, which must be an RFC 3339 string.
func (p Pageview) ObservedAt() (time.Time, error) {
	return ParseTimestamp(p.Timestamp)
}

// MarshalJSON adds the type tag.
func (p Pageview) MarshalJSON() ([]byte, error) {
	type plain Pageview
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{TypePageview, plain(p)})
}

// ParsePayload decodes raw and dispatches on its type tag.
func ParsePayload(raw []byte) (Payload, error) {
	var tag struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch tag.Type {
	case TypePageview:
		var p Pageview
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, tag.Type)
	}
}

// ParseTimestamp accepts a JSON string holding an RFC 3339 instant.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp is not a string", ErrMalformedPayload)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return ts, nil
}

// FormatTimestamp renders ts the way clients do, in UTC with milliseconds.
func FormatTimestamp(ts time.Time) json.RawMessage {
	b, _ := json.Marshal(ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return b
}

// Package validate turns decrypted events into validated ones.
package validate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/okian/vault/internal/domain/model"
)

// ValidateAndParseEvent parses the payload of e and checks its fields.
// Rejections wrap ErrValidation.
func ValidateAndParseEvent(e model.DecryptedEvent) (model.ValidatedEvent, error) {
	payload, err := model.ParsePayload(e.Payload)
	if err != nil {
		return model.ValidatedEvent{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	switch p := payload.(type) {
	case model.Pageview:
		pv, err := validatePageview(p)
		if err != nil {
			return model.ValidatedEvent{}, err
		}
		return model.ValidatedEvent{DecryptedEvent: e, Pageview: pv}, nil
	default:
		return model.ValidatedEvent{}, fmt.Errorf("%w: unhandled event type %q", ErrValidation, payload.Type())
	}
}

func validatePageview(p model.Pageview) (model.ValidPageview, error) {
	ts, err := p.ObservedAt()
	if err != nil {
		return model.ValidPageview{}, fmt.Errorf("%w: timestamp: %w", ErrValidation, err)
	}

	href, err := NormalizeURL(p.Href)
	if err != nil {
		return model.ValidPageview{}, fmt.Errorf("%w: href: %w", ErrValidation, err)
	}

	var referrer *url.URL
	if p.Referrer != "" {
		referrer, err = NormalizeURL(p.Referrer)
		if err != nil {
			return model.ValidPageview{}, fmt.Errorf("%w: referrer: %w", ErrValidation, err)
		}
	}

	return model.ValidPageview{
		Href:      href,
		Referrer:  referrer,
		Timestamp: ts,
		SessionID: p.SessionID,
		Title:     p.Title,
		Pageload:  p.Pageload,
		IsMobile:  p.IsMobile,
	}, nil
}

// NormalizeURL parses raw as an absolute URL and makes sure its path ends
// in a slash. Applying it to its own output changes nothing.
func NormalizeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	return u, nil
}

// Package stats computes usage statistics over an account's decrypted
// events.
package stats

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the width of one bucket.
type Resolution string

// Supported resolutions.
const (
	Hours Resolution = "hours"
	Days  Resolution = "days"
	Weeks Resolution = "weeks"
)

// Query defaults.
const (
	DefaultRange      = 7
	DefaultResolution = Days
	MaxRange          = 1000

	retentionWeeks = 4
)

// ParseResolution accepts hours, days or weeks in any case. The empty
// string yields the default.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return DefaultResolution, nil
	case Hours, Days, Weeks:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidQuery, s)
	}
}

// Query selects the buckets to compute. Zero values take the defaults.
type Query struct {
	Range      int
	Resolution Resolution
	Now        time.Time
}

func (q Query) normalize(now time.Time) (Query, error) {
	if q.Range < 0 || q.Range > MaxRange {
		return q, fmt.Errorf("%w: range %d outside [0, %d]", ErrInvalidQuery, q.Range, MaxRange)
	}
	if q.Range == 0 {
		q.Range = DefaultRange
	}
	res, err := ParseResolution(string(q.Resolution))
	if err != nil {
		return q, err
	}
	q.Resolution = res
	if q.Now.IsZero() {
		q.Now = now
	}
	q.Now = q.Now.UTC()
	return q, nil
}

// CountItem is one entry of a grouped list.
type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// PageviewBucket holds the per bucket counters.
type PageviewBucket struct {
	Date      time.Time `json:"date"`
	Accounts  int       `json:"accounts"`
	Pageviews int       `json:"pageviews"`
	Visitors  int       `json:"visitors"`
}

// Result is the statistics document. Field order is part of the JSON
// contract.
type Result struct {
	UniqueUsers     int              `json:"uniqueUsers"`
	UniqueAccounts  int              `json:"uniqueAccounts"`
	UniqueSessions  int              `json:"uniqueSessions"`
	Referrers       []CountItem      `json:"referrers"`
	Pages           []CountItem      `json:"pages"`
	Pageviews       []PageviewBucket `json:"pageviews"`
	BounceRate      float64          `json:"bounceRate"`
	Loss            float64          `json:"loss"`
	AvgPageload     *float64         `json:"avgPageload"`
	AvgPageDepth    float64          `json:"avgPageDepth"`
	LandingPages    []CountItem      `json:"landingPages"`
	ExitPages       []CountItem      `json:"exitPages"`
	MobileShare     *float64         `json:"mobileShare"`
	LivePages       []CountItem      `json:"livePages"`
	LiveUsers       int              `json:"liveUsers"`
	Campaigns       []CountItem      `json:"campaigns"`
	Sources         []CountItem      `json:"sources"`
	RetentionMatrix [][]float64      `json:"retentionMatrix"`
	Empty           bool             `json:"empty"`
	ReturningUsers  int              `json:"returningUsers"`
	Resolution      Resolution       `json:"resolution"`
	Range           int              `json:"range"`
}

func newResult(q Query) *Result {
	return &Result{
		Referrers:       []CountItem{},
		Pages:           []CountItem{},
		Pageviews:       []PageviewBucket{},
		LandingPages:    []CountItem{},
		ExitPages:       []CountItem{},
		LivePages:       []CountItem{},
		Campaigns:       []CountItem{},
		Sources:         []CountItem{},
		RetentionMatrix: [][]float64{},
		Resolution:      q.Resolution,
		Range:           q.Range,
	}
}

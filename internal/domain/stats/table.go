package stats

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/okian/vault/internal/domain/aggregate"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/validate"
	"github.com/okian/vault/pkg/metrics"
)

// Column names of the event table.
const (
	colEventID   = "eventId"
	colAccountID = "accountId"
	colSecretID  = "secretId"
	colSessionID = "sessionId"
	colHref      = "href"
	colReferrer  = "referrer"
	colTimestamp = "timestamp"
	colPageload  = "pageload"
	colIsMobile  = "isMobile"
)

type tabulation struct {
	agg          *aggregate.Aggregate
	observed     int
	validated    int
	validatedIDs map[string]struct{}
}

// tabulate merges validated pageviews with the events that only passed
// the timestamp check, such as anonymous ones. Rows of the latter lack the
// href column, which tells the two kinds apart. Rows are ordered by
// payload timestamp, ties keeping input order.
func tabulate(events []model.DecryptedEvent) tabulation {
	t := tabulation{validatedIDs: make(map[string]struct{})}
	var pageviews, others []aggregate.Row

	for _, ev := range events {
		v, err := validate.ValidateAndParseEvent(ev)
		if err == nil {
			pageviews = append(pageviews, pageviewRow(v))
			t.validatedIDs[ev.EventID] = struct{}{}
			continue
		}
		metrics.RecordEventDropped(metrics.ReasonValidation)
		if row, ok := observedRow(ev); ok {
			others = append(others, row)
		}
	}
	t.validated = len(pageviews)
	t.observed = len(pageviews) + len(others)

	t.agg = sortByTimestamp(aggregate.Merge(
		aggregate.FromRows(pageviews, nil),
		aggregate.FromRows(others, nil),
	))
	return t
}

func pageviewRow(v model.ValidatedEvent) aggregate.Row {
	pv := v.Pageview
	var referrer any
	if pv.Referrer != nil {
		referrer = pv.Referrer
	}
	return aggregate.Row{
		{Name: colEventID, Value: v.EventID},
		{Name: colAccountID, Value: v.AccountID},
		{Name: colSecretID, Value: v.SecretID},
		{Name: colSessionID, Value: pv.SessionID},
		{Name: colHref, Value: pv.Href},
		{Name: colReferrer, Value: referrer},
		{Name: colTimestamp, Value: pv.Timestamp.UTC()},
		{Name: colPageload, Value: pageloadValue(pv.Pageload)},
		{Name: colIsMobile, Value: pv.IsMobile},
	}
}

// observedRow keeps what is usable from an event of a known type with a
// valid timestamp that did not pass validation.
func observedRow(ev model.DecryptedEvent) (aggregate.Row, bool) {
	payload, err := model.ParsePayload(ev.Payload)
	if err != nil {
		return nil, false
	}
	ts, err := payload.ObservedAt()
	if err != nil {
		return nil, false
	}

	row := aggregate.Row{
		{Name: colEventID, Value: ev.EventID},
		{Name: colAccountID, Value: ev.AccountID},
		{Name: colTimestamp, Value: ts.UTC()},
	}
	switch p := payload.(type) {
	case model.Pageview:
		row = append(row, aggregate.Field{Name: colPageload, Value: pageloadValue(p.Pageload)})
	}
	return row, true
}

func pageloadValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func sortByTimestamp(a *aggregate.Aggregate) *aggregate.Aggregate {
	ts := a.Column(colTimestamp)
	order := make([]int, len(ts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		ti, _ := ts[order[i]].(time.Time)
		tj, _ := ts[order[j]].(time.Time)
		return ti.Before(tj)
	})

	out := aggregate.New()
	for _, name := range a.Names() {
		col := a.Column(name)
		sorted := make([]any, len(order))
		for i, k := range order {
			if k < len(col) {
				sorted[i] = col[k]
			}
		}
		out.SetColumn(name, sorted)
	}
	return out
}

// record is the typed view of one table row.
type record struct {
	eventID   string
	accountID string
	secretID  string
	sessionID string
	href      *url.URL
	referrer  *url.URL
	timestamp time.Time
	pageload  *float64
	isMobile  bool
	pageview  bool
}

// records projects the named columns and decodes each row. The timestamp
// and href columns are always included.
func records(a *aggregate.Aggregate, names ...string) ([]record, error) {
	proj := aggregate.New()
	for _, name := range append([]string{colTimestamp, colHref}, names...) {
		if col := a.Column(name); col != nil {
			proj.SetColumn(name, col)
		}
	}
	rows, err := aggregate.Inflate(proj, nil)
	if err != nil {
		return nil, err
	}

	out := make([]record, len(rows))
	for i, row := range rows {
		r := &out[i]
		for _, f := range row {
			if err := r.set(f); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (r *record) set(f aggregate.Field) error {
	var ok bool
	switch f.Name {
	case colEventID:
		r.eventID, ok = f.Value.(string)
	case colAccountID:
		r.accountID, ok = f.Value.(string)
	case colSecretID:
		r.secretID, ok = f.Value.(string)
	case colSessionID:
		r.sessionID, ok = f.Value.(string)
	case colHref:
		r.href, ok = f.Value.(*url.URL)
		r.pageview = ok
	case colReferrer:
		if f.Value == nil {
			return nil
		}
		r.referrer, ok = f.Value.(*url.URL)
	case colTimestamp:
		r.timestamp, ok = f.Value.(time.Time)
	case colPageload:
		if f.Value == nil {
			return nil
		}
		var v float64
		v, ok = f.Value.(float64)
		r.pageload = &v
	case colIsMobile:
		r.isMobile, ok = f.Value.(bool)
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("column %q holds %T", f.Name, f.Value)
	}
	return nil
}

package stats

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/okian/vault/internal/domain/aggregate"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

const week = 7 * 24 * time.Hour

type deriver struct {
	ctx     context.Context
	logger  logger.Logger
	table   *aggregate.Aggregate
	buckets []Bucket
	now     time.Time
}

// derive fills every field it can. A failing field keeps its zero value.
func (d *deriver) derive(q Query) *Result {
	res := newResult(q)

	d.field("uniqueUsers", func() (err error) {
		res.UniqueUsers, err = d.distinct(colSecretID, true, func(r record) string { return r.secretID })
		return err
	})
	d.field("uniqueAccounts", func() (err error) {
		res.UniqueAccounts, err = d.distinct(colAccountID, false, func(r record) string { return r.accountID })
		return err
	})
	d.field("uniqueSessions", func() (err error) {
		res.UniqueSessions, err = d.distinct(colSessionID, true, func(r record) string { return r.sessionID })
		return err
	})
	d.field("referrers", func() (err error) {
		res.Referrers, err = d.group(colReferrer, func(r record) string {
			if r.referrer == nil || r.referrer.Host == r.href.Host {
				return ""
			}
			return r.referrer.Host
		})
		return err
	})
	d.field("pages", func() (err error) {
		res.Pages, err = d.group("", func(r record) string { return pageKey(r.href) })
		return err
	})
	d.field("pageviews", func() (err error) {
		res.Pageviews, err = d.pageviews()
		return err
	})
	d.field("bounceRate", func() error {
		ss, err := d.sessions()
		if err != nil {
			return err
		}
		if len(ss) > 0 {
			bounced := 0
			for _, s := range ss {
				if s.pageviews == 1 {
					bounced++
				}
			}
			res.BounceRate = float64(bounced) / float64(len(ss))
		}
		return nil
	})
	d.field("avgPageload", func() error {
		recs, err := d.window(colPageload)
		if err != nil {
			return err
		}
		var sum float64
		var n int
		for _, r := range recs {
			if r.pageload != nil {
				sum += *r.pageload
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			res.AvgPageload = &avg
		}
		return nil
	})
	d.field("avgPageDepth", func() error {
		ss, err := d.sessions()
		if err != nil {
			return err
		}
		if len(ss) > 0 {
			total := 0
			for _, s := range ss {
				total += s.pageviews
			}
			res.AvgPageDepth = float64(total) / float64(len(ss))
		}
		return nil
	})
	d.field("landingPages", func() error {
		ss, err := d.sessions()
		if err != nil {
			return err
		}
		res.LandingPages = countSessions(ss, func(s *session) string { return pageKey(s.first) })
		return nil
	})
	d.field("exitPages", func() error {
		ss, err := d.sessions()
		if err != nil {
			return err
		}
		res.ExitPages = countSessions(ss, func(s *session) string {
			if s.pageviews < 2 {
				return ""
			}
			return pageKey(s.last)
		})
		return nil
	})
	d.field("mobileShare", func() error {
		ss, err := d.sessions()
		if err != nil {
			return err
		}
		if len(ss) > 0 {
			mobile := 0
			for _, s := range ss {
				if s.mobile {
					mobile++
				}
			}
			share := float64(mobile) / float64(len(ss))
			res.MobileShare = &share
		}
		return nil
	})
	d.field("livePages", func() error {
		recs, err := d.live(colSessionID)
		if err != nil {
			return err
		}
		latest := make(map[string]*url.URL)
		var order []string
		for _, r := range recs {
			if r.sessionID == "" {
				continue
			}
			if _, ok := latest[r.sessionID]; !ok {
				order = append(order, r.sessionID)
			}
			latest[r.sessionID] = r.href
		}
		c := newCounter()
		for _, id := range order {
			c.add(pageKey(latest[id]))
		}
		res.LivePages = c.items()
		return nil
	})
	d.field("liveUsers", func() error {
		recs, err := d.live(colSecretID)
		if err != nil {
			return err
		}
		users := make(map[string]struct{})
		for _, r := range recs {
			if r.secretID != "" {
				users[r.secretID] = struct{}{}
			}
		}
		res.LiveUsers = len(users)
		return nil
	})
	d.field("campaigns", func() (err error) {
		res.Campaigns, err = d.group("", func(r record) string { return r.href.Query().Get("utm_campaign") })
		return err
	})
	d.field("sources", func() (err error) {
		res.Sources, err = d.group("", func(r record) string { return r.href.Query().Get("utm_source") })
		return err
	})
	d.field("retentionMatrix", func() (err error) {
		res.RetentionMatrix, err = d.retention()
		return err
	})
	d.field("empty", func() error {
		recs, err := d.window()
		if err != nil {
			return err
		}
		res.Empty = true
		for _, r := range recs {
			if r.pageview {
				res.Empty = false
				break
			}
		}
		return nil
	})
	d.field("returningUsers", func() error {
		recs, err := d.window(colSecretID)
		if err != nil {
			return err
		}
		seen := make(map[string]map[int]struct{})
		for _, r := range recs {
			if !r.pageview || r.secretID == "" {
				continue
			}
			if seen[r.secretID] == nil {
				seen[r.secretID] = make(map[int]struct{})
			}
			seen[r.secretID][index(d.buckets, r.timestamp)] = struct{}{}
		}
		for _, b := range seen {
			if len(b) > 1 {
				res.ReturningUsers++
			}
		}
		return nil
	})
	return res
}

func (d *deriver) field(name string, fn func() error) {
	if err := fn(); err != nil {
		metrics.RecordStatsFieldError(name)
		d.logger.Warn(d.ctx, "deriving field failed", logger.String("field", name), logger.Error(err))
	}
}

// window returns the rows whose payload timestamp falls into a bucket.
func (d *deriver) window(names ...string) ([]record, error) {
	recs, err := records(d.table, names...)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if index(d.buckets, r.timestamp) >= 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// live returns the pageviews of the most recent bucket.
func (d *deriver) live(names ...string) ([]record, error) {
	recs, err := d.window(names...)
	if err != nil {
		return nil, err
	}
	last := len(d.buckets) - 1
	out := recs[:0]
	for _, r := range recs {
		if r.pageview && index(d.buckets, r.timestamp) == last {
			out = append(out, r)
		}
	}
	return out, nil
}

// distinct counts the distinct non-empty keys over the window.
func (d *deriver) distinct(column string, pageviewsOnly bool, key func(record) string) (int, error) {
	recs, err := d.window(column)
	if err != nil {
		return 0, err
	}
	set := make(map[string]struct{})
	for _, r := range recs {
		if pageviewsOnly && !r.pageview {
			continue
		}
		if k := key(r); k != "" {
			set[k] = struct{}{}
		}
	}
	return len(set), nil
}

// group counts pageviews in the window by key, skipping empty keys.
func (d *deriver) group(column string, key func(record) string) ([]CountItem, error) {
	var names []string
	if column != "" {
		names = append(names, column)
	}
	recs, err := d.window(names...)
	if err != nil {
		return nil, err
	}
	c := newCounter()
	for _, r := range recs {
		if r.pageview {
			c.add(key(r))
		}
	}
	return c.items(), nil
}

func (d *deriver) pageviews() ([]PageviewBucket, error) {
	recs, err := d.window(colAccountID, colSecretID)
	if err != nil {
		return nil, err
	}
	accounts := make([]map[string]struct{}, len(d.buckets))
	visitors := make([]map[string]struct{}, len(d.buckets))
	out := make([]PageviewBucket, len(d.buckets))
	for i, b := range d.buckets {
		out[i].Date = b.Start
		accounts[i] = make(map[string]struct{})
		visitors[i] = make(map[string]struct{})
	}
	for _, r := range recs {
		i := index(d.buckets, r.timestamp)
		if r.accountID != "" {
			accounts[i][r.accountID] = struct{}{}
		}
		if !r.pageview {
			continue
		}
		out[i].Pageviews++
		if r.secretID != "" {
			visitors[i][r.secretID] = struct{}{}
		}
	}
	for i := range out {
		out[i].Accounts = len(accounts[i])
		out[i].Visitors = len(visitors[i])
	}
	return out, nil
}

type session struct {
	pageviews int
	first     *url.URL
	last      *url.URL
	mobile    bool
}

// sessions groups the window's pageviews by session id in order of first
// appearance. Rows are sorted by timestamp, so first is the landing page
// and last the exit page.
func (d *deriver) sessions() ([]*session, error) {
	recs, err := d.window(colSessionID, colIsMobile)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*session)
	var out []*session
	for _, r := range recs {
		if !r.pageview || r.sessionID == "" {
			continue
		}
		s, ok := byID[r.sessionID]
		if !ok {
			s = &session{first: r.href}
			byID[r.sessionID] = s
			out = append(out, s)
		}
		s.pageviews++
		s.last = r.href
		s.mobile = s.mobile || r.isMobile
	}
	return out, nil
}

func countSessions(ss []*session, key func(*session) string) []CountItem {
	c := newCounter()
	for _, s := range ss {
		c.add(key(s))
	}
	return c.items()
}

// retention builds the cohort matrix over the last four weeks. Week w
// covers (now-(4-w)*7d, now-(3-w)*7d]. Row i is the cohort of users first
// seen in week i; cell j is the share of that cohort seen in week j.
func (d *deriver) retention() ([][]float64, error) {
	recs, err := records(d.table, colSecretID)
	if err != nil {
		return nil, err
	}

	seen := make([]map[string]struct{}, retentionWeeks)
	for i := range seen {
		seen[i] = make(map[string]struct{})
	}
	first := make(map[string]int)
	for _, r := range recs {
		if !r.pageview || r.secretID == "" {
			continue
		}
		w := d.retentionWeek(r.timestamp)
		if w < 0 {
			continue
		}
		seen[w][r.secretID] = struct{}{}
		if f, ok := first[r.secretID]; !ok || w < f {
			first[r.secretID] = w
		}
	}

	matrix := make([][]float64, retentionWeeks)
	for i := range matrix {
		matrix[i] = make([]float64, retentionWeeks)
		var cohort []string
		for user, w := range first {
			if w == i {
				cohort = append(cohort, user)
			}
		}
		if len(cohort) == 0 {
			continue
		}
		for j := i; j < retentionWeeks; j++ {
			n := 0
			for _, user := range cohort {
				if _, ok := seen[j][user]; ok {
					n++
				}
			}
			matrix[i][j] = float64(n) / float64(len(cohort))
		}
	}
	return matrix, nil
}

func (d *deriver) retentionWeek(ts time.Time) int {
	for w := 0; w < retentionWeeks; w++ {
		lo := d.now.Add(-time.Duration(retentionWeeks-w) * week)
		hi := d.now.Add(-time.Duration(retentionWeeks-1-w) * week)
		if ts.After(lo) && !ts.After(hi) {
			return w
		}
	}
	return -1
}

// pageKey identifies a page by scheme, host and path.
func pageKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := *u
	p.RawQuery = ""
	p.ForceQuery = false
	p.Fragment = ""
	p.RawFragment = ""
	p.User = nil
	return p.String()
}

type counter struct {
	counts map[string]int
}

func newCounter() *counter { return &counter{counts: make(map[string]int)} }

func (c *counter) add(key string) {
	if key != "" {
		c.counts[key]++
	}
}

// items sorts by count descending, then key ascending.
func (c *counter) items() []CountItem {
	out := make([]CountItem, 0, len(c.counts))
	for k, n := range c.counts {
		out = append(out, CountItem{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

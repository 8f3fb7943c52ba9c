package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
)

const progressInterval = time.Second

// Client talks to the vault HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// StatusError is returned for unexpected response codes.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.Status, e.Body)
}

type ack struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

// PostSecrets stores wrapped user keys.
func (c *Client) PostSecrets(ctx context.Context, accountID string, secrets []model.EncryptedSecret) error {
	body := struct {
		AccountID string                  `json:"accountId"`
		Secrets   []model.EncryptedSecret `json:"secrets"`
	}{accountID, secrets}
	return c.do(ctx, http.MethodPost, "/secrets", body, nil, http.StatusCreated)
}

// PostEvents submits one batch and returns the accepted and duplicate counts.
func (c *Client) PostEvents(ctx context.Context, accountID string, events []model.EncryptedEvent) (accepted, duplicates int, err error) {
	body := struct {
		AccountID string                 `json:"accountId"`
		Events    []model.EncryptedEvent `json:"events"`
	}{accountID, events}
	var a ack
	if err := c.do(ctx, http.MethodPost, "/events", body, &a, http.StatusAccepted, http.StatusOK); err != nil {
		return 0, 0, err
	}
	return a.Accepted, a.Duplicates, nil
}

// Stats fetches the statistics of an account over the last rangeDays days.
func (c *Client) Stats(ctx context.Context, accountID string, rangeDays int) (*stats.Result, error) {
	q := url.Values{}
	q.Set("accountId", accountID)
	q.Set("range", strconv.Itoa(rangeDays))
	q.Set("resolution", string(stats.Days))
	var res stats.Result
	if err := c.do(ctx, http.MethodGet, "/stats?"+q.Encode(), nil, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, want ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	ok := false
	for _, s := range want {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return &StatusError{Path: path, Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type batch struct {
	accountID string
	events    []model.EncryptedEvent
}

func batches(t *Traffic, size int) []batch {
	var out []batch
	for _, acc := range t.Accounts {
		for start := 0; start < len(acc.Events); start += size {
			end := min(start+size, len(acc.Events))
			out = append(out, batch{accountID: acc.ID, events: acc.Events[start:end]})
		}
	}
	return out
}

// submitEvents posts the traffic in batches from cfg.Workers goroutines.
func submitEvents(ctx context.Context, c *Client, cfg *Config, t *Traffic, st *Stats, l logger.Logger) {
	work := batches(t, cfg.BatchSize)

	var (
		submitted  int64
		accepted   int64
		duplicates int64
		failed     int64
		lastReport atomic.Int64
	)

	ch := make(chan batch, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range ch {
				if ctx.Err() != nil {
					return
				}
				acc, dup, err := c.PostEvents(ctx, b.accountID, b.events)
				atomic.AddInt64(&submitted, int64(len(b.events)))
				if err != nil {
					atomic.AddInt64(&failed, int64(len(b.events)))
					l.Warn(ctx, "batch rejected", logger.String("accountId", b.accountID), logger.Error(err))
					continue
				}
				atomic.AddInt64(&accepted, int64(acc))
				atomic.AddInt64(&duplicates, int64(dup))

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if cfg.Verbose && now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					l.Info(ctx, "progress",
						logger.Int64("submitted", atomic.LoadInt64(&submitted)),
						logger.Int64("accepted", atomic.LoadInt64(&accepted)),
						logger.Int64("failed", atomic.LoadInt64(&failed)),
					)
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, b := range work {
			select {
			case <-ctx.Done():
				return
			case ch <- b:
			}
		}
	}()
	wg.Wait()

	st.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	st.EventsAccepted = int(atomic.LoadInt64(&accepted))
	st.EventsDuplicate = int(atomic.LoadInt64(&duplicates))
	st.EventsFailed = int(atomic.LoadInt64(&failed))
}

package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/vault/internal/adapters/keyring"
	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o600
	settlePoll          = 100 * time.Millisecond
)

// Validate checks cfg for values a run cannot start with.
func (cfg *Config) Validate() error {
	switch {
	case cfg.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case cfg.KeyDir == "":
		return fmt.Errorf("%w: key dir is required", ErrInvalidConfig)
	case cfg.Accounts <= 0:
		return fmt.Errorf("%w: accounts must be positive", ErrInvalidConfig)
	case cfg.Users < 0, cfg.Events < 0:
		return fmt.Errorf("%w: users and events must not be negative", ErrInvalidConfig)
	case cfg.Days < 0 || cfg.Days >= stats.MaxRange:
		return fmt.Errorf("%w: days must be in [0, %d)", ErrInvalidConfig, stats.MaxRange)
	case cfg.Anonymous < 0 || cfg.Anonymous > 1:
		return fmt.Errorf("%w: anonymous share must be in [0, 1]", ErrInvalidConfig)
	case cfg.BatchSize <= 0, cfg.Workers <= 0:
		return fmt.Errorf("%w: batch size and workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// Run generates traffic, submits it and reads the stats of every account
// back once the service has processed it.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := logger.Get().Named("seed")
	st := &Stats{StartTime: time.Now()}

	l.Info(ctx, "starting vault seed",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("keyDir", cfg.KeyDir),
		logger.Int("accounts", cfg.Accounts),
		logger.Int("users", cfg.Users),
		logger.Int("events", cfg.Events),
		logger.Int("workers", cfg.Workers),
	)

	c := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := c.Health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	traffic, err := NewGenerator(keyring.New(cfg.KeyDir), cfg.Seed, l).Generate(ctx, cfg, time.Now())
	if err != nil {
		return nil, fmt.Errorf("traffic generation failed: %w", err)
	}
	for _, acc := range traffic.Accounts {
		st.EventsGenerated += len(acc.Events)
		if len(acc.Secrets) == 0 {
			continue
		}
		if err := c.PostSecrets(ctx, acc.ID, acc.Secrets); err != nil {
			return nil, fmt.Errorf("secret submission failed: %w", err)
		}
		st.SecretsSubmitted += len(acc.Secrets)
	}

	submitEvents(ctx, c, cfg, traffic, st, l)
	l.Info(ctx, "event submission completed",
		logger.Int("accepted", st.EventsAccepted),
		logger.Int("duplicate", st.EventsDuplicate),
		logger.Int("failed", st.EventsFailed),
	)

	for _, acc := range traffic.Accounts {
		res, err := settle(ctx, c, cfg, acc)
		if err != nil {
			return nil, fmt.Errorf("stats retrieval failed: %w", err)
		}
		st.StatsRetrieved++
		l.Info(ctx, "account stats",
			logger.String("accountId", acc.ID),
			logger.Int("pageviews", totalPageviews(res)),
			logger.Int("uniqueUsers", res.UniqueUsers),
			logger.Int("uniqueSessions", res.UniqueSessions),
			logger.Float64("bounceRate", res.BounceRate),
			logger.Float64("avgPageDepth", res.AvgPageDepth),
		)
	}

	if cfg.OutputFile != "" {
		if err := saveTraffic(cfg.OutputFile, traffic); err != nil {
			l.Warn(ctx, "failed to save traffic", logger.Error(err))
		} else {
			l.Info(ctx, "traffic saved", logger.String("file", cfg.OutputFile))
		}
	}

	st.EndTime = time.Now()
	st.Duration = st.EndTime.Sub(st.StartTime)
	logFinalStats(ctx, l, st)
	return st, nil
}

// settle polls the stats of acc until its identified pageviews are all
// counted or cfg.Settle elapses. The last result is returned either way.
func settle(ctx context.Context, c *Client, cfg *Config, acc Account) (*stats.Result, error) {
	deadline := time.Now().Add(cfg.Settle)
	for {
		res, err := c.Stats(ctx, acc.ID, cfg.Days+1)
		if err != nil {
			return nil, err
		}
		if totalPageviews(res) >= acc.Pageviews || !time.Now().Before(deadline) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

func totalPageviews(res *stats.Result) int {
	n := 0
	for _, b := range res.Pageviews {
		n += b.Pageviews
	}
	return n
}

func saveTraffic(path string, t *Traffic) error {
	if len(t.Accounts) == 0 {
		return ErrNothingSaved
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, filePermission)
}

func logFinalStats(ctx context.Context, l logger.Logger, st *Stats) {
	var acceptRate, eventsPerSecond float64
	if st.EventsSubmitted > 0 {
		acceptRate = float64(st.EventsAccepted) / float64(st.EventsSubmitted)
	}
	if st.Duration > 0 {
		eventsPerSecond = float64(st.EventsSubmitted) / st.Duration.Seconds()
	}
	l.Info(ctx, "final statistics",
		logger.Int("eventsGenerated", st.EventsGenerated),
		logger.Int("eventsSubmitted", st.EventsSubmitted),
		logger.Int("eventsAccepted", st.EventsAccepted),
		logger.Int("eventsDuplicate", st.EventsDuplicate),
		logger.Int("eventsFailed", st.EventsFailed),
		logger.Int("secretsSubmitted", st.SecretsSubmitted),
		logger.Int("statsRetrieved", st.StatsRetrieved),
		logger.Duration("duration", st.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("eventsPerSecond", eventsPerSecond),
	)
}

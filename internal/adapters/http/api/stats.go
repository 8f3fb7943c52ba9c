package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
)

// StatsProvider computes the usage statistics of an account.
type StatsProvider interface {
	Stats(ctx context.Context, accountID string, q stats.Query) (*stats.Result, error)
}

// StatsHandler handles stats requests.
type StatsHandler struct {
	provider StatsProvider
	logger   logger.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider, opts ...Option) *StatsHandler {
	s := newSettings(opts)
	return &StatsHandler{provider: provider, logger: s.logger}
}

// parseStatsQuery reads accountId, range, resolution and now. Range and
// resolution are checked by the engine.
func parseStatsQuery(v url.Values) (string, stats.Query, error) {
	var q stats.Query
	accountID := strings.TrimSpace(v.Get("accountId"))
	if accountID == "" {
		return "", q, errors.New("missing accountId")
	}
	if raw := v.Get("range"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", q, fmt.Errorf("invalid range %q", raw)
		}
		q.Range = n
	}
	q.Resolution = stats.Resolution(v.Get("resolution"))
	if raw := v.Get("now"); raw != "" {
		now, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", q, errors.New("invalid now; must be RFC3339")
		}
		q.Now = now
	}
	return accountID, q, nil
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_stats"
	if r.Method != http.MethodGet {
		fail(w, r, h.logger, op, NewKind(op, ErrMethodNotAllowed))
		return
	}
	accountID, q, err := parseStatsQuery(r.URL.Query())
	if err != nil {
		fail(w, r, h.logger, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.provider.Stats(r.Context(), accountID, q)
	if err != nil {
		fail(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

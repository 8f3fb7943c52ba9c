// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/vault/internal/adapters/keyring"
	"github.com/okian/vault/internal/adapters/mq/queue"
	"github.com/okian/vault/internal/adapters/repository"
	"github.com/okian/vault/internal/domain/dedupe"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/internal/domain/stats"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes an event for async persistence. Returns false on backpressure.
	Enqueue(ctx context.Context, it queue.Item) bool

	// Stats computes the usage statistics of an account.
	Stats(ctx context.Context, accountID string, q stats.Query) (*stats.Result, error)

	// InsertSecrets stores encrypted user secrets synchronously.
	InsertSecrets(ctx context.Context, accountID string, secrets ...model.EncryptedSecret) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	secretsHandler *SecretsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, checker HealthChecker, opts ...Option) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(checker),
		statsHandler:   NewStatsHandler(deps, opts...),
		eventsHandler:  NewEventsHandler(deps, opts...),
		secretsHandler: NewSecretsHandler(deps, opts...),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", MetricsMiddleware(RequestID(s.statsHandler.HandleStats), "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(RequestID(s.eventsHandler.HandlePostEvents), "events"))
	mux.HandleFunc("/secrets", MetricsMiddleware(RequestID(s.secretsHandler.HandlePostSecrets), "secrets"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps an error to its HTTP status and response code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method_not_allowed"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, stats.ErrInvalidQuery),
		errors.Is(err, keyring.ErrInvalidAccountID),
		errors.Is(err, repository.ErrInvalidEvent):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound), errors.Is(err, keyring.ErrKeyNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable), errors.Is(err, repository.ErrStoreClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err to the client. Server side failures are logged and
// reported with their kind only.
func fail(w http.ResponseWriter, r *http.Request, l logger.Logger, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		l.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("requestId", w.Header().Get(requestIDHeader)),
			logger.Error(err),
		)
		if status == http.StatusInternalServerError {
			err = NewKind(op, ErrInternal)
		}
	}
	writeError(w, status, code, err)
}

// decodeBody decodes a size limited JSON body into v. A body over limit
// fails with *http.MaxBytesError.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

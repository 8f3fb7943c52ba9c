package api

import (
	"context"
	"net/http"
)

// Health is the body of GET /healthz.
type Health struct {
	Status      string `json:"status"`
	QueueLength int    `json:"queueLength"`
	Workers     int    `json:"workers"`
	DedupeSize  int64  `json:"dedupeSize"`
}

// HealthChecker reports whether the service can accept traffic.
type HealthChecker interface {
	Health(ctx context.Context) (Health, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// HandleHealth handles GET /healthz requests. It answers 503 with the
// checker's error while the service is not serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	const op = "api.health"
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", NewKind(op, ErrMethodNotAllowed))
		return
	}
	health, err := h.checker.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, health)
}

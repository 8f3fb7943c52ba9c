package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/okian/vault/internal/adapters/mq/queue"
	"github.com/okian/vault/internal/domain/dedupe"
	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
	"github.com/okian/vault/pkg/metrics"
)

// EventDependencies defines the interface for event ingestion dependencies.
type EventDependencies interface {
	dedupe.Deduper
	Enqueue(ctx context.Context, it queue.Item) bool
}

// EventsHandler accepts batches of encrypted events.
type EventsHandler struct {
	deps         EventDependencies
	logger       logger.Logger
	clock        clockwork.Clock
	maxBatch     int
	maxBodyBytes int64
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, opts ...Option) *EventsHandler {
	s := newSettings(opts)
	return &EventsHandler{
		deps:         deps,
		logger:       s.logger,
		clock:        s.clock,
		maxBatch:     s.maxBatch,
		maxBodyBytes: s.maxBodyBytes,
	}
}

// eventsRequest mirrors the OpenAPI schema for POST /events. The account
// id of the request applies to every event in it.
type eventsRequest struct {
	AccountID string                 `json:"accountId"`
	Events    []model.EncryptedEvent `json:"events"`
}

func (e eventsRequest) validate(maxBatch int) error {
	switch {
	case strings.TrimSpace(e.AccountID) == "":
		return errors.New("missing accountId")
	case len(e.Events) == 0:
		return errors.New("missing events")
	case len(e.Events) > maxBatch:
		return fmt.Errorf("too many events: %d > %d", len(e.Events), maxBatch)
	}
	for i, ev := range e.Events {
		if strings.TrimSpace(ev.Payload) == "" {
			return fmt.Errorf("events[%d]: missing payload", i)
		}
		if ev.EventID != "" {
			if _, err := ulid.ParseStrict(ev.EventID); err != nil {
				return fmt.Errorf("events[%d]: eventId is not a ULID", i)
			}
		}
	}
	return nil
}

type ackResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
}

// HandlePostEvents handles POST /events requests. Events without an id get
// a fresh ULID and events without a timestamp are stamped with the receive
// time. Resubmitted ids are acknowledged without being queued again.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	if r.Method != http.MethodPost {
		fail(w, r, h.logger, op, NewKind(op, ErrMethodNotAllowed))
		return
	}
	var req eventsRequest
	if err := decodeBody(w, r, h.maxBodyBytes, &req); err != nil {
		fail(w, r, h.logger, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(h.maxBatch); err != nil {
		fail(w, r, h.logger, op, WrapKind(op, ErrBadRequest, err))
		return
	}

	ctx := r.Context()
	now := h.clock.Now().UTC()
	ack := ackResponse{Status: "accepted"}
	for _, ev := range req.Events {
		ev.AccountID = req.AccountID
		if ev.EventID == "" {
			ev.EventID = ulid.Make().String()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}

		// Idempotency check - mark as seen first
		if h.deps.SeenAndRecord(ctx, ev.EventID) {
			metrics.RecordEventDuplicate()
			ack.Duplicates++
			continue
		}
		if ok := h.deps.Enqueue(ctx, queue.Item{AccountID: req.AccountID, Event: ev}); !ok {
			// Rollback the "seen" status so the client can retry the batch.
			h.deps.Unrecord(ctx, ev.EventID)
			h.logger.Warn(ctx, "event queue full",
				logger.String("accountId", req.AccountID),
				logger.Int("accepted", ack.Accepted),
			)
			fail(w, r, h.logger, op, NewKind(op, ErrBackpressure))
			return
		}
		ack.Accepted++
	}

	if ack.Accepted == 0 {
		ack.Status = "duplicate"
		writeJSON(w, http.StatusOK, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

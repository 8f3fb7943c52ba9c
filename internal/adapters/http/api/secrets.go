package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/vault/internal/domain/model"
	"github.com/okian/vault/pkg/logger"
)

// SecretDependencies stores encrypted user secrets.
type SecretDependencies interface {
	InsertSecrets(ctx context.Context, accountID string, secrets ...model.EncryptedSecret) error
}

// SecretsHandler accepts encrypted user secrets.
type SecretsHandler struct {
	deps         SecretDependencies
	logger       logger.Logger
	maxBatch     int
	maxBodyBytes int64
}

// NewSecretsHandler creates a new secrets handler.
func NewSecretsHandler(deps SecretDependencies, opts ...Option) *SecretsHandler {
	s := newSettings(opts)
	return &SecretsHandler{
		deps:         deps,
		logger:       s.logger,
		maxBatch:     s.maxBatch,
		maxBodyBytes: s.maxBodyBytes,
	}
}

type secretsRequest struct {
	AccountID string                  `json:"accountId"`
	Secrets   []model.EncryptedSecret `json:"secrets"`
}

func (s secretsRequest) validate(maxBatch int) error {
	switch {
	case strings.TrimSpace(s.AccountID) == "":
		return errors.New("missing accountId")
	case len(s.Secrets) == 0:
		return errors.New("missing secrets")
	case len(s.Secrets) > maxBatch:
		return fmt.Errorf("too many secrets: %d > %d", len(s.Secrets), maxBatch)
	}
	for i, sec := range s.Secrets {
		if strings.TrimSpace(sec.Value) == "" {
			return fmt.Errorf("secrets[%d]: missing value", i)
		}
	}
	return nil
}

type secretsResponse struct {
	Status    string   `json:"status"`
	SecretIDs []string `json:"secretIds"`
}

// HandlePostSecrets handles POST /secrets requests. Secrets without an id
// are assigned a random UUID; the ids are returned in request order.
func (h *SecretsHandler) HandlePostSecrets(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_secrets"
	if r.Method != http.MethodPost {
		fail(w, r, h.logger, op, NewKind(op, ErrMethodNotAllowed))
		return
	}
	var req secretsRequest
	if err := decodeBody(w, r, h.maxBodyBytes, &req); err != nil {
		fail(w, r, h.logger, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(h.maxBatch); err != nil {
		fail(w, r, h.logger, op, WrapKind(op, ErrBadRequest, err))
		return
	}

	ids := make([]string, len(req.Secrets))
	for i := range req.Secrets {
		sec := &req.Secrets[i]
		sec.AccountID = req.AccountID
		if sec.SecretID == "" {
			sec.SecretID = uuid.NewString()
		}
		ids[i] = sec.SecretID
	}
	if err := h.deps.InsertSecrets(r.Context(), req.AccountID, req.Secrets...); err != nil {
		fail(w, r, h.logger, op, fmt.Errorf("insert secrets: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, secretsResponse{Status: "stored", SecretIDs: ids})
}

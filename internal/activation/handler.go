package activation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/distribution"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type ServiceInterface interface {
	Activate(ctx context.Context, req *ActivateRequest) (*Activation, error)
	Get(ctx context.Context, id string) (*StatusResponse, error)
	Cancel(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	Rollback(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	Reverse(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	ReplayOutcome(ctx context.Context, id string, req *OutcomeRequest) (*Activation, error)
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

// POST /api/v1/activations
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	req.ActedBy, _ = middleware.GetUserIDFromContext(r.Context())

	a, err := h.service.Activate(r.Context(), &req)
	if err != nil {
		h.logger.Errorf("Activation failed: %v", err)
		h.respondServiceError(w, a, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, ActivationResponse{Activation: a})
}

// GET /api/v1/activations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, nil, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/activations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.Cancel)
}

// POST /api/v1/activations/{id}/rollback
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.Rollback)
}

// POST /api/v1/activations/{id}/reverse
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.Reverse)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, reason, actedBy string) (*Activation, error)) {
	var req ReasonRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	userID, _ := middleware.GetUserIDFromContext(r.Context())
	a, err := op(r.Context(), r.PathValue("id"), req.Reason, userID)
	if err != nil {
		h.logger.Errorf("Activation %s: %v", r.PathValue("id"), err)
		h.respondServiceError(w, a, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ActivationResponse{Activation: a})
}

// POST /api/v1/internal/activations/{id}/outcome
func (h *Handler) ReplayOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.service.ReplayOutcome(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		h.logger.Errorf("Outcome replay for %s failed: %v", r.PathValue("id"), err)
		h.respondServiceError(w, a, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ActivationResponse{Activation: a})
}

// StatusFor maps activation errors, and the errors of the stores it
// drives, to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrActivationNotFound),
		errors.Is(err, subscriber.ErrSubscriberNotFound),
		errors.Is(err, billing.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ledger.ErrNotReversible):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrProfileInactive),
		errors.Is(err, billing.ErrInvalidDistribution),
		errors.Is(err, ErrProfileOutOfScope),
		errors.Is(err, ErrNotBillable),
		errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, wallet.ErrWalletInactive),
		errors.Is(err, distribution.ErrNoPayerWallet),
		errors.Is(err, subscriber.ErrServiceProfileNotFound),
		errors.Is(err, ledger.ErrEmptyDistribution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, a *Activation, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if a != nil {
		resp.ActivationID = a.ID
		resp.Status = a.Status
		resp.RetryCount = a.RetryCount
	}
	h.respondJSON(w, StatusFor(err), resp)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

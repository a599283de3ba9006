package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type ServiceInterface interface {
	Deposit(ctx context.Context, ref wallet.Ref, req *DepositRequest, createdBy string) (*Transaction, error)
	Reverse(ctx context.Context, txID, reason, createdBy string) (*Transaction, error)
	Reconcile(ctx context.Context, ref wallet.Ref) (*ReconcileResult, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, ref wallet.Ref, limit, offset int) ([]Transaction, error)
	ListHistory(ctx context.Context, ref wallet.Ref, limit, offset int) ([]WalletHistory, error)
}

// Idempotency claims a key once. redis.Client satisfies it.
type Idempotency interface {
	ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Handler struct {
	service ServiceInterface
	idem    Idempotency
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, idem Idempotency, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		idem:    idem,
		logger:  log,
	}
}

// POST /api/v1/wallets/{kind}/{id}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	ref, ok := wallet.RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	if req.IdempotencyKey != "" && h.idem != nil {
		claimed, err := h.idem.ClaimIdempotency(r.Context(), "deposit:"+req.IdempotencyKey, 24*time.Hour)
		if err != nil {
			h.logger.Errorf("Failed to check idempotency: %v", err)
			h.respondError(w, http.StatusServiceUnavailable, "idempotency check unavailable")
			return
		}
		if !claimed {
			h.respondError(w, http.StatusConflict, "duplicate request: idempotency key already used")
			return
		}
	}

	userID, _ := middleware.GetUserIDFromContext(r.Context())
	t, err := h.service.Deposit(r.Context(), ref, &req, userID)
	if err != nil {
		h.logger.Errorf("Deposit failed: %v", err)
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, TransactionResponse{Transaction: t})
}

// GET /api/v1/wallets/{kind}/{id}/transactions?limit=20&offset=0
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ref, ok := wallet.RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}
	limit, offset := pagination(r)

	txns, err := h.service.ListTransactions(r.Context(), ref, limit, offset)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, TransactionsResponse{Transactions: txns, Total: len(txns)})
}

// GET /api/v1/wallets/{kind}/{id}/history?limit=20&offset=0
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := wallet.RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}
	limit, offset := pagination(r)

	history, err := h.service.ListHistory(r.Context(), ref, limit, offset)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, HistoryResponse{History: history, Total: len(history)})
}

// GET /api/v1/wallets/{kind}/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ref, ok := wallet.RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	result, err := h.service.Reconcile(r.Context(), ref)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, TransactionResponse{Transaction: t})
}

// POST /api/v1/transactions/{id}/reverse
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	userID, _ := middleware.GetUserIDFromContext(r.Context())
	rev, err := h.service.Reverse(r.Context(), r.PathValue("id"), req.Reason, userID)
	if err != nil {
		h.logger.Errorf("Reverse failed: %v", err)
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, TransactionResponse{Transaction: rev})
}

func pagination(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := wallet.StatusFor(err)
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotReversible), errors.Is(err, ErrBalanceMismatch):
		status = http.StatusConflict
	}
	h.respondError(w, status, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

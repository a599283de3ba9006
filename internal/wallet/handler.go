package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// ServiceInterface is what the handler needs from the wallet store.
type ServiceInterface interface {
	CreateWallet(ctx context.Context, req *CreateWalletRequest) (*Wallet, error)
	GetWallet(ctx context.Context, ref Ref) (*Wallet, error)
	GetBalance(ctx context.Context, ref Ref) (*BalanceResponse, error)
	ListWalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error)
	UpdateStatus(ctx context.Context, ref Ref, req *UpdateStatusRequest) (*Wallet, error)
	DeleteWallet(ctx context.Context, ref Ref) error
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

// RefFromRequest reads the {kind}/{id} path values.
func RefFromRequest(r *http.Request) (Ref, bool) {
	ref := Ref{Kind: Kind(r.PathValue("kind")), ID: r.PathValue("id")}
	if !ref.Kind.Valid() || ref.ID == "" {
		return Ref{}, false
	}
	return ref, true
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wallet, err := h.service.CreateWallet(r.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to create wallet: %v", err)
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, WalletResponse{Wallet: wallet})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ref, ok := RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), ref)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, WalletResponse{Wallet: wallet})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ref, ok := RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), ref)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, balance)
}

func (h *Handler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.service.ListWalletsByOwner(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.logger.Errorf("Failed to list wallets: %v", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, WalletsResponse{Wallets: wallets, Total: len(wallets)})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ref, ok := RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wallet, err := h.service.UpdateStatus(r.Context(), ref, &req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, WalletResponse{Wallet: wallet})
}

func (h *Handler) DeleteWallet(w http.ResponseWriter, r *http.Request) {
	ref, ok := RefFromRequest(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid wallet reference")
		return
	}

	if err := h.service.DeleteWallet(r.Context(), ref); err != nil {
		h.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps wallet store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWalletExists):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrWalletInactive):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	h.respondError(w, StatusFor(err), err.Error())
}

// Helper methods
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

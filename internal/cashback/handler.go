package cashback

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

type ServiceInterface interface {
	CreateGroup(ctx context.Context, req *CreateGroupRequest) (*Group, error)
	SetProfileAmount(ctx context.Context, pa *ProfileAmount) error
	SetUserCashback(ctx context.Context, uc *UserCashback) error
	SetSubAgentCashback(ctx context.Context, sc *SubAgentCashback) error
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.service.CreateGroup(r.Context(), &req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, g)
}

func (h *Handler) SetGroupAmount(w http.ResponseWriter, r *http.Request) {
	var pa ProfileAmount
	if err := json.NewDecoder(r.Body).Decode(&pa); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pa.GroupID = r.PathValue("id")

	if err := h.service.SetProfileAmount(r.Context(), &pa); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, pa)
}

func (h *Handler) SetUserCashback(w http.ResponseWriter, r *http.Request) {
	var uc UserCashback
	if err := json.NewDecoder(r.Body).Decode(&uc); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetUserCashback(r.Context(), &uc); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, uc)
}

// SetSubAgentCashback records the caller as supervisor unless the body
// names one.
func (h *Handler) SetSubAgentCashback(w http.ResponseWriter, r *http.Request) {
	var sc SubAgentCashback
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sc.SupervisorID == "" {
		sc.SupervisorID, _ = middleware.GetUserIDFromContext(r.Context())
	}

	if err := h.service.SetSubAgentCashback(r.Context(), &sc); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, sc)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

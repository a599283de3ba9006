package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type ServiceInterface interface {
	Start(ctx context.Context) (*Progress, error)
	Get(ctx context.Context, id string) (*Progress, error)
	Latest(ctx context.Context) (*Progress, error)
	Cancel(ctx context.Context, id string) (*Progress, error)
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// POST /api/v1/sync
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Start(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to start sync: %v", err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusAccepted, ProgressResponse{Progress: p})
}

// GET /api/v1/sync/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	get := h.service.Get
	if id == "latest" {
		get = func(ctx context.Context, _ string) (*Progress, error) { return h.service.Latest(ctx) }
	}
	p, err := get(r.Context(), id)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, ProgressResponse{Progress: p})
}

// POST /api/v1/sync/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, ProgressResponse{Progress: p})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

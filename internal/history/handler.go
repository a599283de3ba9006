package history

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type ServiceInterface interface {
	ListByActivation(ctx context.Context, activationID string) ([]Entry, error)
	ListBySubscriber(ctx context.Context, subscriberID string, limit, offset int) ([]Entry, error)
	Summary(ctx context.Context, from, to time.Time) (*SummaryResponse, error)
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// GET /api/v1/activations/{id}/history
func (h *Handler) ListByActivation(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListByActivation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Errorf("Failed to list activation history: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list activation history")
		return
	}
	h.respondJSON(w, http.StatusOK, EntriesResponse{History: entries, Total: len(entries)})
}

// GET /api/v1/subscribers/{id}/activation-history
func (h *Handler) ListBySubscriber(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := h.service.ListBySubscriber(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to list subscriber history: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list activation history")
		return
	}
	h.respondJSON(w, http.StatusOK, EntriesResponse{History: entries, Total: len(entries)})
}

// GET /api/v1/activation-history/summary?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
// Both dates are inclusive.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start_date")
	endStr := r.URL.Query().Get("end_date")
	if startStr == "" || endStr == "" {
		h.respondError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "start_date must be in YYYY-MM-DD format")
		return
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "end_date must be in YYYY-MM-DD format")
		return
	}
	if end.Before(start) {
		h.respondError(w, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}

	summary, err := h.service.Summary(r.Context(), start, end.AddDate(0, 0, 1))
	if err != nil {
		h.logger.Errorf("Failed to summarize activations: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to summarize activations")
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

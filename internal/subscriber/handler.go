package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type ServiceInterface interface {
	GetSubscriber(ctx context.Context, id string) (*Subscriber, error)
	AssignSubscriber(ctx context.Context, id string, req *AssignRequest) error
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetSubscriber(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, SubscriberResponse{Subscriber: s})
}

// Assign sets the local billing profile and cashback group of a subscriber.
// A field left out of the body is unchanged; an empty string clears it.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := h.service.AssignSubscriber(r.Context(), id, &req); err != nil {
		h.logger.Errorf("Failed to assign subscriber %s: %v", id, err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	s, err := h.service.GetSubscriber(r.Context(), id)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, SubscriberResponse{Subscriber: s})
}

func statusFor(err error) int {
	if errors.Is(err, ErrSubscriberNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type ServiceInterface interface {
	SaveProfile(ctx context.Context, req *SaveProfileRequest) (*Profile, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	DeleteProfile(ctx context.Context, id string) error
}

type Handler struct {
	service ServiceInterface
	logger  *logger.Logger
}

func NewHandler(service ServiceInterface, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// POST /api/v1/billing-profiles and PUT /api/v1/billing-profiles/{id}
func (h *Handler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req SaveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		req.ID = id
		status = http.StatusOK
	}

	profile, err := h.service.SaveProfile(r.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to save billing profile: %v", err)
		h.respondError(w, StatusFor(err), err.Error())
		return
	}

	h.respondJSON(w, status, ProfileResponse{Profile: profile})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, StatusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, ProfileResponse{Profile: profile})
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListProfiles(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to list billing profiles: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list billing profiles")
		return
	}

	h.respondJSON(w, http.StatusOK, ProfilesResponse{Profiles: profiles, Total: len(profiles)})
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProfile(r.Context(), r.PathValue("id")); err != nil {
		h.respondError(w, StatusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps billing errors: configuration problems are 422.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProfileReferenced):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidDistribution), errors.Is(err, ErrProfileInactive):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}

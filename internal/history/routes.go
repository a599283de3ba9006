package history

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("GET /api/v1/activations/{id}/history", protected(http.HandlerFunc(h.ListByActivation)))
	mux.Handle("GET /api/v1/subscribers/{id}/activation-history", protected(http.HandlerFunc(h.ListBySubscriber)))
	mux.Handle("GET /api/v1/activation-history/summary", protected(http.HandlerFunc(h.Summary)))
}

func (h *Handler) RegisterInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/internal/activation-history/summary", h.Summary)
}

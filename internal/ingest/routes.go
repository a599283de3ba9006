package ingest

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/sync", protected(http.HandlerFunc(h.Start)))
	mux.Handle("GET /api/v1/sync/{id}", protected(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/v1/sync/{id}/cancel", protected(http.HandlerFunc(h.Cancel)))
}

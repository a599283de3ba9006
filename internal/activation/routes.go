package activation

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/activations", protected(http.HandlerFunc(h.Activate)))
	mux.Handle("GET /api/v1/activations/{id}", protected(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/v1/activations/{id}/cancel", protected(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /api/v1/activations/{id}/rollback", protected(http.HandlerFunc(h.Rollback)))
	mux.Handle("POST /api/v1/activations/{id}/reverse", protected(http.HandlerFunc(h.Reverse)))
}

// RegisterInternalRoutes - mTLS only
func (h *Handler) RegisterInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/internal/activations/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/internal/activations/{id}/outcome", h.ReplayOutcome)
}

package billing

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/billing-profiles", protected(http.HandlerFunc(h.SaveProfile)))
	mux.Handle("GET /api/v1/billing-profiles", protected(http.HandlerFunc(h.ListProfiles)))
	mux.Handle("GET /api/v1/billing-profiles/{id}", protected(http.HandlerFunc(h.GetProfile)))
	mux.Handle("PUT /api/v1/billing-profiles/{id}", protected(http.HandlerFunc(h.SaveProfile)))
	mux.Handle("DELETE /api/v1/billing-profiles/{id}", protected(http.HandlerFunc(h.DeleteProfile)))
}

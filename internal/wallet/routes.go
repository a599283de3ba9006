package wallet

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

// RegisterRoutes - PUBLIC API (JWT)
func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/wallets", protected(http.HandlerFunc(h.CreateWallet)))
	mux.Handle("GET /api/v1/wallets/{kind}/{id}", protected(http.HandlerFunc(h.GetWallet)))
	mux.Handle("GET /api/v1/wallets/{kind}/{id}/balance", protected(http.HandlerFunc(h.GetBalance)))
	mux.Handle("PUT /api/v1/wallets/{kind}/{id}/status", protected(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("DELETE /api/v1/wallets/{kind}/{id}", protected(http.HandlerFunc(h.DeleteWallet)))
	mux.Handle("GET /api/v1/owners/{owner}/wallets", protected(http.HandlerFunc(h.ListByOwner)))
}

// RegisterInternalRoutes - INTERNAL API (mTLS only, no JWT)
func (h *Handler) RegisterInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/internal/wallets/{kind}/{id}", h.GetWallet)
	mux.HandleFunc("GET /api/v1/internal/wallets/{kind}/{id}/balance", h.GetBalance)
}

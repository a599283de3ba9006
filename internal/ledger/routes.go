package ledger

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/wallets/{kind}/{id}/deposit", protected(http.HandlerFunc(h.Deposit)))
	mux.Handle("GET /api/v1/wallets/{kind}/{id}/transactions", protected(http.HandlerFunc(h.ListTransactions)))
	mux.Handle("GET /api/v1/wallets/{kind}/{id}/history", protected(http.HandlerFunc(h.ListHistory)))
	mux.Handle("GET /api/v1/wallets/{kind}/{id}/reconcile", protected(http.HandlerFunc(h.Reconcile)))
	mux.Handle("GET /api/v1/transactions/{id}", protected(http.HandlerFunc(h.GetTransaction)))
	mux.Handle("POST /api/v1/transactions/{id}/reverse", protected(http.HandlerFunc(h.Reverse)))
}

// RegisterInternalRoutes - mTLS only
func (h *Handler) RegisterInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/internal/wallets/{kind}/{id}/reconcile", h.Reconcile)
	mux.HandleFunc("GET /api/v1/internal/transactions/{id}", h.GetTransaction)
}

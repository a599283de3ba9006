package cashback

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("POST /api/v1/cashback/groups", protected(http.HandlerFunc(h.CreateGroup)))
	mux.Handle("PUT /api/v1/cashback/groups/{id}/amounts", protected(http.HandlerFunc(h.SetGroupAmount)))
	mux.Handle("PUT /api/v1/cashback/users", protected(http.HandlerFunc(h.SetUserCashback)))
	mux.Handle("PUT /api/v1/cashback/sub-agents", protected(http.HandlerFunc(h.SetSubAgentCashback)))
}

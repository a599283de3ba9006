package subscriber

import (
	"net/http"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux, jwtSecret string) {
	protected := middleware.JWTAuth(jwtSecret)

	mux.Handle("GET /api/v1/subscribers/{id}", protected(http.HandlerFunc(h.GetSubscriber)))
	mux.Handle("PUT /api/v1/subscribers/{id}/assignment", protected(http.HandlerFunc(h.Assign)))
}

package readapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the read routes whose backing store exists on handler.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if handler.sagas != nil {
		r.Get("/orders/{correlationID}", handler.GetOrderStatus)
	}
	if handler.items != nil {
		r.Get("/catalog/available", handler.ListAvailable)
		r.Get("/catalog/browse", handler.Browse)
	}
	return r
}

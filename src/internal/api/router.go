package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates the HTTP router with all API endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(Logger)
	r.Use(PrivateSubnetOnly)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/check", h.CheckDomain)
		r.Get("/health", h.CheckHealth)
	})

	registerPprof(r)

	return r
}

package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/jwtauth"
)

func (h *Handler) SetRoutes(r chi.Router) {
	// everything under /api goes to the backend, authenticated when possible
	r.Handle("/api", h.proxy)
	r.Handle("/api/*", h.proxy)

	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Get("/health", h.HealthHandler)

		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(h.sessions.Verifier())
			r.Use(jwtauth.Authenticator)

			r.With(middleware.Timeout(60*time.Second)).Post("/cards/upload", h.UploadHandler)
			r.Get("/ws", h.HandleWebSocket)
		})
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-session/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessMiddleware)
	r.Use(s.limitBodyMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))
			r.Get("/session", s.handleGetSession)
			r.Get("/ws", s.handleWebSocket)
			if s.audit != nil {
				r.Get("/audit", s.handleListAudit)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeControl))
			r.Post("/session/publish", s.handlePublish)
			r.Post("/session/subscriptions", s.handleSubscribe)
			r.Delete("/session/subscriptions", s.handleUnsubscribe)
		})
	})

	return r
}

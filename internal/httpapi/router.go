package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Routes builds the HTTP router for the gateway: discovery and health
// endpoints are reachable without a token; everything else passes through
// authGate, which folds bearer validation, failed-auth lockout, and
// per-tenant rate limiting into a single pass. Adapted from the teacher's
// Routes method, replacing its WorkOS tenant-header/session/epoch chain with
// authGate and re-targeting the route table at SCIM resources.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "If-Match", "X-Request-Id", "X-Correlation-ID"},
		ExposedHeaders:   []string{"ETag", "Location", "X-Request-Id", "X-Correlation-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.AuditMiddleware)
	r.Use(s.authGate)

	r.Get("/health", s.HealthHandler)

	r.Route("/scim/v2", func(r chi.Router) {
		r.Get("/ServiceProviderConfig", s.ServiceProviderConfigHandler)
		r.Get("/Schemas", s.SchemasHandler)
		r.Get("/ResourceTypes", s.ResourceTypesHandler)

		r.Route("/Users", func(r chi.Router) {
			r.Post("/", s.CreateUser)
			r.Get("/", s.ListUsers)
			r.Get("/{id}", s.GetUser)
			r.Put("/{id}", s.ReplaceUser)
			r.Patch("/{id}", s.PatchUser)
			r.Delete("/{id}", s.DeleteUser)
		})

		r.Route("/Groups", func(r chi.Router) {
			r.Post("/", s.CreateGroup)
			r.Get("/", s.ListGroups)
			r.Get("/{id}", s.GetGroup)
			r.Put("/{id}", s.ReplaceGroup)
			r.Patch("/{id}", s.PatchGroup)
			r.Delete("/{id}", s.DeleteGroup)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/drift", func(r chi.Router) {
			r.Get("/", s.ListDrift)
			r.Get("/{driftId}", s.GetDrift)
			r.Post("/{driftId}/reconcile", s.ReconcileDriftHandler)
		})
		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.ListConflicts)
			r.Get("/{conflictId}", s.GetConflict)
			r.Post("/{conflictId}/resolve", s.ResolveConflictHandler)
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

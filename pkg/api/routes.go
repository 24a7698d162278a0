package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Read endpoints.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Public,
				))
			}

			r.Get("/scenarios", s.handleListScenarios)
			r.Get("/scenarios/{id}", s.handleGetScenario)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/runs/{id}/steps", s.handleListRunSteps)

			r.Get("/healing", s.handleListHealingRecords)
			r.Get("/healing/stats", s.handleHealingStats)

			// Artifact serving (local filesystem or S3 presigned URLs).
			r.Get("/artifacts/*", s.handleArtifactRequest)
			r.Head("/artifacts/*", s.handleArtifactRequest)
		})

		// The event stream is exempt from rate limiting: one long-lived
		// request per viewer.
		r.Get("/runs/{id}/events", s.handleRunEvents)

		// Write endpoints.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Write,
				))
			}

			r.Post("/scenarios", s.handleCreateScenario)

			r.Post("/runs", s.handleStartRun)
			r.Post("/runs/{id}/cancel", s.handleCancelRun)

			r.Post("/healing/{id}/approve", s.handleApproveHealing)
			r.Post("/healing/{id}/reject", s.handleRejectHealing)
			r.Post("/healing/{id}/propagate", s.handlePropagateHealing)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}

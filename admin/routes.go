package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes under /admin
func RegisterRoutes(r chi.Router, handlers *AdminHandlers, secret string) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Get("/status", handlers.handleStatus)
		r.Post("/sync", handlers.handleSync)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", handlers.handleListDocuments)
			r.Get("/*", handlers.handleGetDocument)
		})
	})

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/*")
}

// NewRouter builds the admin HTTP surface: the admin API, profiling
// endpoints, and metrics when metricsHandler is set. All of it sits behind
// the admin secret. Paths are routed as sent; document ids rely on that
// since they may contain "//".
func NewRouter(handlers *AdminHandlers, secret string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Mount("/debug", middleware.Profiler())

		if metricsHandler != nil {
			r.Handle("/metrics", metricsHandler)
			log.Info().Msg("Metrics endpoint enabled at /metrics")
		}
	})

	RegisterRoutes(r, handlers, secret)
	return r
}

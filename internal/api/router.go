package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, s.accessLog, s.recoverPanics, middleware.RequestSize(maxRequestBodySize))
	if origins := s.cfg.CORS.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         s.cfg.CORS.MaxAge,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, CodeInvalidRequest, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, CodeInvalidRequest, r.Method+" not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Get("/power", s.handleGetPower)
		r.Put("/power", s.handleSetPower)
	})

	if s.metricsCfg.Enabled && s.metricsHandler != nil {
		r.Method(http.MethodGet, orDefault(s.metricsCfg.Path, "/metrics"), s.metricsHandler)
	}
	r.Method(http.MethodGet, orDefault(s.wsCfg.Path, "/ws"), s.hub)

	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leafsii/cachekit/pkg/kv"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Timeout(requestTimeout))
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/strings/{key}", h.GetString)
		r.Put("/strings/{key}", h.PutString)

		r.Get("/hashes/{key}", h.GetHash)
		r.Put("/hashes/{key}", h.PutHash)

		r.Get("/lists/{key}", h.GetList)
		r.Put("/lists/{key}", h.PutList)

		r.Get("/sets/{key}", h.GetSet)
		r.Put("/sets/{key}", h.PutSet)

		r.Get("/zsets/{key}", h.GetSortedSet)
		r.Put("/zsets/{key}", h.PutSortedSet)

		r.Post("/batch", h.Batch)

		// Key enumeration only when the backend can scan
		if _, ok := h.store.(kv.Scanner); ok {
			r.Get("/keys", h.ListKeys)
		}
		r.Head("/keys/{key}", h.HeadKey)
		r.Delete("/keys/{key}", h.DeleteKey)
	})

	return r
}

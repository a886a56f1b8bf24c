// Package api wires the HTTP status surface.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pitwall-labs/danksky/internal/api/handler"
	mw "github.com/pitwall-labs/danksky/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(statusHandler *handler.StatusHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", statusHandler.Live)
	r.Get("/ready", statusHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", statusHandler.Stats)
		r.Get("/history", statusHandler.History)
		r.Post("/sync", statusHandler.Sync)
	})

	return r
}

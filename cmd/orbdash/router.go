package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apiMiddleware "github.com/phrazzld/orbdash/internal/api/middleware"
)

// setupRouter creates the diagnostics router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", app.handler.GetStats)
		r.Get("/widgets", app.handler.ListWidgets)
		r.Post("/widgets/{name}/refresh", app.handler.RefreshWidget)
		r.Get("/events", app.handler.ListEvents)
	})

	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}

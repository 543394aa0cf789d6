package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.app.ExportHandler.HealthHandler)
		r.Get("/version", s.app.ExportHandler.VersionHandler)
		r.Get("/jobs", s.app.ExportHandler.ListHandler)

		r.Route("/export", func(r chi.Router) {
			r.Post("/", s.app.ExportHandler.CreateHandler)

			r.Route("/{jobId}", func(r chi.Router) {
				r.Get("/status", s.app.ExportHandler.StatusHandler)
				r.Post("/stop", s.app.ExportHandler.StopHandler)
				r.Get("/download", s.app.ExportHandler.DownloadHandler)
				r.Get("/stream", s.app.StreamHandler.HandleStream)
				r.Get("/ws", s.app.WSHandler.HandleWebSocket)
			})
		})
	})

	return r
}

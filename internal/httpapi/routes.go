package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes(metrics http.Handler) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/database", func(api chi.Router) {
		api.Use(s.requireOwner)

		api.Post("/test-connection", s.handleTestConnection)
		api.Post("/connect", s.handleConnect)
		api.Get("/connections", s.handleListConnections)
		api.Delete("/connections", s.handleDisconnectMine)
		if s.datasets != nil {
			api.Get("/datasets", s.handleDatasets)
		}

		api.Route("/connections/{key}", func(c chi.Router) {
			c.Use(s.ownKey)
			c.Get("/status", s.handleStatus)
			c.Get("/schema", s.handleSchema)
			c.Post("/query", s.handleQuery)
			c.Post("/preview", s.handlePreview)
			c.Delete("/", s.handleDisconnect)
		})
	})

	if s.cfg.AdminToken != "" {
		r.Route("/api/admin", func(admin chi.Router) {
			admin.Use(s.adminAuth)
			admin.Get("/stats", s.handleStats)
			admin.Post("/cleanup", s.handleCleanup)
			admin.Delete("/owners/{owner}/connections", s.handleDisconnectOwner)
		})
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]any{
		"status":      "ok",
		"connections": s.mgr.Stats().ActiveConnections,
	})
}

package roadsync

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xtymac/eventflow-sub004/internal/middleware"
)

// SetupRoutes mounts the package-level syncer built by Init.
func SetupRoutes(adminTokenHash string) http.Handler {
	return NewRouter(Service, adminTokenHash)
}

// NewRouter exposes s over HTTP. Mutating routes require the admin token.
func NewRouter(s *Syncer, adminTokenHash string) http.Handler {
	r := chi.NewRouter()
	h := &handlers{syncer: s}

	r.Get("/runs", h.listRuns)
	r.Get("/runs/{id}", h.getRun)
	r.Get("/status", h.status)
	r.Get("/regions/{name}/stale", h.stale)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminTokenMiddleware(adminTokenHash))
		r.Post("/runs/bbox", h.startBbox)
		r.Post("/runs/region", h.startRegion)
		r.Delete("/runs/{id}", h.cancelRun)
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/munin/internal/docservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents CRUD.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/*", h.GetDocument)
	r.Put("/documents/*", h.UpdateDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// Version history and restore.
	r.Get("/history/*", h.History)
	r.Post("/restore/*", h.RestoreVersion)

	// Transclusion rendering.
	r.Get("/render/*", h.Render)

	// Link graph.
	r.Get("/links/*", h.Links)
	r.Get("/validate", h.Validate)
	r.Get("/graph", h.Graph)

	// Search.
	r.Get("/search", h.Search)

	// Rollback sets.
	r.Post("/rollbacks", h.CaptureRollback)
	r.Get("/rollbacks", h.ListRollbacks)
	r.Post("/rollbacks/{id}/restore", h.RestoreRollback)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

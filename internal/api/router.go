package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ellingard/chartd/internal/syncservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *syncservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Users.
	r.Post("/users/{id}", h.InitializeUser)
	r.Get("/users/{id}/status", h.Status)
	r.Get("/users/{id}/content", h.Content)
	r.Get("/users/{id}/runs", h.RecentRuns)
	r.Put("/users/{id}/role", h.ChangeRole)

	// Sync triggers.
	r.Post("/sync", h.TriggerSyncAll)
	r.Post("/users/{id}/sync", h.TriggerSync)

	// Roles defined by the active policy table.
	r.Get("/roles", h.Roles)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

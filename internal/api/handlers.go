package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ellingard/chartd/internal/apperr"
	"github.com/ellingard/chartd/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// InitializeUser handles POST /api/users/{id}.
//
//	@Summary		Register a user under a role and run their first sync
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"User id"
//	@Param			body	body		InitializeUserRequest	true	"Role to register under"
//	@Success		201		{object}	StatusDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id} [post]
func (h *Handler) InitializeUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")

	var req InitializeUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Role == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("role is required"))
		return
	}

	detail, err := h.svc.InitializeUser(r.Context(), id, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrUnknownRole):
			writeJSON(w, http.StatusBadRequest, errorBody("unknown role"))
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("user already exists"))
		default:
			slog.Error("initialize user failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// Status handles GET /api/users/{id}/status.
//
//	@Summary		Get a user's sync status
//	@Tags			users
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	StatusDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id}/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("status failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Content handles GET /api/users/{id}/content.
//
//	@Summary		Get a user's organized view, grouped by song
//	@Tags			users
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	ContentResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id}/content [get]
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	songs, err := h.svc.Content(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("content failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{Songs: songs})
}

// RecentRuns handles GET /api/users/{id}/runs.
//
//	@Summary		List a user's most recent sync runs
//	@Tags			users
//	@Produce		json
//	@Param			id		path		string	true	"User id"
//	@Param			limit	query		int		false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id}/runs [get]
func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	runs, err := h.svc.RecentRuns(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("runs failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// ChangeRole handles PUT /api/users/{id}/role.
//
//	@Summary		Switch a user's role and reorganize their folder tree
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"User id"
//	@Param			body	body		ChangeRoleRequest	true	"New role"
//	@Success		200		{object}	RunSummary
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id}/role [put]
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := chi.URLParam(r, "id")

	var req ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Role == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("role is required"))
		return
	}

	run, err := h.svc.ChangeRole(r.Context(), id, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrUnknownRole):
			writeJSON(w, http.StatusBadRequest, errorBody("unknown role"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("change role failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TriggerSyncAll handles POST /api/sync.
//
//	@Summary		Run a full reconciliation pass over every user
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) TriggerSyncAll(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.TriggerSyncAll(r.Context())
	if err != nil {
		slog.Error("full sync failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// TriggerSync handles POST /api/users/{id}/sync.
//
//	@Summary		Reconcile one user on demand
//	@Tags			sync
//	@Produce		json
//	@Param			id	path		string	true	"User id"
//	@Success		200	{object}	RunSummary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users/{id}/sync [post]
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.TriggerSync(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("sync failed", slog.String("user", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Roles handles GET /api/roles.
//
//	@Summary		List roles defined by the active policy table
//	@Tags			roles
//	@Produce		json
//	@Success		200	{object}	RolesResponse
//	@Security		BearerAuth
//	@Router			/roles [get]
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	roles := h.svc.Roles(r.Context())
	sort.Strings(roles)
	writeJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

package api

import (
	"github.com/ellingard/chartd/internal/state"
	"github.com/ellingard/chartd/internal/syncservice"
)

// InitializeUserRequest is the request body for registering a user.
type InitializeUserRequest struct {
	Role string `json:"role" example:"trumpet" validate:"required"`
}

// ChangeRoleRequest is the request body for switching a user's role.
type ChangeRoleRequest struct {
	Role string `json:"role" example:"alto_sax" validate:"required"`
}

// StatusDetail is the sync status response type (aliased from the domain layer).
type StatusDetail = syncservice.StatusDetail

// RunSummary is a completed run (aliased from the domain layer).
type RunSummary = syncservice.RunSummary

// RunListResponse wraps a list of completed runs.
type RunListResponse struct {
	Runs []RunSummary `json:"runs" validate:"required"`
}

// ContentResponse wraps a user's organized content view.
type ContentResponse struct {
	Songs []state.SongContent `json:"songs" validate:"required"`
}

// RolesResponse lists the roles defined by the active policy table.
type RolesResponse struct {
	Roles []string `json:"roles" validate:"required"`
}

// Package syncservice coordinates the state store and the synchronizer
// for the API and MCP surfaces.
package syncservice

import (
	"context"
	"time"

	"github.com/ellingard/chartd/internal/apperr"
	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/state"
	"github.com/ellingard/chartd/internal/syncer"
)

// StatusDetail is the sync status of one user.
type StatusDetail struct {
	UserID     string     `json:"user_id"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	ErrorCount int        `json:"error_count"`
}

// RunSummary is a completed run in API shape.
type RunSummary struct {
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Created    int       `json:"created"`
	Removed    int       `json:"removed"`
	Errors     []string  `json:"errors"`
}

// Service coordinates persistence and reconciliation.
type Service struct {
	db       state.Store
	sync     *syncer.Synchronizer
	policies *policy.Provider
}

// NewService creates a new sync service.
func NewService(db state.Store, sync *syncer.Synchronizer, policies *policy.Provider) *Service {
	return &Service{db: db, sync: sync, policies: policies}
}

// InitializeUser registers a user under a role and performs their
// first reconciliation synchronously.
func (s *Service) InitializeUser(ctx context.Context, userID, role string) (*StatusDetail, error) {
	if !s.policies.HasRole(role) {
		return nil, apperr.ErrUnknownRole
	}
	if err := s.db.CreateUser(userID, role); err != nil {
		return nil, err
	}
	if _, err := s.sync.SyncUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.Status(ctx, userID)
}

// Status reports a user's sync state, last successful run time, and
// consecutive failure count.
func (s *Service) Status(_ context.Context, userID string) (*StatusDetail, error) {
	u, err := s.db.GetUser(userID)
	if err != nil {
		return nil, err
	}
	d := &StatusDetail{
		UserID:     u.ID,
		Role:       u.Role,
		Status:     string(u.Status),
		ErrorCount: u.Failures,
	}
	if !u.LastSyncAt.IsZero() {
		at := u.LastSyncAt
		d.LastSyncAt = &at
	}
	return d, nil
}

// TriggerSyncAll runs a full reconciliation pass over every user.
func (s *Service) TriggerSyncAll(ctx context.Context) ([]RunSummary, error) {
	runs, err := s.sync.RunFullSync(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(runs), nil
}

// TriggerSync reconciles a single user on demand.
func (s *Service) TriggerSync(ctx context.Context, userID string) (*RunSummary, error) {
	run, err := s.sync.SyncUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := toSummary(run)
	return &sum, nil
}

// ChangeRole persists the new role and reorganizes the user's folder
// tree under it in one targeted run.
func (s *Service) ChangeRole(ctx context.Context, userID, newRole string) (*RunSummary, error) {
	if !s.policies.HasRole(newRole) {
		return nil, apperr.ErrUnknownRole
	}
	if err := s.db.UpdateUserRole(userID, newRole); err != nil {
		return nil, err
	}
	run, err := s.sync.OnRoleChange(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum := toSummary(run)
	return &sum, nil
}

// Content returns the user's organized view: song titles mapped to the
// file links beneath them.
func (s *Service) Content(_ context.Context, userID string) ([]state.SongContent, error) {
	if _, err := s.db.GetUser(userID); err != nil {
		return nil, err
	}
	songs, err := s.db.Content(userID)
	if err != nil {
		return nil, err
	}
	if songs == nil {
		songs = []state.SongContent{}
	}
	return songs, nil
}

// RecentRuns returns a user's newest completed runs.
func (s *Service) RecentRuns(_ context.Context, userID string, limit int) ([]RunSummary, error) {
	if _, err := s.db.GetUser(userID); err != nil {
		return nil, err
	}
	runs, err := s.db.RecentRuns(userID, limit)
	if err != nil {
		return nil, err
	}
	return summarize(runs), nil
}

// Roles returns the roles currently defined by the policy table.
func (s *Service) Roles(_ context.Context) []string {
	return s.policies.Roles()
}

func toSummary(r state.SyncRun) RunSummary {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return RunSummary{
		Kind:       r.Kind,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Created:    r.Created,
		Removed:    r.Removed,
		Errors:     errs,
	}
}

func summarize(runs []state.SyncRun) []RunSummary {
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = toSummary(r)
	}
	return out
}

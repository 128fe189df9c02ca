// Package syncer orchestrates reconciliation runs across users: full
// passes over the source collection, incremental passes driven by
// change notifications, and targeted passes after a role change.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ellingard/chartd/internal/organize"
	"github.com/ellingard/chartd/internal/parser"
	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/remote"
	"github.com/ellingard/chartd/internal/state"
)

// Events receives sync lifecycle notifications. The SSE broker
// satisfies it; a nil Events is a no-op.
type Events interface {
	PublishSyncStarted(userID string)
	PublishSyncCompleted(userID string, created, removed, errs int)
	PublishSyncDegraded(userID string)
}

// Config tunes the synchronizer. Zero values fall back to defaults.
type Config struct {
	Workers          int           // concurrent per-user reconciliations
	RunTimeout       time.Duration // per-user run deadline
	FailureThreshold int           // consecutive failures before degraded
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	return c
}

// Synchronizer coordinates full, incremental, and role-change runs.
// Users reconcile in parallel under a bounded worker pool; runs for
// the same user are serialized by a per-user lock.
type Synchronizer struct {
	db       state.Store
	store    remote.Store
	policies *policy.Provider
	org      *organize.Organizer
	events   Events
	logger   *slog.Logger
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db state.Store, store remote.Store, policies *policy.Provider, org *organize.Organizer, events Events, logger *slog.Logger, cfg Config) *Synchronizer {
	return &Synchronizer{
		db:       db,
		store:    store,
		policies: policies,
		org:      org,
		events:   events,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Synchronizer) userLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// refreshListing pulls the current source collection, parses every
// name, and replaces the persisted snapshot. Files missing from the
// listing are flagged deleted, which the per-user diff turns into
// link removals.
func (s *Synchronizer) refreshListing(ctx context.Context) ([]state.SourceFile, error) {
	objs, err := s.store.ListSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: list source: %w", err)
	}

	files := make([]state.SourceFile, 0, len(objs))
	for _, o := range objs {
		res := parser.Parse(o.Name)
		if res.Category == parser.CategoryUnclassified {
			s.logger.Debug("syncer: unclassified source file", slog.String("name", o.Name))
		}
		files = append(files, state.NewSourceFile(o.Key, o.Name, o.ETag, o.Size, o.ModifiedAt, res))
	}

	if err := s.db.ReplaceSourceListing(files); err != nil {
		return nil, fmt.Errorf("syncer: persist listing: %w", err)
	}
	return files, nil
}

// accessibleFor filters the snapshot down to what the role may see.
func (s *Synchronizer) accessibleFor(role string, files []state.SourceFile) []state.SourceFile {
	var out []state.SourceFile
	for _, f := range files {
		if f.Deleted {
			continue
		}
		if s.policies.Accessible(role, f.ParseResult()) {
			out = append(out, f)
		}
	}
	return out
}

// RunFullSync enumerates the source collection once and reconciles
// every user against it. Per-user failures never abort other users.
func (s *Synchronizer) RunFullSync(ctx context.Context) ([]state.SyncRun, error) {
	files, err := s.refreshListing(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("syncer: list users: %w", err)
	}
	return s.runUsers(ctx, users, files, state.RunFull), nil
}

// RunIncrementalSync reconciles only the users affected by the given
// changed source keys: anyone currently linked to one of them, plus
// anyone for whom a changed file is accessible now.
func (s *Synchronizer) RunIncrementalSync(ctx context.Context, changedKeys []string) ([]state.SyncRun, error) {
	if len(changedKeys) == 0 {
		return nil, nil
	}

	files, err := s.refreshListing(ctx)
	if err != nil {
		return nil, err
	}

	affected := make(map[string]struct{})
	linked, err := s.db.UsersLinkedTo(changedKeys)
	if err != nil {
		return nil, fmt.Errorf("syncer: resolve linked users: %w", err)
	}
	for _, id := range linked {
		affected[id] = struct{}{}
	}

	changed := make(map[string]struct{}, len(changedKeys))
	for _, k := range changedKeys {
		changed[k] = struct{}{}
	}
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("syncer: list users: %w", err)
	}
	for _, u := range users {
		if _, ok := affected[u.ID]; ok {
			continue
		}
		for _, f := range s.accessibleFor(u.Role, files) {
			if _, ok := changed[f.Key]; ok {
				affected[u.ID] = struct{}{}
				break
			}
		}
	}

	var targets []state.UserFolder
	for _, u := range users {
		if _, ok := affected[u.ID]; ok {
			targets = append(targets, u)
		}
	}
	return s.runUsers(ctx, targets, files, state.RunIncremental), nil
}

// OnRoleChange reconciles a single user from scratch under their
// current role. The caller is expected to have persisted the new role
// already; the accessible set is derived fully, not diffed against the
// previous role.
func (s *Synchronizer) OnRoleChange(ctx context.Context, userID string) (state.SyncRun, error) {
	u, err := s.db.GetUser(userID)
	if err != nil {
		return state.SyncRun{}, fmt.Errorf("syncer: load user %s: %w", userID, err)
	}
	files, err := s.refreshListing(ctx)
	if err != nil {
		return state.SyncRun{}, err
	}
	return s.syncUser(ctx, *u, files, state.RunRoleChange), nil
}

// SyncUser runs one full reconciliation for a single user.
func (s *Synchronizer) SyncUser(ctx context.Context, userID string) (state.SyncRun, error) {
	u, err := s.db.GetUser(userID)
	if err != nil {
		return state.SyncRun{}, fmt.Errorf("syncer: load user %s: %w", userID, err)
	}
	files, err := s.refreshListing(ctx)
	if err != nil {
		return state.SyncRun{}, err
	}
	return s.syncUser(ctx, *u, files, state.RunFull), nil
}

func (s *Synchronizer) runUsers(ctx context.Context, users []state.UserFolder, files []state.SourceFile, kind string) []state.SyncRun {
	runs := make([]state.SyncRun, 0, len(users))
	var runsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, u := range users {
		u := u
		g.Go(func() error {
			run := s.syncUser(gctx, u, files, kind)
			runsMu.Lock()
			runs = append(runs, run)
			runsMu.Unlock()
			return nil // per-user failures never abort the group
		})
	}
	_ = g.Wait()
	return runs
}

// syncUser performs one reconciliation run for one user: status
// transition, organizer pass under a deadline, run logging, failure
// escalation, and lifecycle events.
func (s *Synchronizer) syncUser(ctx context.Context, u state.UserFolder, files []state.SourceFile, kind string) state.SyncRun {
	lock := s.userLock(u.ID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now().UTC()
	run := state.SyncRun{UserID: u.ID, Kind: kind, StartedAt: started}

	working := state.StatusSyncing
	switch {
	case u.Status == state.StatusUninitialized:
		working = state.StatusInitializing
	case kind == state.RunRoleChange:
		working = state.StatusReorganizing
	}
	if err := s.db.SetUserStatus(u.ID, working); err != nil {
		s.logger.Error("syncer: status update failed",
			slog.String("user", u.ID), slog.String("error", err.Error()))
	}

	runID, err := s.db.BeginRun(u.ID, kind, started)
	if err != nil {
		s.logger.Error("syncer: begin run failed",
			slog.String("user", u.ID), slog.String("error", err.Error()))
	}
	if s.events != nil {
		s.events.PublishSyncStarted(u.ID)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	accessible := s.accessibleFor(u.Role, files)
	res, rerr := s.org.Reconcile(runCtx, u.ID, accessible)
	if rerr != nil {
		res.Errors = append(res.Errors, rerr.Error())
	}

	run.FinishedAt = time.Now().UTC()
	run.Created = res.Created
	run.Removed = res.Removed
	run.Errored = len(res.Errors)
	run.Errors = res.Errors

	if runID != 0 {
		if err := s.db.FinishRun(runID, run.FinishedAt, run.Created, run.Removed, run.Errors); err != nil {
			s.logger.Error("syncer: finish run failed",
				slog.String("user", u.ID), slog.String("error", err.Error()))
		}
	}

	s.settle(u.ID, run)
	return run
}

// settle records success or failure for the run and moves the user to
// the resulting steady state. Degraded is entered after the configured
// number of consecutive failures and left again by any clean run.
func (s *Synchronizer) settle(userID string, run state.SyncRun) {
	if run.Errored == 0 {
		if err := s.db.MarkSyncSuccess(userID, run.FinishedAt); err != nil {
			s.logger.Error("syncer: mark success failed",
				slog.String("user", userID), slog.String("error", err.Error()))
		}
		if err := s.db.SetUserStatus(userID, state.StatusSynced); err != nil {
			s.logger.Error("syncer: status update failed",
				slog.String("user", userID), slog.String("error", err.Error()))
		}
		if s.events != nil {
			s.events.PublishSyncCompleted(userID, run.Created, run.Removed, 0)
		}
		s.logger.Info("syncer: run completed",
			slog.String("user", userID), slog.String("kind", run.Kind),
			slog.Int("created", run.Created), slog.Int("removed", run.Removed))
		return
	}

	failures, err := s.db.MarkSyncFailure(userID)
	if err != nil {
		s.logger.Error("syncer: mark failure failed",
			slog.String("user", userID), slog.String("error", err.Error()))
	}

	status := state.StatusSynced
	if failures >= s.cfg.FailureThreshold {
		status = state.StatusDegraded
	}
	if err := s.db.SetUserStatus(userID, status); err != nil {
		s.logger.Error("syncer: status update failed",
			slog.String("user", userID), slog.String("error", err.Error()))
	}

	if s.events != nil {
		s.events.PublishSyncCompleted(userID, run.Created, run.Removed, run.Errored)
		if status == state.StatusDegraded {
			s.events.PublishSyncDegraded(userID)
		}
	}
	s.logger.Warn("syncer: run finished with errors",
		slog.String("user", userID), slog.String("kind", run.Kind),
		slog.Int("errors", run.Errored), slog.Int("consecutive_failures", failures))
}

// RunPeriodic triggers a full sync every interval until the context is
// cancelled. It is the drift safety net behind incremental runs.
func (s *Synchronizer) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunFullSync(ctx); err != nil {
				s.logger.Error("syncer: periodic full sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Listen consumes change notifications and coalesces bursts: keys
// arriving within the debounce window collapse into one incremental
// pass. Returns when the context ends or the channel closes.
func (s *Synchronizer) Listen(ctx context.Context, events <-chan remote.ChangeEvent, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		pending = make(map[string]struct{})
	)

	flush := func() {
		keys := make([]string, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
		}
		pending = make(map[string]struct{})
		timerCh = nil

		if _, err := s.RunIncrementalSync(ctx, keys); err != nil {
			s.logger.Error("syncer: incremental sync failed", slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			pending[ev.Key] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			flush()
		}
	}
}

// Package organize computes and applies the folder/link delta between a
// user's desired view and what the state store says exists remotely.
package organize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/remote"
	"github.com/ellingard/chartd/internal/state"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Created int
	Removed int
	Errors  []string
}

// persistAttempts bounds retries of the state-persistence step after a
// successful remote mutation. Remote and recorded state must never be
// left silently diverged, so persistence failures are retried before
// they are surfaced in the run's error list.
const persistAttempts = 3

// Organizer applies per-user reconciliation against the remote store
// and the state store. It holds no per-user state itself; the
// synchronizer serializes runs per user.
type Organizer struct {
	store      remote.Store
	db         state.Store
	userPrefix string // parent folder of all user roots, e.g. "users"
	logger     *slog.Logger
}

// New creates an Organizer.
func New(store remote.Store, db state.Store, userPrefix string, logger *slog.Logger) *Organizer {
	return &Organizer{
		store:      store,
		db:         db,
		userPrefix: strings.Trim(userPrefix, "/"),
		logger:     logger,
	}
}

// desiredLink is one entry of the computed desired state.
type desiredLink struct {
	songKey  string
	folderID string
}

// Reconcile brings the user's remote view in line with the accessible
// file set. Per-item failures are collected into the result and never
// abort the rest of the pass; the returned error is reserved for
// failures that prevent the pass from running at all.
func (o *Organizer) Reconcile(ctx context.Context, userID string, accessible []state.SourceFile) (Result, error) {
	var res Result

	u, err := o.db.GetUser(userID)
	if err != nil {
		return res, fmt.Errorf("organize: load user %s: %w", userID, err)
	}

	rootID, err := o.ensureRoot(ctx, u)
	if err != nil {
		return res, err
	}

	folders, err := o.ensureSongFolders(ctx, userID, rootID, accessible, &res)
	if err != nil {
		return res, err
	}

	desired := make(map[string]desiredLink, len(accessible))
	for _, f := range accessible {
		key := policy.GroupingKey(f.ParseResult())
		folderID, ok := folders[key]
		if !ok {
			continue // folder creation failed; already in res.Errors
		}
		desired[f.Key] = desiredLink{songKey: key, folderID: folderID}
	}

	current, err := o.db.Links(userID)
	if err != nil {
		return res, fmt.Errorf("organize: load links %s: %w", userID, err)
	}
	currentByFile := make(map[string]state.LinkRecord, len(current))
	for _, rec := range current {
		currentByFile[rec.FileKey] = rec
	}

	// A link whose song grouping changed (source rename) is recreated in
	// the right folder: removal plus addition.
	var toRemove []state.LinkRecord
	additions := make(map[string][]string) // folderID -> target keys
	addMeta := make(map[string]desiredLink)

	for fileKey, want := range desired {
		have, ok := currentByFile[fileKey]
		if ok && have.SongKey == want.songKey {
			continue
		}
		if ok {
			toRemove = append(toRemove, have)
		}
		additions[want.folderID] = append(additions[want.folderID], fileKey)
		addMeta[fileKey] = want
	}
	for fileKey, have := range currentByFile {
		if _, ok := desired[fileKey]; !ok {
			toRemove = append(toRemove, have)
		}
	}

	// Removals run first. A regrouped file appears in both lists under
	// the same file key, and the removal's record delete must not land
	// on the row the addition just rewrote.
	o.applyRemovals(ctx, userID, toRemove, &res)
	o.applyAdditions(ctx, userID, additions, addMeta, &res)

	return res, nil
}

// ensureRoot creates the user's remote root folder once and persists
// its id; later passes reuse the stored id. When the root id is first
// recorded, any pre-existing remote content is adopted into the state
// store so a rebuilt database converges instead of duplicating links.
func (o *Organizer) ensureRoot(ctx context.Context, u *state.UserFolder) (string, error) {
	if u.RootID != "" {
		return u.RootID, nil
	}

	rootID, err := o.store.CreateFolder(ctx, o.userPrefix, u.ID)
	if err != nil {
		return "", fmt.Errorf("organize: create root for %s: %w", u.ID, err)
	}
	if err := o.persist("root id", func() error {
		return o.db.SetRootID(u.ID, rootID)
	}); err != nil {
		return "", err
	}

	o.adoptExisting(ctx, u.ID, rootID)
	return rootID, nil
}

// adoptExisting walks the remote root and records any folders and links
// already present. Best effort: listing failures are logged and the
// regular diff corrects whatever was missed.
func (o *Organizer) adoptExisting(ctx context.Context, userID, rootID string) {
	for token := ""; ; {
		page, err := o.store.ListChildren(ctx, rootID, token)
		if err != nil {
			o.logger.Warn("organize: adopt listing failed",
				slog.String("user", userID), slog.String("error", err.Error()))
			return
		}
		for _, child := range page.Children {
			if !child.IsFolder {
				continue
			}
			songKey := normalizeTitle(child.Name)
			if err := o.db.PutSongFolder(userID, songKey, child.ID); err != nil {
				o.logger.Warn("organize: adopt folder failed",
					slog.String("user", userID), slog.String("error", err.Error()))
				continue
			}
			o.adoptLinks(ctx, userID, songKey, child.ID)
		}
		if page.NextToken == "" {
			return
		}
		token = page.NextToken
	}
}

func (o *Organizer) adoptLinks(ctx context.Context, userID, songKey, folderID string) {
	for token := ""; ; {
		page, err := o.store.ListChildren(ctx, folderID, token)
		if err != nil {
			o.logger.Warn("organize: adopt link listing failed",
				slog.String("user", userID), slog.String("error", err.Error()))
			return
		}
		for _, child := range page.Children {
			if child.IsFolder || child.Target == "" {
				continue
			}
			err := o.db.PutLink(state.LinkRecord{
				UserID: userID, FileKey: child.Target, SongKey: songKey, LinkID: child.ID,
			})
			if err != nil {
				o.logger.Warn("organize: adopt link failed",
					slog.String("user", userID), slog.String("error", err.Error()))
			}
		}
		if page.NextToken == "" {
			return
		}
		token = page.NextToken
	}
}

// ensureSongFolders lazily creates one folder per song group and
// returns grouping key → folder id. A failed folder creation lands in
// the error list and its files are skipped this pass.
func (o *Organizer) ensureSongFolders(ctx context.Context, userID, rootID string, accessible []state.SourceFile, res *Result) (map[string]string, error) {
	folders, err := o.db.SongFolders(userID)
	if err != nil {
		return nil, fmt.Errorf("organize: load song folders %s: %w", userID, err)
	}

	for _, f := range accessible {
		key := policy.GroupingKey(f.ParseResult())
		if key == "" {
			continue
		}
		if _, ok := folders[key]; ok {
			continue
		}
		folderID, err := o.store.CreateFolder(ctx, rootID, strings.TrimSpace(f.SongTitle))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("create folder %q: %v", f.SongTitle, err))
			continue
		}
		if err := o.persist("song folder", func() error {
			return o.db.PutSongFolder(userID, key, folderID)
		}); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		folders[key] = folderID
	}
	return folders, nil
}

// applyAdditions creates missing links per song folder in batches and
// persists each record only after the remote call succeeded.
func (o *Organizer) applyAdditions(ctx context.Context, userID string, additions map[string][]string, meta map[string]desiredLink, res *Result) {
	for folderID, targets := range additions {
		for _, br := range o.store.BatchCreateLinks(ctx, folderID, targets) {
			switch {
			case br.Err == nil:
				rec := state.LinkRecord{
					UserID:  userID,
					FileKey: br.TargetKey,
					SongKey: meta[br.TargetKey].songKey,
					LinkID:  br.LinkID,
				}
				if err := o.persist("link record", func() error {
					return o.db.PutLink(rec)
				}); err != nil {
					res.Errors = append(res.Errors, err.Error())
					continue
				}
				res.Created++

			case errors.Is(br.Err, remote.ErrTargetVanished):
				// The source file disappeared mid-run. That is a
				// deletion, not a failure; drop any stale record.
				o.logger.Info("organize: target vanished during run",
					slog.String("user", userID), slog.String("file", br.TargetKey))
				if err := o.db.DeleteLink(userID, br.TargetKey); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("drop vanished %s: %v", br.TargetKey, err))
				}

			default:
				res.Errors = append(res.Errors, fmt.Sprintf("create link %s: %v", br.TargetKey, br.Err))
			}
		}
	}
}

// applyRemovals deletes links no longer desired. A permanent not-found
// from the store means the link is already gone; the record is dropped.
func (o *Organizer) applyRemovals(ctx context.Context, userID string, toRemove []state.LinkRecord, res *Result) {
	for _, rec := range toRemove {
		if err := o.store.DeleteLink(ctx, rec.LinkID); err != nil && !remote.IsPermanent(err) {
			res.Errors = append(res.Errors, fmt.Sprintf("delete link %s: %v", rec.LinkID, err))
			continue
		}
		if err := o.persist("link removal", func() error {
			return o.db.DeleteLink(userID, rec.FileKey)
		}); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Removed++
	}
}

// persist retries a state-store write a few times before giving up.
func (o *Organizer) persist(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("persist %s: %w", op, err)
}

// normalizeTitle folds a folder name the same way grouping keys are
// derived from parsed titles.
func normalizeTitle(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

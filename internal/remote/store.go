// Package remote wraps all operations against the shared object store:
// source-collection listing, per-user folder and link maintenance, and
// change notifications. Every call passes through the shared rate
// limiter, and transient failures are retried with backoff before they
// surface to callers.
package remote

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path"
	"strings"
	"time"
)

// SourceObject is one file in the shared source collection.
type SourceObject struct {
	Key        string // full object key, used as the file identifier
	Name       string // base file name, input to the metadata parser
	ETag       string
	Size       int64
	ModifiedAt time.Time
}

// Child is one entry inside a user folder.
type Child struct {
	ID       string // object key
	Name     string
	IsFolder bool
	Target   string // source key a link points at; empty for folders
}

// Page is one page of a folder listing.
type Page struct {
	Children  []Child
	NextToken string // empty when this is the last page
}

// BatchResult reports the outcome of one item in a batch link creation.
type BatchResult struct {
	TargetKey string
	LinkID    string
	Err       error
}

// Store is the remote object-store surface the organizer and
// synchronizer depend on. Implementations must be safe for concurrent
// use.
type Store interface {
	// ListSource enumerates the shared source collection.
	ListSource(ctx context.Context) ([]SourceObject, error)
	// ListChildren returns one page of a folder's entries. Pass the
	// previous page's NextToken to continue; empty token starts over.
	ListChildren(ctx context.Context, folderID, pageToken string) (Page, error)
	// CreateFolder ensures a folder exists under parentID and returns
	// its id. Creating an existing folder is not an error.
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	// CreateLink creates a link object under parentID pointing at the
	// source object targetKey and returns the link id. Returns an error
	// wrapping ErrTargetVanished when the target no longer exists.
	CreateLink(ctx context.Context, parentID, targetKey string) (string, error)
	// BatchCreateLinks creates links for all targetKeys, chunked to the
	// store's per-request ceiling. One result per input; individual
	// failures do not abort the rest of the batch.
	BatchCreateLinks(ctx context.Context, parentID string, targetKeys []string) []BatchResult
	// StatLink reports whether the link object exists.
	StatLink(ctx context.Context, linkID string) (bool, error)
	// DeleteLink removes a link object. Deleting an absent link is not
	// an error.
	DeleteLink(ctx context.Context, linkID string) error
}

// LinkName derives the object name for a link to targetKey. The
// source file's base name is kept for readability; a short hash of the
// full key is folded in before the extension so files sharing a base
// name under different source subpaths map to distinct link objects.
// Link ids must be a pure function of (parent, target key), otherwise
// repeated reconciliation would not be idempotent.
func LinkName(targetKey string) string {
	h := fnv.New32a()
	h.Write([]byte(targetKey))
	base := path.Base(targetKey)
	ext := path.Ext(base)
	return fmt.Sprintf("%s.%08x%s", strings.TrimSuffix(base, ext), h.Sum32(), ext)
}

// ErrTargetVanished marks a link creation whose source object
// disappeared mid-run. Callers treat it as a deletion, not a failure.
var ErrTargetVanished = errors.New("remote: target vanished")

// PermanentError wraps a remote failure that retrying cannot fix
// (permission denied, not found). It is recorded per item and the run
// continues.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("remote: permanent (%s): %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent remote failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

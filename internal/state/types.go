package state

import (
	"time"

	"github.com/ellingard/chartd/internal/parser"
)

// Status is the per-user sync lifecycle state.
type Status string

// User sync statuses.
const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusSyncing       Status = "syncing"
	StatusReorganizing  Status = "reorganizing"
	StatusSynced        Status = "synced"
	StatusDegraded      Status = "degraded"
)

// UserFolder is one member's folder record: role, remote root folder,
// and sync bookkeeping.
type UserFolder struct {
	ID         string
	Role       string
	RootID     string
	Status     Status
	LastSyncAt time.Time // zero when never synced
	Failures   int       // consecutive failed runs
}

// SourceFile is a snapshot row of one file in the shared source
// collection, with its parsed metadata denormalized for policy lookups.
type SourceFile struct {
	Key        string
	Name       string
	SongTitle  string
	KeyToken   string
	Category   string
	Subtype    string
	Confidence string
	ETag       string
	Size       int64
	ModifiedAt time.Time
	Deleted    bool
}

// ParseResult reconstructs the parser output from the stored columns.
func (f SourceFile) ParseResult() parser.Result {
	return parser.Result{
		SongTitle:  f.SongTitle,
		KeyToken:   f.KeyToken,
		Category:   parser.Category(f.Category),
		Subtype:    parser.Subtype(f.Subtype),
		Confidence: parser.Confidence(f.Confidence),
	}
}

// NewSourceFile builds a snapshot row from a listing entry and its
// parse result.
func NewSourceFile(key, name, etag string, size int64, modifiedAt time.Time, res parser.Result) SourceFile {
	return SourceFile{
		Key:        key,
		Name:       name,
		SongTitle:  res.SongTitle,
		KeyToken:   res.KeyToken,
		Category:   string(res.Category),
		Subtype:    string(res.Subtype),
		Confidence: string(res.Confidence),
		ETag:       etag,
		Size:       size,
		ModifiedAt: modifiedAt,
	}
}

// LinkRecord maps one (user, source file) pair to its remote link.
type LinkRecord struct {
	UserID  string
	FileKey string
	SongKey string
	LinkID  string
}

// SyncRun is one append-only run log entry.
type SyncRun struct {
	ID         int64
	UserID     string
	Kind       string // "full", "incremental", or "role-change"
	StartedAt  time.Time
	FinishedAt time.Time
	Created    int
	Removed    int
	Errored    int
	Errors     []string
}

// Run trigger kinds.
const (
	RunFull        = "full"
	RunIncremental = "incremental"
	RunRoleChange  = "role-change"
)

// FileRef is a lightweight reference to an organized file, grouped
// under its song in content listings.
type FileRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category"`
	LinkID   string `json:"link_id"`
}

// SongContent is the organized view of one song folder.
type SongContent struct {
	Song  string    `json:"song"`
	Files []FileRef `json:"files"`
}

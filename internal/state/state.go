package state

import "time"

// Store defines the persistence surface for sync state. Consumers
// depend on this interface rather than the concrete *DB type to
// facilitate testing with mocks.
type Store interface {
	CreateUser(id, role string) error
	GetUser(id string) (*UserFolder, error)
	ListUsers() ([]UserFolder, error)
	UpdateUserRole(id, role string) error
	SetUserStatus(id string, status Status) error
	SetRootID(id, rootID string) error
	MarkSyncSuccess(id string, at time.Time) error
	MarkSyncFailure(id string) (int, error)

	ReplaceSourceListing(files []SourceFile) error
	ListSourceFiles(includeDeleted bool) ([]SourceFile, error)
	GetSourceFile(key string) (*SourceFile, error)

	SongFolders(userID string) (map[string]string, error)
	PutSongFolder(userID, songKey, folderID string) error

	Links(userID string) ([]LinkRecord, error)
	PutLink(r LinkRecord) error
	DeleteLink(userID, fileKey string) error
	UsersLinkedTo(fileKeys []string) ([]string, error)
	Content(userID string) ([]SongContent, error)

	BeginRun(userID, kind string, at time.Time) (int64, error)
	FinishRun(id int64, at time.Time, created, removed int, errs []string) error
	RecentRuns(userID string, limit int) ([]SyncRun, error)

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

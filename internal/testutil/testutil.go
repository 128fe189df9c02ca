// Package testutil provides shared test helpers: a temporary state
// database and an in-memory fake of the remote store.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ellingard/chartd/internal/parser"
	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/remote"
	"github.com/ellingard/chartd/internal/state"
)

// TestDB creates a temporary SQLite state database that is
// automatically cleaned up.
func TestDB(t *testing.T) *state.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "chartd-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := state.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SourceObject builds a listing entry whose key is "source/<name>".
func SourceObject(name string) remote.SourceObject {
	return SourceObjectAt("source/" + name)
}

// SourceObjectAt builds a listing entry at the given full key. Source
// listings are recursive, so keys in nested subpaths are valid input.
func SourceObjectAt(key string) remote.SourceObject {
	return remote.SourceObject{
		Key:        key,
		Name:       path.Base(key),
		ETag:       "etag-" + key,
		Size:       int64(len(key)),
		ModifiedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// SourceFile builds a parsed state row from a listing entry.
func SourceFile(name string) state.SourceFile {
	return SourceFileAt("source/" + name)
}

// SourceFileAt builds a parsed state row for a file at the given key.
func SourceFileAt(key string) state.SourceFile {
	obj := SourceObjectAt(key)
	return state.NewSourceFile(obj.Key, obj.Name, obj.ETag, obj.Size, obj.ModifiedAt, parser.Parse(obj.Name))
}

// FakeStore is an in-memory remote.Store. All mutations take effect
// immediately; error injection is per target key.
type FakeStore struct {
	mu      sync.Mutex
	source  map[string]remote.SourceObject
	folders map[string]struct{}
	links   map[string]string // link id -> target key

	// FailCreateLink maps a target key to the error CreateLink returns
	// for it. FailDeleteLink does the same for link ids.
	FailCreateLink map[string]error
	FailDeleteLink map[string]error

	CreateLinkCalls int
	DeleteLinkCalls int
	FolderCalls     int
}

// Verify FakeStore satisfies remote.Store at compile time.
var _ remote.Store = (*FakeStore)(nil)

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		source:         make(map[string]remote.SourceObject),
		folders:        make(map[string]struct{}),
		links:          make(map[string]string),
		FailCreateLink: make(map[string]error),
		FailDeleteLink: make(map[string]error),
	}
}

// AddSource puts a file into the fake source collection.
func (f *FakeStore) AddSource(obj remote.SourceObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source[obj.Key] = obj
}

// RemoveSource deletes a file from the fake source collection.
func (f *FakeStore) RemoveSource(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.source, key)
}

// Links returns a copy of link id → target key.
func (f *FakeStore) Links() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.links))
	for k, v := range f.links {
		out[k] = v
	}
	return out
}

// HasFolder reports whether the folder id exists.
func (f *FakeStore) HasFolder(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.folders[id]
	return ok
}

// ListSource implements remote.Store.
func (f *FakeStore) ListSource(context.Context) ([]remote.SourceObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.SourceObject, 0, len(f.source))
	for _, obj := range f.source {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListChildren implements remote.Store. Pagination is not simulated;
// every listing is a single page.
func (f *FakeStore) ListChildren(_ context.Context, folderID, _ string) (remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(folderID, "/") + "/"

	var page remote.Page
	for id := range f.folders {
		if path.Dir(id)+"/" == prefix {
			page.Children = append(page.Children, remote.Child{
				ID: id, Name: path.Base(id), IsFolder: true,
			})
		}
	}
	for id, target := range f.links {
		if path.Dir(id)+"/" == prefix {
			page.Children = append(page.Children, remote.Child{
				ID: id, Name: path.Base(id), Target: target,
			})
		}
	}
	sort.Slice(page.Children, func(i, j int) bool { return page.Children[i].ID < page.Children[j].ID })
	return page, nil
}

// CreateFolder implements remote.Store.
func (f *FakeStore) CreateFolder(_ context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FolderCalls++
	id := strings.Trim(parentID, "/") + "/" + strings.Trim(name, "/")
	f.folders[id] = struct{}{}
	return id, nil
}

// CreateLink implements remote.Store.
func (f *FakeStore) CreateLink(_ context.Context, parentID, targetKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateLinkCalls++
	if err, ok := f.FailCreateLink[targetKey]; ok {
		return "", err
	}
	if _, ok := f.source[targetKey]; !ok {
		return "", fmt.Errorf("%w: %s", remote.ErrTargetVanished, targetKey)
	}
	id := strings.Trim(parentID, "/") + "/" + remote.LinkName(targetKey)
	f.links[id] = targetKey
	return id, nil
}

// BatchCreateLinks implements remote.Store.
func (f *FakeStore) BatchCreateLinks(ctx context.Context, parentID string, targetKeys []string) []remote.BatchResult {
	results := make([]remote.BatchResult, 0, len(targetKeys))
	for _, target := range targetKeys {
		id, err := f.CreateLink(ctx, parentID, target)
		results = append(results, remote.BatchResult{TargetKey: target, LinkID: id, Err: err})
	}
	return results
}

// StatLink implements remote.Store.
func (f *FakeStore) StatLink(_ context.Context, linkID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.links[linkID]
	return ok, nil
}

// DeleteLink implements remote.Store.
func (f *FakeStore) DeleteLink(_ context.Context, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteLinkCalls++
	if err, ok := f.FailDeleteLink[linkID]; ok {
		return err
	}
	delete(f.links, linkID)
	return nil
}

// rolesYAML is the standard role table used across tests: trumpet
// reads Bb charts, alto_sax reads Eb charts, guitar reads chord
// charts, drums read full charts and skip audio.
const rolesYAML = `roles:
  trumpet:
    keys: [Bb]
  alto_sax:
    keys: [Eb]
  guitar:
    subtypes: [chords]
  drums:
    subtypes: [full]
    audio: false
`

// PolicyFile writes the standard role table to a temp file and
// returns its path.
func PolicyFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(p, []byte(rolesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Policies loads a provider backed by the standard role table.
func Policies(t *testing.T) *policy.Provider {
	t.Helper()
	p, err := policy.NewProvider(PolicyFile(t))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

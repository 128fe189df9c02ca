package state

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ellingard/chartd/internal/apperr"
	"github.com/ellingard/chartd/internal/parser"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "chartd-state-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetUser(t *testing.T) {
	db := testDB(t)

	if err := db.CreateUser("alice", "trumpet"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Role != "trumpet" {
		t.Errorf("role = %q", u.Role)
	}
	if u.Status != StatusUninitialized {
		t.Errorf("status = %q, want uninitialized", u.Status)
	}
	if !u.LastSyncAt.IsZero() {
		t.Errorf("new user should have zero last sync time")
	}

	if err := db.CreateUser("alice", "guitar"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate create = %v, want ErrAlreadyExists", err)
	}
	if _, err := db.GetUser("nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing user = %v, want ErrNotFound", err)
	}
}

func TestUserLifecycleUpdates(t *testing.T) {
	db := testDB(t)
	if err := db.CreateUser("alice", "trumpet"); err != nil {
		t.Fatal(err)
	}

	if err := db.SetUserStatus("alice", StatusSyncing); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}
	if err := db.SetRootID("alice", "users/alice"); err != nil {
		t.Fatalf("SetRootID: %v", err)
	}
	if err := db.UpdateUserRole("alice", "alto_sax"); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}

	for i := 0; i < 3; i++ {
		n, err := db.MarkSyncFailure("alice")
		if err != nil {
			t.Fatalf("MarkSyncFailure: %v", err)
		}
		if n != i+1 {
			t.Errorf("failures = %d, want %d", n, i+1)
		}
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := db.MarkSyncSuccess("alice", at); err != nil {
		t.Fatalf("MarkSyncSuccess: %v", err)
	}

	u, err := db.GetUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Failures != 0 {
		t.Errorf("failures = %d, want 0 after success", u.Failures)
	}
	if u.Role != "alto_sax" || u.RootID != "users/alice" || u.Status != StatusSyncing {
		t.Errorf("unexpected user row: %+v", u)
	}
	if u.LastSyncAt.IsZero() {
		t.Error("last sync time not recorded")
	}

	if err := db.SetUserStatus("nobody", StatusSynced); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("update of missing user = %v, want ErrNotFound", err)
	}
}

func sourceFixture(key string) SourceFile {
	name := key[len("source/"):]
	return NewSourceFile(key, name, "etag1", 100, time.Now().UTC(), parser.Parse(name))
}

func TestReplaceSourceListing(t *testing.T) {
	db := testDB(t)

	first := []SourceFile{
		sourceFixture("source/All Of Me - Bb.pdf"),
		sourceFixture("source/All Of Me - Eb.pdf"),
	}
	if err := db.ReplaceSourceListing(first); err != nil {
		t.Fatalf("ReplaceSourceListing: %v", err)
	}

	files, err := db.ListSourceFiles(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("len = %d, want 2", len(files))
	}
	if files[0].SongTitle != "All Of Me" || files[0].KeyToken != "Bb" {
		t.Errorf("parsed columns not persisted: %+v", files[0])
	}
	if got := files[0].ParseResult(); got.Category != parser.CategoryChart {
		t.Errorf("ParseResult round trip: %+v", got)
	}

	// Second listing drops the Eb chart: it must be flagged deleted.
	if err := db.ReplaceSourceListing(first[:1]); err != nil {
		t.Fatal(err)
	}
	files, err = db.ListSourceFiles(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Key != "source/All Of Me - Bb.pdf" {
		t.Fatalf("live files = %+v", files)
	}
	all, err := db.ListSourceFiles(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all files = %d, want 2 (one flagged deleted)", len(all))
	}

	gone, err := db.GetSourceFile("source/All Of Me - Eb.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !gone.Deleted {
		t.Error("dropped file should be flagged deleted")
	}
}

func TestSongFoldersAndLinks(t *testing.T) {
	db := testDB(t)
	if err := db.CreateUser("alice", "trumpet"); err != nil {
		t.Fatal(err)
	}

	if err := db.PutSongFolder("alice", "all of me", "users/alice/all of me"); err != nil {
		t.Fatalf("PutSongFolder: %v", err)
	}
	// Upsert of the same pair keeps a single row.
	if err := db.PutSongFolder("alice", "all of me", "users/alice/all of me"); err != nil {
		t.Fatal(err)
	}
	folders, err := db.SongFolders("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 {
		t.Fatalf("folders = %v, want 1 entry", folders)
	}

	rec := LinkRecord{UserID: "alice", FileKey: "source/All Of Me - Bb.pdf",
		SongKey: "all of me", LinkID: "users/alice/all of me/All Of Me - Bb.pdf"}
	if err := db.PutLink(rec); err != nil {
		t.Fatalf("PutLink: %v", err)
	}
	// Duplicate put lands on the same (user, file) row.
	if err := db.PutLink(rec); err != nil {
		t.Fatal(err)
	}
	links, err := db.Links("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}

	users, err := db.UsersLinkedTo([]string{"source/All Of Me - Bb.pdf", "source/other.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("users linked = %v", users)
	}

	if err := db.DeleteLink("alice", rec.FileKey); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	// Idempotent delete.
	if err := db.DeleteLink("alice", rec.FileKey); err != nil {
		t.Fatal(err)
	}
	links, _ = db.Links("alice")
	if len(links) != 0 {
		t.Errorf("links after delete = %d", len(links))
	}
}

func TestContentGroupsBySong(t *testing.T) {
	db := testDB(t)
	if err := db.CreateUser("alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	files := []SourceFile{
		sourceFixture("source/All Of Me - Bb.pdf"),
		sourceFixture("source/All Of Me - Bb.mp3"),
		sourceFixture("source/Blue Moon - Bb.pdf"),
	}
	if err := db.ReplaceSourceListing(files); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		err := db.PutLink(LinkRecord{UserID: "alice", FileKey: f.Key,
			SongKey: f.SongTitle, LinkID: "users/alice/" + f.Name})
		if err != nil {
			t.Fatal(err)
		}
	}

	content, err := db.Content("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(content) != 2 {
		t.Fatalf("songs = %d, want 2", len(content))
	}
	if content[0].Song != "All Of Me" || len(content[0].Files) != 2 {
		t.Errorf("first group = %+v", content[0])
	}
	if content[1].Song != "Blue Moon" || len(content[1].Files) != 1 {
		t.Errorf("second group = %+v", content[1])
	}
}

func TestRunLog(t *testing.T) {
	db := testDB(t)
	if err := db.CreateUser("alice", "trumpet"); err != nil {
		t.Fatal(err)
	}

	start := time.Now().UTC().Truncate(time.Second)
	id, err := db.BeginRun("alice", RunFull, start)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := db.FinishRun(id, start.Add(time.Second), 3, 1, []string{"one failed"}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	id2, err := db.BeginRun("alice", RunIncremental, start.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(id2, start.Add(3*time.Second), 0, 0, nil); err != nil {
		t.Fatal(err)
	}

	runs, err := db.RecentRuns("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Kind != RunIncremental {
		t.Errorf("newest first: got %q", runs[0].Kind)
	}
	if runs[1].Errored != 1 || len(runs[1].Errors) != 1 {
		t.Errorf("error list not persisted: %+v", runs[1])
	}
}

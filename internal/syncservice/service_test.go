package syncservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ellingard/chartd/internal/apperr"
	"github.com/ellingard/chartd/internal/organize"
	"github.com/ellingard/chartd/internal/state"
	"github.com/ellingard/chartd/internal/syncer"
	"github.com/ellingard/chartd/internal/testutil"
)

func testService(t *testing.T) (*Service, *testutil.FakeStore) {
	t.Helper()
	db := testutil.TestDB(t)
	store := testutil.NewFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policies := testutil.Policies(t)
	org := organize.New(store, db, "users", logger)
	sc := syncer.New(db, store, policies, org, nil, logger, syncer.Config{})
	return NewService(db, sc, policies), store
}

func TestInitializeUser(t *testing.T) {
	svc, store := testService(t)
	store.AddSource(testutil.SourceObject("All Of Me - Bb.pdf"))

	d, err := svc.InitializeUser(context.Background(), "alice", "trumpet")
	if err != nil {
		t.Fatalf("InitializeUser: %v", err)
	}
	if d.Status != string(state.StatusSynced) {
		t.Errorf("status = %q, want synced after initial run", d.Status)
	}
	if d.LastSyncAt == nil {
		t.Error("last sync time not set")
	}

	songs, err := svc.Content(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 1 || songs[0].Song != "all of me" {
		t.Errorf("content = %+v", songs)
	}
}

func TestInitializeUser_UnknownRole(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.InitializeUser(context.Background(), "alice", "theremin")
	if !errors.Is(err, apperr.ErrUnknownRole) {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestInitializeUser_Duplicate(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.InitializeUser(context.Background(), "alice", "trumpet")
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestStatus_UnknownUser(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.Status(context.Background(), "nobody")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestChangeRole(t *testing.T) {
	svc, store := testService(t)
	store.AddSource(testutil.SourceObject("All Of Me - Bb.pdf"))
	store.AddSource(testutil.SourceObject("All Of Me - Eb.pdf"))
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.ChangeRole(context.Background(), "alice", "alto_sax")
	if err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	if sum.Kind != state.RunRoleChange || sum.Created != 1 || sum.Removed != 1 {
		t.Errorf("run = %+v", sum)
	}

	d, err := svc.Status(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if d.Role != "alto_sax" {
		t.Errorf("role = %q", d.Role)
	}
}

func TestChangeRole_UnknownRole(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.ChangeRole(context.Background(), "alice", "kazoo")
	if !errors.Is(err, apperr.ErrUnknownRole) {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestTriggerSyncAll(t *testing.T) {
	svc, store := testService(t)
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	store.AddSource(testutil.SourceObject("Misty - Bb.pdf"))

	sums, err := svc.TriggerSyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].Created != 1 {
		t.Errorf("runs = %+v", sums)
	}
}

func TestContent_EmptyIsNotNil(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	songs, err := svc.Content(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if songs == nil {
		t.Error("content should be an empty slice, not nil")
	}
}

func TestRecentRuns(t *testing.T) {
	svc, _ := testService(t)
	if _, err := svc.InitializeUser(context.Background(), "alice", "trumpet"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.TriggerSync(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	runs, err := svc.RecentRuns(context.Background(), "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

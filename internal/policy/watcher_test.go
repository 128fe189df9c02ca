package policy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ellingard/chartd/internal/parser"
)

func TestWatch_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  trumpet:\n    keys: [Bb]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	reloaded := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	done := make(chan struct{})
	go func() {
		_ = Watch(ctx, p, logger, func() { reloaded <- struct{}{} })
		close(done)
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("roles:\n  trumpet:\n    keys: [Eb]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	res := parser.Parse("All Of Me - Eb.pdf")
	if !p.Accessible("trumpet", res) {
		t.Error("reloaded table should grant Eb to trumpet")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatch_InvalidFileKeepsPreviousTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	if err := os.WriteFile(path, []byte("roles:\n  trumpet:\n    keys: [Bb]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	go func() { _ = Watch(ctx, p, logger, nil) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(":broken {{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	res := parser.Parse("All Of Me - Bb.pdf")
	if !p.Accessible("trumpet", res) {
		t.Error("previous table should remain active after failed reload")
	}
}

package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the write+rename bursts editors produce when
// saving a file into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watch watches the provider's policy file and reloads the role table
// when it changes, until ctx is cancelled. onReload (if non-nil) is
// called after each successful reload so the caller can re-derive
// accessible sets under the new taxonomy.
//
// The parent directory is watched rather than the file itself: most
// editors replace the file via rename, which would drop a file-level
// watch.
func Watch(ctx context.Context, p *Provider, logger *slog.Logger, onReload func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("policy watcher: started", slog.String("path", p.path))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("policy watcher: stopped")
			return nil

		case <-timerCh:
			if err := p.Reload(); err != nil {
				logger.Warn("policy watcher: reload failed, keeping previous table",
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("policy watcher: role table reloaded")
			if onReload != nil {
				onReload()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("policy watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

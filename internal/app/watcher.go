package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch rebuilds the index whenever the source document changes and swaps
// the new pipeline in. Requests in flight finish on the old pipeline. The
// document's directory is watched rather than the file, since editors and
// deploy tools usually replace files by renaming.
//
// Watch returns once the watcher is running; it stops when ctx ends.
func (a *App) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	source, err := filepath.Abs(a.cfg.Document.Path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("resolve document path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(source)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(source), err)
	}

	debounce := a.cfg.Watch.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer watcher.Close()
		a.watchLoop(ctx, watcher, source, debounce)
	}()
	a.logger.Info(ctx, "watching document for changes", "path", source, "debounce", debounce)
	return nil
}

// watchLoop debounces change events and runs each rebuild on its own
// goroutine, so App.Close waits for a rebuild in progress. Events that
// arrive during a rebuild schedule another one.
func (a *App) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, source string, debounce time.Duration) {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != source {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				timer.Reset(debounce)
			}
		case <-timer.C:
			a.rebuildAfterChange(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn(ctx, "document watch error", "error", err)
		}
	}
}

func (a *App) rebuildAfterChange(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := a.Initialize(ctx, false)
	if err != nil {
		a.logger.Warn(ctx, "rebuild after document change failed", "error", err)
		return
	}
	a.logger.Info(ctx, "index refreshed after document change", "mode", result.Mode, "reason", result.Reason)
}

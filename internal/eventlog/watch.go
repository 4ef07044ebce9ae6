package eventlog

import (
	"context"
	"path/filepath"
	"time"

	"cdr.dev/slog/v3"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls fn whenever the log at path is written, created or replaced,
// once writes have been quiet for debounce. The parent directory is watched so
// that atomic replacements and late creation are observed. It returns nil when
// ctx is done and the watcher's error if it cannot be set up.
func Watch(ctx context.Context, path string, debounce time.Duration, logger slog.Logger, fn func(ctx context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			fn(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
			logger.Warn(ctx, "event log watcher error", slog.Error(err))
		}
	}
}

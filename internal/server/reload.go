package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last change before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches a policy file and calls reload after it changes.
// The parent directory is watched so editors that replace the file by rename
// are still seen.
type Reloader struct {
	watcher  *fsnotify.Watcher
	reload   func() error
	file     string
	log      *slog.Logger
	debounce time.Duration
}

// NewReloader creates a file watcher for path.
func NewReloader(path string, reload func() error, log *slog.Logger) (*Reloader, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Reloader{
		watcher:  watcher,
		reload:   reload,
		file:     abs,
		log:      log,
		debounce: DefaultDebounce,
	}, nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.file {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() {
					if err := r.reload(); err != nil {
						r.log.Warn("hot-reload failed", slog.String("error", err.Error()))
					} else {
						r.log.Info("hot-reload: policy reloaded", slog.String("path", r.file))
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

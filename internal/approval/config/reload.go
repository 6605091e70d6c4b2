package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader re-applies a workflow file whenever it changes on disk.
type Reloader struct {
	watcher  *fsnotify.Watcher
	service  *Service
	path     string
	debounce time.Duration
	logger   *slog.Logger
	applied  chan int
}

type ReloaderOption func(*Reloader)

func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		r.debounce = d
	}
}

func WithReloadLogger(logger *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithAppliedNotify receives the workflow count after every successful reload.
func WithAppliedNotify(ch chan int) ReloaderOption {
	return func(r *Reloader) {
		r.applied = ch
	}
}

// NewReloader watches the directory holding path, so editors that replace the
// file atomically (rename over) are still seen.
func NewReloader(service *Service, path string, opts ...ReloaderOption) (*Reloader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workflow file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	r := &Reloader{
		watcher:  watcher,
		service:  service,
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run blocks until ctx is cancelled, reloading after writes settle.
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
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() { r.reload(ctx) })
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WarnContext(ctx, "workflow file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := r.service.ApplyFile(ctx, r.path)
	if err != nil {
		r.service.metrics.IncConfigReload("error")
		r.logger.ErrorContext(ctx, "workflow file reload failed",
			"path", r.path,
			"error", err,
		)
		return
	}
	r.service.metrics.IncConfigReload("ok")
	r.logger.InfoContext(ctx, "workflow file reloaded", "path", r.path, "workflows", n)
	if r.applied != nil {
		select {
		case r.applied <- n:
		default:
		}
	}
}

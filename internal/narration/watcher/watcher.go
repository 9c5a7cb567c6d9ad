// Package watcher starts a run for every script dropped into a directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ScriptHandler processes one script file.
type ScriptHandler func(ctx context.Context, path string) error

// Watcher monitors a directory for new *.json scripts.
// Scripts are handled one at a time since each run replaces the board.
type Watcher struct {
	dir     string
	handler ScriptHandler
	watcher *fsnotify.Watcher
	settle  time.Duration
	log     *slog.Logger
}

// New creates a Watcher on dir.
func New(dir string, handler ScriptHandler, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		handler: handler,
		watcher: fw,
		settle:  500 * time.Millisecond,
		log:     log,
	}, nil
}

// Start blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info("Script watcher started", "dir", w.dir)

	queue := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for path := range queue {
			if err := w.handler(ctx, path); err != nil && ctx.Err() == nil {
				w.log.Error("Failed to process script", "path", path, "error", err)
			}
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Script watcher stopped")
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !isScript(event.Name) {
				w.log.Debug("Ignoring non-script file", "path", event.Name)
				continue
			}

			w.log.Info("New script detected", "path", event.Name)
			// let the writer finish
			select {
			case <-time.After(w.settle):
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case queue <- event.Name:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

// Stop closes the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func isScript(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

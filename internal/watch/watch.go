// Package watch reports batches of changed paths in an op repo as they
// happen on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"op/internal/workspace"
)

const DefaultDebounce = 2 * time.Second

// Handler receives the sorted, root-relative paths changed since the last
// call.
type Handler func(ctx context.Context, paths []string)

type Watcher struct {
	ws       *workspace.Workspace
	watcher  *fsnotify.Watcher
	ignored  workspace.IgnoreSet
	debounce time.Duration
	logger   *zap.Logger

	pending map[string]struct{}
}

// New watches every non-ignored directory of an initialized repo. A
// non-positive debounce uses DefaultDebounce.
func New(ws *workspace.Workspace, debounce time.Duration) (*Watcher, error) {
	ignored, err := ws.Ignored(true)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		ws:       ws,
		watcher:  fw,
		ignored:  ignored,
		debounce: debounce,
		logger:   ws.Logger,
		pending:  make(map[string]struct{}),
	}
	if err := w.addTree(ws.Root, false); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// addTree watches dir and every non-ignored directory below it. When mark
// is set, files found on the way are queued as changed; they may have been
// written before the watch was in place.
func (w *Watcher) addTree(dir string, mark bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if w.isIgnored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("adding directory to watcher: %w", err)
			}
			return nil
		}
		if mark {
			w.mark(path)
		}
		return nil
	})
}

// isIgnored checks path and its ancestors, so files created under an
// ignored directory after the set was built are still excluded.
func (w *Watcher) isIgnored(path string) bool {
	for p := path; ; p = filepath.Dir(p) {
		if w.ignored.Contains(p) {
			return true
		}
		if p == w.ws.Root || filepath.Dir(p) == p {
			return false
		}
	}
}

func (w *Watcher) mark(path string) {
	rel, err := workspace.RelPath(w.ws.Root, path)
	if err != nil {
		return
	}
	w.pending[rel] = struct{}{}
}

func (w *Watcher) flush() []string {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.pending = make(map[string]struct{})
	return paths
}

// handle reports whether the event queued anything.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Name == filepath.Join(w.ws.Root, workspace.IgnoreFile) {
		w.reloadIgnored()
		return false
	}
	if event.Op == fsnotify.Chmod || event.Name == w.ws.Root || w.isIgnored(event.Name) {
		return false
	}

	before := len(w.pending)
	if event.Has(fsnotify.Create) {
		if err := w.addTree(event.Name, true); err != nil {
			w.logger.Debug("watching new path", zap.String("path", event.Name), zap.Error(err))
		}
	}
	w.mark(event.Name)
	return len(w.pending) > before || event.Has(fsnotify.Write)
}

func (w *Watcher) reloadIgnored() {
	ignored, err := w.ws.Ignored(false)
	if err != nil {
		w.logger.Warn("reloading ignore file", zap.Error(err))
		return
	}
	w.ignored = ignored
	w.logger.Debug("reloaded ignore file", zap.Int("ignored", len(ignored)))
}

// Run delivers debounced batches to fn until ctx is done or the underlying
// watcher is closed. fn runs on Run's goroutine; events arriving meanwhile
// are picked up afterwards.
func (w *Watcher) Run(ctx context.Context, fn Handler) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
				fire = timer.C
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			if paths := w.flush(); len(paths) > 0 {
				fn(ctx, paths)
			}
		}
	}
}

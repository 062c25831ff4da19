package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	operrors "op/internal/errors"
	"op/internal/logging"
)

const (
	StateDir   = ".op"
	IgnoreFile = ".opignore"
)

// Workspace is a working directory that may hold an op repo.
type Workspace struct {
	Root   string
	Logger *zap.Logger
}

func New(root string, logger *zap.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, operrors.FromIO("opening workspace", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return &Workspace{Root: abs, Logger: logging.OrNop(logger)}, nil
}

// IgnorePath is the location of the ignore marker.
func (w *Workspace) IgnorePath() string {
	return filepath.Join(w.Root, IgnoreFile)
}

// Initialized reports whether the ignore marker exists.
func (w *Workspace) Initialized() bool {
	_, err := os.Stat(w.IgnorePath())
	return err == nil
}

// StatePath joins elem under the state directory.
func (w *Workspace) StatePath(elem ...string) string {
	return filepath.Join(append([]string{w.Root, StateDir}, elem...)...)
}

// RequireRepo fails with NotARepo unless the ignore marker exists.
func (w *Workspace) RequireRepo() error {
	_, err := os.Stat(w.IgnorePath())
	if errors.Is(err, fs.ErrNotExist) {
		return operrors.NotARepo(w.Root)
	}
	if err != nil {
		return operrors.FromIO("checking ignore file", w.IgnorePath(), err)
	}
	return nil
}

func (w *Workspace) Ignored(required bool) (IgnoreSet, error) {
	return ResolveIgnored(w.Root, required)
}

// Tracked resolves the ignore set and enumerates tracked files under it.
func (w *Workspace) Tracked(required bool) ([]string, IgnoreSet, error) {
	ignored, err := w.Ignored(required)
	if err != nil {
		return nil, nil, err
	}
	files, err := EnumerateTracked(w.Root, ignored)
	if err != nil {
		return nil, nil, err
	}
	w.Logger.Debug("enumerated tracked files",
		zap.String("root", w.Root),
		zap.Int("tracked", len(files)),
		zap.Int("ignored", len(ignored)))
	return files, ignored, nil
}

// Snapshot hashes the current tracked files.
func (w *Workspace) Snapshot() (Snapshot, error) {
	files, _, err := w.Tracked(true)
	if err != nil {
		return nil, err
	}
	return TakeSnapshot(w.Root, files)
}

// EnumerateTracked returns the sorted absolute paths of regular files under
// root that are not in ignored. Symlinks count when they resolve to a regular
// file; dangling links and special files are skipped.
func EnumerateTracked(root string, ignored IgnoreSet) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return operrors.FromIO("walking directory", path, err)
		}
		if path == root {
			return nil
		}
		if ignored.Contains(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch mode := d.Type(); {
		case mode.IsDir():
			return nil
		case mode.IsRegular():
			files = append(files, path)
		case mode&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err == nil && info.Mode().IsRegular() {
				files = append(files, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

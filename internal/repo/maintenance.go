package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"op/internal/archive"
	"op/internal/commit"
	operrors "op/internal/errors"
	"op/internal/workspace"
)

const backupTimeLayout = "2006-01-02_150405"

type BackupFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

func (b BackupFile) HumanSize() string {
	return humanize.Bytes(uint64(b.Size))
}

type Status struct {
	Root    string
	Name    string
	Tracked int
	Backups []BackupFile
	Commits int
	Head    string
}

// GetStatus summarizes an initialized repo.
func GetStatus(ws *workspace.Workspace) (*Status, error) {
	files, _, err := ws.Tracked(true)
	if err != nil {
		return nil, err
	}

	backups, err := listBackups(ws.StatePath())
	if err != nil {
		return nil, err
	}

	store, err := commit.NewStore(ws.StatePath(), ws.Logger)
	if err != nil {
		return nil, err
	}
	commits, err := store.List()
	if err != nil {
		return nil, err
	}
	head, err := store.Head()
	if err != nil {
		return nil, err
	}

	return &Status{
		Root:    ws.Root,
		Name:    filepath.Base(ws.Root),
		Tracked: len(files),
		Backups: backups,
		Commits: len(commits),
		Head:    head,
	}, nil
}

// listBackups returns the zip files directly under dir, newest name first.
func listBackups(dir string) ([]BackupFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, operrors.FromIO("listing backups", dir, err)
	}

	var backups []BackupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupFile{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name > backups[j].Name })
	return backups, nil
}

type ArchiveResult struct {
	Path  string
	Files int
	Size  int64
}

func (r *ArchiveResult) HumanSize() string {
	return humanize.Bytes(uint64(r.Size))
}

// BackupName is "<dir>-<YYYY-MM-DD_HHMMSS>-backup.zip".
func BackupName(root string, now time.Time) string {
	return fmt.Sprintf("%s-%s-backup.zip", filepath.Base(root), now.Format(backupTimeLayout))
}

// Backup zips the tracked files into the state directory.
func Backup(ws *workspace.Workspace, opts archive.Options, now time.Time) (*ArchiveResult, error) {
	if err := ws.RequireRepo(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ws.StatePath(), 0755); err != nil {
		return nil, operrors.FromIO("creating state directory", ws.StatePath(), err)
	}
	return Export(ws, ws.StatePath(BackupName(ws.Root, now)), opts)
}

// Export zips the tracked files to dest. dest itself is never included.
func Export(ws *workspace.Workspace, dest string, opts archive.Options) (*ArchiveResult, error) {
	files, _, err := ws.Tracked(true)
	if err != nil {
		return nil, err
	}

	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving export path: %w", err)
	}
	kept := files[:0]
	for _, f := range files {
		if f != dest {
			kept = append(kept, f)
		}
	}

	if err := archive.CreateFile(dest, ws.Root, kept, opts); err != nil {
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, operrors.FromIO("reading archive", dest, err)
	}

	ws.Logger.Info("archive written",
		zap.String("path", dest),
		zap.Int("files", len(kept)),
		zap.Int64("bytes", info.Size()))
	return &ArchiveResult{Path: dest, Files: len(kept), Size: info.Size()}, nil
}

type RemoveResult struct {
	Removed []string
	Denied  []string
}

// Remove deletes every non-ignored file under the repo, then the empty
// non-ignored directories deepest first, then the state directory if it is
// empty. The ignore file goes too unless it lists itself, so the directory
// stops being a repo. Permission failures are collected instead of aborting.
func Remove(ws *workspace.Workspace) (*RemoveResult, error) {
	ignored, err := ws.Ignored(true)
	if err != nil {
		return nil, err
	}
	lines, err := workspace.ReadIgnoreFile(ws.Root)
	if err != nil {
		return nil, operrors.FromIO("reading ignore file", ws.IgnorePath(), err)
	}
	keepMarker := listsPath(ws.Root, lines, ws.IgnorePath())

	var paths []string
	err = filepath.WalkDir(ws.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}
		if path == ws.Root {
			return nil
		}
		if ignored.Contains(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, operrors.FromIO("walking repo", ws.Root, err)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return depth(paths[i]) > depth(paths[j])
	})

	result := &RemoveResult{}
	for _, path := range paths {
		removeOne(result, path)
	}

	if !keepMarker {
		removeOne(result, ws.IgnorePath())
	}

	stateDir := ws.StatePath()
	if entries, err := os.ReadDir(stateDir); err == nil && len(entries) == 0 {
		removeOne(result, stateDir)
	}

	ws.Logger.Info("removed repo contents",
		zap.String("root", ws.Root),
		zap.Int("removed", len(result.Removed)),
		zap.Int("denied", len(result.Denied)))
	return result, nil
}

// listsPath reports whether one of the ignore lines names target.
func listsPath(root string, lines []string, target string) bool {
	for _, line := range lines {
		path := line
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if filepath.Clean(path) == target {
			return true
		}
	}
	return false
}

func depth(path string) int {
	return strings.Count(path, string(filepath.Separator))
}

func removeOne(r *RemoveResult, path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			if errors.Is(err, fs.ErrPermission) {
				r.Denied = append(r.Denied, path)
			}
			return
		}
	}
	switch err := os.Remove(path); {
	case err == nil:
		r.Removed = append(r.Removed, path)
	case errors.Is(err, fs.ErrPermission):
		r.Denied = append(r.Denied, path)
	}
}

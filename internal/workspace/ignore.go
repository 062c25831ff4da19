package workspace

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	operrors "op/internal/errors"
)

// IgnoreSet holds absolute paths excluded from tracking. Listed directories
// are expanded to every descendant when the set is built.
type IgnoreSet map[string]struct{}

func (s IgnoreSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

func (s IgnoreSet) add(path string) {
	s[path] = struct{}{}
}

// ReadIgnoreFile returns the trimmed, non-blank lines of root's ignore file.
func ReadIgnoreFile(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// ResolveIgnored computes the ignore set for root. When required is true a
// missing ignore file means root is not an op repo; otherwise it yields a set
// holding only the repo's own bookkeeping paths.
func ResolveIgnored(root string, required bool) (IgnoreSet, error) {
	set := make(IgnoreSet)

	lines, err := ReadIgnoreFile(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if required {
			return nil, operrors.NotARepo(root)
		}
	case err != nil:
		return nil, operrors.FromIO("reading ignore file", filepath.Join(root, IgnoreFile), err)
	}

	// The state directory and the marker itself are never tracked.
	lines = append(lines, StateDir, IgnoreFile)

	for _, line := range lines {
		path := line
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		path = filepath.Clean(path)
		set.add(path)

		// Stat follows a listed symlink so a linked directory is expanded.
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		expandDir(set, path)
	}

	return set, nil
}

// expandDir adds every descendant of dir under dir's own name. When dir is
// a symlink the walk runs over its target. Unreadable subtrees are skipped;
// the enumerator never descends into them either.
func expandDir(set IgnoreSet, dir string) {
	walkRoot := dir
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		walkRoot = real
	}
	filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return nil
		}
		set.add(filepath.Join(dir, rel))
		return nil
	})
}

package workspace

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"

	operrors "op/internal/errors"
)

// Snapshot maps a repo-relative, slash-separated path to its content digest.
type Snapshot map[string]string

// Digest returns the 128-bit xxh3 digest of data as 32 hex characters.
func Digest(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}

// DigestFile streams path through xxh3-128.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// RelPath converts an absolute path under root into a snapshot key.
func RelPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// TakeSnapshot hashes every file. Any unreadable file aborts the whole
// snapshot.
func TakeSnapshot(root string, files []string) (Snapshot, error) {
	snap := make(Snapshot, len(files))
	for _, path := range files {
		rel, err := RelPath(root, path)
		if err != nil {
			return nil, operrors.FromIO("computing relative path", path, err)
		}
		digest, err := DigestFile(path)
		if err != nil {
			return nil, operrors.FromIO("hashing file", path, err)
		}
		snap[rel] = digest
	}
	return snap, nil
}

// Paths returns the snapshot's keys sorted.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Changes partitions the paths of two snapshots. The lists are disjoint and
// sorted.
type Changes struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

func (c Changes) Count() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Compare reports how current differs from base.
func Compare(base, current Snapshot) Changes {
	changes := Changes{
		Added:    []string{},
		Modified: []string{},
		Deleted:  []string{},
	}
	for path, digest := range current {
		old, ok := base[path]
		switch {
		case !ok:
			changes.Added = append(changes.Added, path)
		case old != digest:
			changes.Modified = append(changes.Modified, path)
		}
	}
	for path := range base {
		if _, ok := current[path]; !ok {
			changes.Deleted = append(changes.Deleted, path)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return changes
}

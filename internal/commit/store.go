package commit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"op/internal/archive"
	operrors "op/internal/errors"
	"op/internal/logging"
	"op/internal/workspace"
	"op/shared/utils"
)

const (
	commitsDir = "commits"
	headFile   = "HEAD"
	cacheSize  = 256
)

// Commit is the immutable metadata record stored beside each archive.
type Commit struct {
	ID        string             `json:"id"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	Author    string             `json:"author"`
	Parent    string             `json:"parent,omitempty"`
	Files     []string           `json:"files"`
	FileCount int                `json:"file_count"`
	Snapshot  workspace.Snapshot `json:"snapshot"`
}

// Store owns the commit records and the HEAD pointer under a repo's state
// directory.
type Store struct {
	dir      string
	headPath string
	cache    *lru.Cache[string, *Commit]
	logger   *zap.Logger
}

func NewStore(stateDir string, logger *zap.Logger) (*Store, error) {
	cache, err := lru.New[string, *Commit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return &Store{
		dir:      filepath.Join(stateDir, commitsDir),
		headPath: filepath.Join(stateDir, headFile),
		cache:    cache,
		logger:   logging.OrNop(logger),
	}, nil
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.dir, id+".zip")
}

// Exists reports whether anything, complete or not, is stored under id.
func (s *Store) Exists(id string) bool {
	for _, p := range []string{s.metaPath(id), s.archivePath(id)} {
		if _, err := os.Lstat(p); err == nil {
			return true
		}
	}
	return false
}

// Create writes the archive of files and then the metadata record. The
// metadata is what makes a commit visible, so a failure at any point leaves
// nothing behind that readers would pick up.
func (s *Store) Create(c *Commit, root string, files []string, opts archive.Options) error {
	if c.ID == "" {
		return fmt.Errorf("commit ID cannot be empty")
	}
	if s.Exists(c.ID) {
		return fmt.Errorf("commit already exists: %s", c.ID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return operrors.FromIO("creating commits directory", s.dir, err)
	}

	zipPath := s.archivePath(c.ID)
	if err := archive.CreateFile(zipPath, root, files, opts); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	if err := utils.WriteJSON(s.metaPath(c.ID), c); err != nil {
		if rmErr := os.Remove(zipPath); rmErr != nil {
			s.logger.Warn("removing archive after failed commit",
				zap.String("path", zipPath),
				zap.Error(rmErr))
		}
		return operrors.FromIO("writing commit metadata", s.metaPath(c.ID), err)
	}

	s.cache.Add(c.ID, c)
	return nil
}

// Read loads the metadata for an exact id.
func (s *Store) Read(id string) (*Commit, error) {
	if c, ok := s.cache.Get(id); ok {
		return c, nil
	}

	var c Commit
	err := utils.ReadJSON(s.metaPath(id), &c)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, operrors.NotFound(fmt.Sprintf("commit %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", id, err)
	}

	s.cache.Add(id, &c)
	return &c, nil
}

// List returns every complete commit, newest first. Metadata without an
// archive is treated as an orphan and skipped.
func (s *Store) List() ([]*Commit, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, operrors.FromIO("listing commits", s.dir, err)
	}

	var commits []*Commit
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		if _, err := os.Stat(s.archivePath(id)); err != nil {
			s.logger.Warn("skipping commit without archive", zap.String("id", id))
			continue
		}
		c, err := s.Read(id)
		if err != nil {
			s.logger.Warn("skipping unreadable commit", zap.String("id", id), zap.Error(err))
			continue
		}
		commits = append(commits, c)
	}

	sort.SliceStable(commits, func(i, j int) bool {
		if !commits[i].Timestamp.Equal(commits[j].Timestamp) {
			return commits[i].Timestamp.After(commits[j].Timestamp)
		}
		return commits[i].ID > commits[j].ID
	})
	return commits, nil
}

// Resolve finds the commit an id prefix refers to. An exact id always wins;
// otherwise the prefix must match exactly one commit.
func (s *Store) Resolve(prefix string) (*Commit, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, operrors.NotFound("empty commit id")
	}

	commits, err := s.List()
	if err != nil {
		return nil, err
	}

	var matches []*Commit
	for _, c := range commits {
		if c.ID == prefix {
			return c, nil
		}
		if strings.HasPrefix(c.ID, prefix) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return nil, operrors.NotFound(fmt.Sprintf("commit '%s' not found", prefix))
	case 1:
		return matches[0], nil
	}

	ids := make([]string, len(matches))
	for i, c := range matches {
		ids[i] = c.ID
	}
	return nil, operrors.AmbiguousID(prefix, ids)
}

// Head returns the HEAD commit id, or "" when no commit exists yet.
func (s *Store) Head() (string, error) {
	data, err := os.ReadFile(s.headPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", operrors.FromIO("reading HEAD", s.headPath, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetHead replaces the HEAD pointer. Callers only do so once the commit it
// names is fully stored.
func (s *Store) SetHead(id string) error {
	if err := utils.WriteFileAtomic(s.headPath, []byte(id+"\n"), 0644); err != nil {
		return operrors.FromIO("writing HEAD", s.headPath, err)
	}
	return nil
}

// OpenArchive opens the archive of a stored commit.
func (s *Store) OpenArchive(id string) (*archive.Reader, error) {
	path := s.archivePath(id)
	if _, err := os.Stat(path); err != nil {
		return nil, operrors.FromIO(fmt.Sprintf("commit snapshot not found for %s", id), path, err)
	}
	r, err := archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive for %s: %w", id, err)
	}
	return r, nil
}

// Extract writes the commit's files into dest, skipping names for which
// skip returns true.
func (s *Store) Extract(id, dest string, skip func(name string) bool) ([]string, error) {
	r, err := s.OpenArchive(id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Extract(dest, skip)
}

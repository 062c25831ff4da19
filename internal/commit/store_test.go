package commit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"op/internal/archive"
	operrors "op/internal/errors"
	"op/internal/workspace"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	root := t.TempDir()
	stateDir := filepath.Join(root, workspace.StateDir)
	require.NoError(t, os.Mkdir(stateDir, 0755))
	s, err := NewStore(stateDir, nil)
	require.NoError(t, err)
	return s, root, stateDir
}

func storeCommit(t *testing.T, s *Store, root, id string, ts time.Time) *Commit {
	t.Helper()
	writeFile(t, root, "a.txt", id)
	c := &Commit{
		ID:        id,
		Message:   "msg " + id,
		Timestamp: ts,
		Author:    DefaultAuthor,
		Files:     []string{"a.txt"},
		FileCount: 1,
		Snapshot:  workspace.Snapshot{"a.txt": workspace.Digest([]byte(id))},
	}
	require.NoError(t, s.Create(c, root, []string{filepath.Join(root, "a.txt")}, archive.DefaultOptions()))
	return c
}

func TestStoreResolve(t *testing.T) {
	s, root, _ := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeCommit(t, s, root, "abc1111", base)
	storeCommit(t, s, root, "abc2222", base.Add(time.Minute))
	storeCommit(t, s, root, "def3333", base.Add(2*time.Minute))

	t.Run("unique prefix", func(t *testing.T) {
		c, err := s.Resolve("abc1")
		require.NoError(t, err)
		assert.Equal(t, "abc1111", c.ID)

		c, err = s.Resolve("d")
		require.NoError(t, err)
		assert.Equal(t, "def3333", c.ID)
	})

	t.Run("exact id", func(t *testing.T) {
		c, err := s.Resolve("abc2222")
		require.NoError(t, err)
		assert.Equal(t, "abc2222", c.ID)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := s.Resolve("abc")
		require.Error(t, err)
		assert.True(t, errors.Is(err, operrors.ErrAmbiguousID))

		var opErr *operrors.Error
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, []string{"abc2222", "abc1111"}, opErr.Details)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Resolve("999")
		assert.True(t, errors.Is(err, operrors.ErrNotFound))
		_, err = s.Resolve("  ")
		assert.True(t, errors.Is(err, operrors.ErrNotFound))
	})
}

func TestStoreList(t *testing.T) {
	s, root, stateDir := newTestStore(t)

	commits, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, commits)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storeCommit(t, s, root, "aaaaaaa", base.Add(time.Hour))
	storeCommit(t, s, root, "bbbbbbb", base)
	storeCommit(t, s, root, "ccccccc", base.Add(2*time.Hour))

	// An orphaned metadata record, as left by an interrupted commit.
	writeFile(t, stateDir, "commits/ddddddd.json", `{"id":"ddddddd","timestamp":"2030-01-01T00:00:00Z"}`)
	// A corrupt one.
	writeFile(t, stateDir, "commits/eeeeeee.json", `{not json`)
	writeFile(t, stateDir, "commits/eeeeeee.zip", "")

	fresh, err := NewStore(stateDir, nil)
	require.NoError(t, err)
	commits, err = fresh.List()
	require.NoError(t, err)

	var ids []string
	for _, c := range commits {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"ccccccc", "aaaaaaa", "bbbbbbb"}, ids)
}

func TestStoreCreateFailureLeavesNothing(t *testing.T) {
	s, root, stateDir := newTestStore(t)

	c := &Commit{ID: "fa11ed0", Message: "broken", Timestamp: time.Now()}
	err := s.Create(c, root, []string{filepath.Join(root, "vanished.txt")}, archive.DefaultOptions())
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(stateDir, "commits"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, s.Exists("fa11ed0"))

	head, err := s.Head()
	require.NoError(t, err)
	assert.Empty(t, head)

	_, err = s.Read("fa11ed0")
	assert.True(t, errors.Is(err, operrors.ErrNotFound))
}

func TestStoreCreateRejectsDuplicates(t *testing.T) {
	s, root, _ := newTestStore(t)
	c := storeCommit(t, s, root, "1234567", time.Now())

	err := s.Create(c, root, []string{filepath.Join(root, "a.txt")}, archive.DefaultOptions())
	assert.ErrorContains(t, err, "already exists")
}

func TestStoreHeadAndExtract(t *testing.T) {
	s, root, _ := newTestStore(t)

	head, err := s.Head()
	require.NoError(t, err)
	assert.Empty(t, head)

	storeCommit(t, s, root, "1234567", time.Now())
	require.NoError(t, s.SetHead("1234567"))
	head, err = s.Head()
	require.NoError(t, err)
	assert.Equal(t, "1234567", head)

	dest := t.TempDir()
	written, err := s.Extract("1234567", dest, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, written)
	assert.Equal(t, "1234567", readFile(t, dest, "a.txt"))

	written, err = s.Extract("1234567", t.TempDir(), func(string) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, written)

	_, err = s.Extract("7654321", dest, nil)
	assert.True(t, errors.Is(err, operrors.ErrIO))
}

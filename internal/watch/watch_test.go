package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operrors "op/internal/errors"
	"op/internal/workspace"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) handle(_ context.Context, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, paths)
}

func (r *recorder) seen() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for _, b := range r.batches {
		for _, p := range b {
			out[p] = true
		}
	}
	return out
}

func startWatcher(t *testing.T, root string) *recorder {
	t.Helper()
	ws, err := workspace.New(root, nil)
	require.NoError(t, err)
	w, err := New(ws, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	rec := &recorder{}
	go func() { done <- w.Run(ctx, rec.handle) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return rec
}

func setupRepo(t *testing.T, ignore string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, workspace.StateDir), 0755))
	writeFile(t, root, workspace.IgnoreFile, ignore)
	return root
}

func TestWatcherReportsChanges(t *testing.T) {
	root := setupRepo(t, ".op\nbuild\n")
	writeFile(t, root, "existing.txt", "v1")
	require.NoError(t, os.Mkdir(filepath.Join(root, "build"), 0755))

	rec := startWatcher(t, root)

	writeFile(t, root, "existing.txt", "v2")
	writeFile(t, root, "fresh.txt", "new")
	writeFile(t, root, "nested/dir/deep.txt", "deep")
	writeFile(t, root, "build/out.bin", "ignored")
	writeFile(t, root, ".op/HEAD", "abc1234\n")

	require.Eventually(t, func() bool {
		seen := rec.seen()
		return seen["existing.txt"] && seen["fresh.txt"] && seen["nested/dir/deep.txt"]
	}, 5*time.Second, 20*time.Millisecond)

	seen := rec.seen()
	assert.False(t, seen["build/out.bin"])
	assert.False(t, seen[".op/HEAD"])
	assert.False(t, seen[workspace.IgnoreFile])
}

func TestWatcherDebounces(t *testing.T) {
	root := setupRepo(t, ".op\n")
	rec := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		writeFile(t, root, "busy.txt", string(rune('a'+i)))
	}

	require.Eventually(t, func() bool {
		return rec.seen()["busy.txt"]
	}, 5*time.Second, 20*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.batches, 1)
}

func TestWatcherRequiresRepo(t *testing.T) {
	ws, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = New(ws, 0)
	assert.True(t, errors.Is(err, operrors.ErrNotARepo))
}

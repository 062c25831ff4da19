package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "HEAD")

	require.NoError(t, WriteFileAtomic(path, []byte("abc1234\n"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("def5678\n"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "def5678\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	in := map[string]any{"id": "abc1234", "file_count": float64(2)}

	require.NoError(t, WriteJSON(path, in))

	var out map[string]any
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b.txt": 1, "a.txt": 2, "c/d.txt": 3})
	assert.Equal(t, []string{"a.txt", "b.txt", "c/d.txt"}, keys)
}

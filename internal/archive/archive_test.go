package archive

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T, files map[string][]byte) (string, []string) {
	t.Helper()
	root := t.TempDir()
	var paths []string
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, content, 0644))
		paths = append(paths, p)
	}
	return root, paths
}

func TestRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	files := map[string][]byte{
		"a.txt":           []byte("hi"),
		"docs/readme.md":  []byte(strings.Repeat("op repo\n", 200)),
		"loot/blob.bin":   random,
		"loot/image.png":  []byte(strings.Repeat("png", 100)),
		"empty/empty.txt": {},
	}

	for _, method := range []string{Deflate, Zstd, Store} {
		t.Run(method, func(t *testing.T) {
			root, paths := makeTree(t, files)
			dest := filepath.Join(t.TempDir(), "commit.zip")

			require.NoError(t, CreateFile(dest, root, paths, DefaultOptions().WithCompression(method)))

			r, err := Open(dest)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, []string{"a.txt", "docs/readme.md", "empty/empty.txt", "loot/blob.bin", "loot/image.png"}, r.Names())
			for name, want := range files {
				got, err := r.ReadFile(name)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(want, got), "content mismatch for %s", name)
			}

			out := t.TempDir()
			written, err := r.Extract(out, nil)
			require.NoError(t, err)
			assert.Len(t, written, len(files))
			for name, want := range files {
				got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(want, got))
			}
		})
	}
}

func TestMethodSelection(t *testing.T) {
	opts := DefaultOptions().WithCompression(Zstd)
	assert.Equal(t, uint16(zip.Store), opts.methodFor("tiny.txt", 10))
	assert.Equal(t, uint16(zip.Store), opts.methodFor("photo.JPG", 1<<20))
	assert.Equal(t, uint16(zstd.ZipMethodWinZip), opts.methodFor("notes.txt", 1<<20))

	opts = DefaultOptions()
	assert.Equal(t, uint16(zip.Deflate), opts.methodFor("notes.txt", 1<<20))

	opts = DefaultOptions().WithCompression(Store)
	assert.Equal(t, uint16(zip.Store), opts.methodFor("notes.txt", 1<<20))

	_, paths := makeTree(t, map[string][]byte{"a": []byte("a")})
	err := Write(&bytes.Buffer{}, filepath.Dir(paths[0]), paths, Options{Compression: "lzma"})
	assert.ErrorContains(t, err, "unknown compression")
}

func TestExtractSkipsAndOverwrites(t *testing.T) {
	root, paths := makeTree(t, map[string][]byte{
		"keep.txt":        []byte("archived"),
		"scratch/x.txt":   []byte("archived scratch"),
		"nested/deep.txt": []byte("deep"),
	})
	dest := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, CreateFile(dest, root, paths, DefaultOptions()))

	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "keep.txt"), []byte("local edit"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(out, "scratch"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "scratch", "x.txt"), []byte("mine"), 0644))

	r, err := Open(dest)
	require.NoError(t, err)
	defer r.Close()

	written, err := r.Extract(out, func(name string) bool { return strings.HasPrefix(name, "scratch/") })
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt", "nested/deep.txt"}, written)

	got, _ := os.ReadFile(filepath.Join(out, "keep.txt"))
	assert.Equal(t, "archived", string(got))
	got, _ = os.ReadFile(filepath.Join(out, "scratch", "x.txt"))
	assert.Equal(t, "mine", string(got))
}

func TestExtractBadChecksumLeavesDestUntouched(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte("old-" + name[:1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	data := bytes.Replace(buf.Bytes(), []byte("old-b"), []byte("bad-b"), 1)
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, data, 0644))

	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "a.txt"), []byte("new-a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "b.txt"), []byte("new-b"), 0644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	written, err := r.Extract(out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.txt")
	assert.Empty(t, written)

	got, _ := os.ReadFile(filepath.Join(out, "a.txt"))
	assert.Equal(t, "new-a", string(got))
	got, _ = os.ReadFile(filepath.Join(out, "b.txt"))
	assert.Equal(t, "new-b", string(got))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging directory must be removed")
}

func TestUnsafeEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "evil.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.Mkdir(out, 0755))

	r, err := Open(path)
	if err == nil {
		defer r.Close()
		_, err = r.Extract(out, nil)
		assert.True(t, errors.Is(err, ErrUnsafePath))
	}
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "escape.txt"))
}

func TestCreateFileFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(t.TempDir(), "a.zip")

	err := CreateFile(dest, root, []string{filepath.Join(root, "missing.txt")}, DefaultOptions())
	require.Error(t, err)
	assert.NoFileExists(t, dest)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

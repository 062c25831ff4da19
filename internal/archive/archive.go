// Package archive reads and writes the zip containers holding full file
// copies for commits, backups and exports.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	operrors "op/internal/errors"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Write stores each file under its root-relative, slash-separated name.
func Write(w io.Writer, root string, files []string, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	opts.registerCompressors(zw)

	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", file, err)
		}
		if err := addFile(zw, file, filepath.ToSlash(rel), opts); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, name string, opts Options) error {
	f, err := os.Open(src)
	if err != nil {
		return operrors.FromIO("reading file", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return operrors.FromIO("reading file", src, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", name, err)
	}
	header.Name = name
	header.Method = opts.methodFor(name, info.Size())

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return operrors.FromIO("archiving file", src, err)
	}
	return nil
}

// CreateFile writes the archive to a temp file beside dest and renames it
// into place. On failure nothing is left at dest.
func CreateFile(dest, root string, files []string, opts Options) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".archive-*.tmp")
	if err != nil {
		return operrors.FromIO("creating archive", dest, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := Write(tmp, root, files, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return operrors.FromIO("syncing archive", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return operrors.FromIO("closing archive", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return operrors.FromIO("placing archive", dest, err)
	}
	return nil
}

// Reader gives access to an archive on disk.
type Reader struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		if rc != nil {
			rc.Close()
		}
		return nil, err
	}
	registerDecompressors(&rc.Reader)

	r := &Reader{rc: rc, files: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		r.files[f.Name] = f
	}
	return r, nil
}

func (r *Reader) Close() error {
	return r.rc.Close()
}

// Names lists file entries sorted.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.files))
	for name, f := range r.files {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reader) ReadFile(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", name, err)
	}
	return data, nil
}

// Extract writes every entry for which skip returns false into dest,
// creating parent directories and replacing existing files. It returns the
// names written.
//
// Entries are first decompressed into a staging directory under dest, which
// checks every checksum, and only then renamed into place. A bad entry
// leaves dest untouched.
func (r *Reader) Extract(dest string, skip func(name string) bool) ([]string, error) {
	type staged struct {
		name, tmp, target string
	}

	var pending []staged
	for _, name := range r.Names() {
		if skip != nil && skip(name) {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return nil, err
		}
		pending = append(pending, staged{name: name, target: target})
	}
	if len(pending) == 0 {
		return nil, nil
	}

	stage, err := os.MkdirTemp(dest, ".restore-*")
	if err != nil {
		return nil, operrors.FromIO("creating staging directory", dest, err)
	}
	defer os.RemoveAll(stage)

	for i := range pending {
		tmp, err := r.stageFile(r.files[pending[i].name], stage)
		if err != nil {
			return nil, err
		}
		pending[i].tmp = tmp
	}

	written := make([]string, 0, len(pending))
	for _, p := range pending {
		if err := os.MkdirAll(filepath.Dir(p.target), 0755); err != nil {
			return written, operrors.FromIO("creating directory", filepath.Dir(p.target), err)
		}
		if err := os.Rename(p.tmp, p.target); err != nil {
			return written, operrors.FromIO("writing file", p.target, err)
		}
		written = append(written, p.name)
	}
	return written, nil
}

// stageFile decompresses one entry into a new file under stage. Reading to
// EOF verifies the entry's CRC.
func (r *Reader) stageFile(f *zip.File, stage string) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(stage, "entry-*")
	if err != nil {
		return "", operrors.FromIO("staging file", stage, err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", operrors.FromIO("staging file", tmp.Name(), err)
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return "", operrors.FromIO("staging file", tmp.Name(), err)
	}
	return tmp.Name(), nil
}

// safeJoin resolves an entry name under dest, rejecting absolute names and
// names that climb out of it.
func safeJoin(dest, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

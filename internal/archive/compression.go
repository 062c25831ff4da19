package archive

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

const (
	Deflate = "deflate"
	Zstd    = "zstd"
	Store   = "store"
)

// Options configures how entries are compressed.
type Options struct {
	// Compression is one of Deflate, Zstd or Store.
	Compression string
	// Level is the flate level for Deflate (1-9) or the zstd level (1-4).
	Level int
	// Files smaller than MinSize are stored uncompressed.
	MinSize int
	// Already-compressed formats are stored as is.
	SkipExtensions []string
}

func DefaultOptions() Options {
	return Options{
		Compression: Deflate,
		Level:       flate.DefaultCompression,
		MinSize:     64,
		SkipExtensions: []string{
			".zip", ".gz", ".tgz", ".zst", ".xz", ".bz2", ".7z",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
			".mp3", ".mp4", ".avi", ".mkv",
			".pdf", ".docx", ".xlsx",
		},
	}
}

// WithCompression returns a copy of o using method, keeping a level that is
// valid for it.
func (o Options) WithCompression(method string) Options {
	o.Compression = method
	if method == Zstd {
		o.Level = int(zstd.SpeedDefault)
	}
	return o
}

func (o Options) validate() error {
	switch o.Compression {
	case Deflate, Zstd, Store:
		return nil
	}
	return fmt.Errorf("unknown compression method: %s", o.Compression)
}

// methodFor picks the zip method for one entry.
func (o Options) methodFor(name string, size int64) uint16 {
	if o.Compression == Store || size < int64(o.MinSize) {
		return zip.Store
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, skip := range o.SkipExtensions {
		if ext == skip {
			return zip.Store
		}
	}

	if o.Compression == Zstd {
		return zstd.ZipMethodWinZip
	}
	return zip.Deflate
}

// registerCompressors wires the configured levels into w.
func (o Options) registerCompressors(w *zip.Writer) {
	level := o.Level
	if o.Compression == Deflate {
		if level == 0 || level < flate.HuffmanOnly || level > flate.BestCompression {
			level = flate.DefaultCompression
		}
		w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}

	encLevel := zstd.SpeedDefault
	if o.Compression == Zstd && level >= int(zstd.SpeedFastest) && level <= int(zstd.SpeedBestCompression) {
		encLevel = zstd.EncoderLevel(level)
	}
	w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(1),
	))
}

func registerDecompressors(r *zip.Reader) {
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor(
		zstd.WithDecoderConcurrency(1),
	))
}

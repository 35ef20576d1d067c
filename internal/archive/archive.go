// Package archive bundles selected raw records into a compressed side
// file, typically the failed ids of a run, so they can be inspected or
// replayed elsewhere without the full archive.
//
// Bundle layout: the shared 4-byte format header (type 'a', compressed
// flag set) followed by a zstd stream of the concatenated raw records,
// delimiter lines included. The decompressed payload is therefore
// itself a valid mbox.
package archive

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"mailsift/internal/format"
	"mailsift/internal/index"
	"mailsift/internal/logging"
	"mailsift/internal/mbox"
)

const bundleVersion = 1

// zstdDec is a package-level decoder, concurrent-safe, always available
// for reads.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// Write streams the raw bytes of the given spans into a compressed
// bundle at path via temp-file-then-rename.
func Write(f *mbox.File, spans []index.Span, path string, logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "archive")
	start := time.Now()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	var hdr [format.HeaderSize]byte
	format.Header{Type: format.TypeArchive, Version: bundleVersion, Flags: format.FlagCompressed}.EncodeInto(hdr[:])
	if _, err := tmp.Write(hdr[:]); err != nil {
		cleanup()
		return fmt.Errorf("write bundle header: %w", err)
	}

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		cleanup()
		return fmt.Errorf("create zstd writer: %w", err)
	}

	var total int64
	for _, span := range spans {
		raw, err := f.Slice(int64(span.Offset), int64(span.Length))
		if err != nil {
			enc.Close()
			cleanup()
			return fmt.Errorf("read record %d: %w", span.ID, err)
		}
		if _, err := enc.Write(raw); err != nil {
			enc.Close()
			cleanup()
			return fmt.Errorf("compress record %d: %w", span.ID, err)
		}
		total += int64(len(raw))
	}

	if err := enc.Close(); err != nil {
		cleanup()
		return fmt.Errorf("finish zstd stream: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close bundle: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename bundle: %w", err)
	}

	logger.Debug("bundle written",
		"path", path,
		"records", len(spans),
		"raw_bytes", total,
		"duration", time.Since(start),
	)
	return nil
}

// Read decompresses a bundle and returns its mbox payload.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	if _, err := format.DecodeAndValidate(data, format.TypeArchive, bundleVersion); err != nil {
		return nil, fmt.Errorf("bundle header: %w", err)
	}

	payload, err := zstdDec.DecodeAll(data[format.HeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress bundle: %w", err)
	}
	return payload, nil
}

package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"mailsift/internal/logging"
	"mailsift/internal/mbox"
)

// Builder scans an archive once and writes its index.
type Builder struct {
	logger *slog.Logger
}

func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logging.Default(logger).With("component", "index-builder")}
}

// Build runs a single sequential pass over the mapped archive, assigns
// ids in scan order, computes quick hashes, and writes the index to
// path via temp-file-then-rename. A partially written index is never
// visible; on any write failure the temp file is discarded and the
// error wraps ErrIndexWrite.
//
// Only the hashed payload prefix of each record is ever touched here,
// so the pass stays sequential over the mapping with no per-record
// copies.
func (b *Builder) Build(ctx context.Context, f *mbox.File, path string) (*Index, error) {
	buildStart := time.Now()

	idx := &Index{
		SourceSize:  uint64(f.Size()),
		SourceMtime: uint64(f.ModTime().UnixNano()),
	}

	scanner := f.Scan()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bd, err := scanner.Next()
		if err != nil {
			if errors.Is(err, mbox.ErrNoMoreRecords) {
				break
			}
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		if bd.Length() > math.MaxUint32 {
			return nil, fmt.Errorf("record %d: length %d overflows index entry", len(idx.Entries), bd.Length())
		}

		payload, err := f.Record(bd.Start, bd.Length())
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(idx.Entries), err)
		}
		prefix := payload
		if len(prefix) > QuickHashPrefix {
			prefix = prefix[:QuickHashPrefix]
		}

		idx.Entries = append(idx.Entries, Span{
			ID:        uint32(len(idx.Entries)),
			Offset:    uint64(bd.Start),
			Length:    uint32(bd.Length()),
			QuickHash: xxhash.Sum64(prefix),
		})
	}

	data := encode(idx)
	if err := writeAtomic(path, data); err != nil {
		return nil, err
	}

	b.logger.Debug("index built",
		"path", path,
		"records", len(idx.Entries),
		"source_size", idx.SourceSize,
		"file_size", len(data),
		"duration", time.Since(buildStart),
	)

	return idx, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrIndexWrite, err)
	}
	tmpName := tmpFile.Name()

	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: chmod temp: %v", ErrIndexWrite, err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp: %v", ErrIndexWrite, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp: %v", ErrIndexWrite, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrIndexWrite, err)
	}
	return nil
}

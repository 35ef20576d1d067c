// Package checkpoint persists the set of processed record ids across
// runs, making the pipeline resumable. The journal is append-only: ids
// are added, never removed, and a crash mid-write can only produce a
// torn tail, which is repaired (truncated) on the next open. Prior
// entries are never at risk.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"mailsift/internal/format"
	"mailsift/internal/logging"
)

const (
	journalVersion = 1
	idSize         = 4
)

// Journal is the durable processed-id set. It has exactly one writer
// (the run coordinator); workers never touch it.
type Journal struct {
	path      string
	file      *os.File
	done      map[uint32]struct{}
	updatedAt time.Time
	logger    *slog.Logger
}

// DefaultPath returns the sidecar journal path for an archive.
func DefaultPath(archivePath string) string {
	return archivePath + ".checkpoint"
}

// Open loads or creates a journal. An unreadable header means the file
// is not ours; rather than failing the run, the journal starts fresh
// and logs what it discarded. A torn trailing write (length not a
// multiple of the id size) is truncated away silently.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	logger = logging.Default(logger).With("component", "checkpoint")

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	j := &Journal{
		path:   path,
		file:   file,
		done:   make(map[uint32]struct{}),
		logger: logger,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat checkpoint: %w", err)
	}

	if info.Size() == 0 {
		if err := j.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return j, nil
	}
	j.updatedAt = info.ModTime()

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(file, data); err != nil {
		file.Close()
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	if _, err := format.DecodeAndValidate(data, format.TypeCheckpoint, journalVersion); err != nil {
		logger.Warn("checkpoint unreadable, starting fresh", "path", path, "error", err)
		if err := j.reset(); err != nil {
			file.Close()
			return nil, err
		}
		return j, nil
	}

	body := data[format.HeaderSize:]
	whole := len(body) / idSize * idSize
	for cursor := 0; cursor < whole; cursor += idSize {
		j.done[binary.LittleEndian.Uint32(body[cursor:cursor+idSize])] = struct{}{}
	}

	if whole != len(body) {
		// Torn tail from a crash mid-append.
		if err := file.Truncate(int64(format.HeaderSize + whole)); err != nil {
			file.Close()
			return nil, fmt.Errorf("repair checkpoint: %w", err)
		}
		logger.Warn("truncated torn checkpoint tail", "path", path, "dropped_bytes", len(body)-whole)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek checkpoint: %w", err)
	}

	return j, nil
}

func (j *Journal) writeHeader() error {
	var hdr [format.HeaderSize]byte
	format.Header{Type: format.TypeCheckpoint, Version: journalVersion}.EncodeInto(hdr[:])
	if _, err := j.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}
	return nil
}

func (j *Journal) reset() error {
	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate checkpoint: %w", err)
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek checkpoint: %w", err)
	}
	j.done = make(map[uint32]struct{})
	return j.writeHeader()
}

// Has reports whether id is already processed.
func (j *Journal) Has(id uint32) bool {
	_, ok := j.done[id]
	return ok
}

// Count returns the number of processed ids.
func (j *Journal) Count() int { return len(j.done) }

// Done returns the processed-id set. The map is live; callers must not
// mutate it.
func (j *Journal) Done() map[uint32]struct{} { return j.done }

// UpdatedAt returns the time of the last flush (or the file mtime at
// open for a pre-existing journal).
func (j *Journal) UpdatedAt() time.Time { return j.updatedAt }

// Append durably records ids as processed. The batch is written with a
// single write and fsynced before returning, so once Append returns the
// chunk it represents can never be reprocessed.
func (j *Journal) Append(ids []uint32) error {
	if j.file == nil {
		return errors.New("checkpoint closed")
	}
	if len(ids) == 0 {
		return nil
	}

	buf := make([]byte, len(ids)*idSize)
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[i*idSize:], id)
	}
	if _, err := j.file.Write(buf); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}

	for _, id := range ids {
		j.done[id] = struct{}{}
	}
	j.updatedAt = time.Now()
	return nil
}

func (j *Journal) Close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

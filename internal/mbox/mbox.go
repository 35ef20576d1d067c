// Package mbox provides random access to an mbox-style append-only
// message archive through a read-only memory mapping.
//
// The archive is a sequence of variable-length records, each introduced
// by a delimiter line ("From " at the start of a line by default). The
// mapping is never mutated, so any number of goroutines may read from
// the same File concurrently without locking.
package mbox

import (
	"bytes"
	"errors"
	"os"
	"syscall"
	"time"
)

// DefaultDelimiter is the classic mbox envelope token. A line is a record
// boundary when it begins with this token and is preceded by a newline
// (or is the first line of the file).
const DefaultDelimiter = "From "

var (
	ErrMalformedLog     = errors.New("log does not start with a delimiter line")
	ErrRecordOutOfRange = errors.New("record span outside mapped log")
	ErrNoMoreRecords    = errors.New("no more records")
)

// File is a long-lived read-only mapping of one archive. It is safe for
// concurrent readers; Close unmaps, after which borrowed slices from
// Slice and Record must no longer be used.
type File struct {
	file  *os.File
	data  []byte
	size  int64
	mtime time.Time
	delim []byte
}

// Open maps the archive at path read-only. An empty file is valid and
// yields zero records.
func Open(path string) (*File, error) {
	return OpenDelimited(path, DefaultDelimiter)
}

// OpenDelimited is Open with a custom delimiter token.
func OpenDelimited(path, delimiter string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	f := &File{
		file:  file,
		size:  info.Size(),
		mtime: info.ModTime(),
		delim: []byte(delimiter),
	}
	if f.size == 0 {
		return f, nil
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(f.size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}
	f.data = data
	return f, nil
}

// Size returns the archive size at Open time.
func (f *File) Size() int64 { return f.size }

// ModTime returns the archive modification time at Open time.
func (f *File) ModTime() time.Time { return f.mtime }

// Slice returns the raw bytes [offset, offset+length), delimiter line
// included. The slice borrows the mapping and is valid until Close.
func (f *File) Slice(offset int64, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(f.data)) {
		return nil, ErrRecordOutOfRange
	}
	return f.data[offset : offset+length], nil
}

// Record returns the payload of the record at [offset, offset+length)
// with its delimiter line stripped. The envelope line is metadata, not
// message content. O(length of the envelope line), allocation-free.
func (f *File) Record(offset int64, length int64) ([]byte, error) {
	raw, err := f.Slice(offset, length)
	if err != nil {
		return nil, err
	}
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		// Degenerate record: a delimiter line without a trailing newline.
		return raw[:0], nil
	}
	return raw[nl+1:], nil
}

func (f *File) Close() error {
	var err error
	if f.data != nil {
		if unmapErr := syscall.Munmap(f.data); unmapErr != nil {
			err = unmapErr
		}
		f.data = nil
	}
	if f.file != nil {
		if closeErr := f.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		f.file = nil
	}
	return err
}

// Package index builds, persists, and loads the byte-offset index over
// an mbox archive. The index is what turns sequential scanning into O(1)
// random access: one fixed-size entry per record, mapping record id to
// its exact byte range plus a quick content hash.
package index

import "errors"

var (
	ErrIndexCorrupt = errors.New("index corrupt")
	ErrIndexStale   = errors.New("index stale")
	ErrIndexWrite   = errors.New("index write failed")
)

// QuickHashPrefix bounds how much of a record's payload feeds the quick
// hash. The hash is a duplicate-candidate filter only, never proof of
// equality; consumers must compare full content before treating two
// records as duplicates.
const QuickHashPrefix = 200

// Span locates one record. IDs are assigned in scan order starting at 0
// and never change for an append-only archive.
type Span struct {
	ID        uint32
	Offset    uint64
	Length    uint32
	QuickHash uint64
}

// Index is the durable offset table for one archive version. Entries
// are sorted by ID and by Offset, contiguous and non-overlapping.
// SourceSize and SourceMtime identify the archive version the index was
// built from; a mismatch means the index is stale and must be rebuilt.
type Index struct {
	SourceSize  uint64
	SourceMtime uint64 // Unix nanoseconds
	Entries     []Span
}

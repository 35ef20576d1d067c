package mbox

import "bytes"

// Boundary is the half-open byte range [Start, End) of one record,
// delimiter line included.
type Boundary struct {
	Start int64
	End   int64
}

// Length returns the record length in bytes.
func (b Boundary) Length() int64 { return b.End - b.Start }

// Scanner walks record boundaries in order. It is lazy and restartable:
// each call to Scan returns a fresh cursor over the same mapping.
//
// Only unescaped delimiter lines are boundaries. The mbox convention
// stores in-body lines that would look like a delimiter with a leading
// ">" marker (">From "), so a true boundary is exactly the token
// preceded by a newline; escaped occurrences never match. Escaped lines
// are returned verbatim inside their record, un-escaping is the record
// consumer's business.
type Scanner struct {
	f   *File
	pos int64
	// sep is "\n" + delimiter, the pattern for interior boundaries.
	sep []byte
}

// Scan returns a cursor positioned before the first record.
func (f *File) Scan() *Scanner {
	return &Scanner{f: f, sep: append([]byte{'\n'}, f.delim...)}
}

// Next returns the next record boundary. The first call fails with
// ErrMalformedLog if a non-empty file does not open with a delimiter
// line. After the last record it returns ErrNoMoreRecords. Boundaries
// cover the file exactly: no gaps, no overlaps, the final record ends
// at the file's end.
func (s *Scanner) Next() (Boundary, error) {
	data := s.f.data
	if s.pos >= int64(len(data)) {
		return Boundary{}, ErrNoMoreRecords
	}
	if s.pos == 0 && !bytes.HasPrefix(data, s.f.delim) {
		return Boundary{}, ErrMalformedLog
	}

	start := s.pos
	rel := bytes.Index(data[start:], s.sep)
	if rel < 0 {
		s.pos = int64(len(data))
		return Boundary{Start: start, End: s.pos}, nil
	}
	// The newline belongs to the record it terminates.
	s.pos = start + int64(rel) + 1
	return Boundary{Start: start, End: s.pos}, nil
}

// Reset rewinds the cursor to the first record.
func (s *Scanner) Reset() {
	s.pos = 0
}

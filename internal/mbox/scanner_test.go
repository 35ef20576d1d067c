package mbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.mbox")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func collect(t *testing.T, f *File) []Boundary {
	t.Helper()
	var bs []Boundary
	s := f.Scan()
	for {
		b, err := s.Next()
		if err != nil {
			if errors.Is(err, ErrNoMoreRecords) {
				return bs
			}
			t.Fatalf("scan: %v", err)
		}
		bs = append(bs, b)
	}
}

func TestScanBoundaries(t *testing.T) {
	content := "From alice Mon Jan  1 00:00:00 2024\nhello\n" +
		"From bob Mon Jan  1 00:01:00 2024\nworld\nsecond line\n" +
		"From carol Mon Jan  1 00:02:00 2024\nbye\n"
	f, err := Open(writeArchive(t, content))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	bs := collect(t, f)
	if len(bs) != 3 {
		t.Fatalf("records: want 3 got %d", len(bs))
	}

	// Exact coverage: contiguous, first at 0, last ends at file end.
	if bs[0].Start != 0 {
		t.Errorf("first record start: want 0 got %d", bs[0].Start)
	}
	for i := 1; i < len(bs); i++ {
		if bs[i].Start != bs[i-1].End {
			t.Errorf("gap between record %d and %d: %d != %d", i-1, i, bs[i-1].End, bs[i].Start)
		}
	}
	if bs[len(bs)-1].End != int64(len(content)) {
		t.Errorf("last record end: want %d got %d", len(content), bs[len(bs)-1].End)
	}
}

func TestScanRoundTrip(t *testing.T) {
	content := "From a\nbody one\n" +
		"From b\nbody two\nmore\n" +
		"From c\n"
	f, err := Open(writeArchive(t, content))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var rebuilt []byte
	for _, b := range collect(t, f) {
		raw, err := f.Slice(b.Start, b.Length())
		if err != nil {
			t.Fatalf("slice: %v", err)
		}
		rebuilt = append(rebuilt, raw...)
	}
	if string(rebuilt) != content {
		t.Fatalf("concatenated records differ from archive:\nwant %q\ngot  %q", content, rebuilt)
	}
}

func TestScanEscapedDelimiter(t *testing.T) {
	content := "From a\nquoting follows\n>From somebody else\nstill record one\n" +
		"From b\nsecond\n"
	f, err := Open(writeArchive(t, content))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	bs := collect(t, f)
	if len(bs) != 2 {
		t.Fatalf("escaped delimiter split the record: want 2 records got %d", len(bs))
	}

	payload, err := f.Record(bs[0].Start, bs[0].Length())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	want := "quoting follows\n>From somebody else\nstill record one\n"
	if string(payload) != want {
		t.Fatalf("escaped line mangled:\nwant %q\ngot  %q", want, payload)
	}
}

func TestScanMalformed(t *testing.T) {
	f, err := Open(writeArchive(t, "not a delimiter line\nFrom a\nbody\n"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := f.Scan().Next(); !errors.Is(err, ErrMalformedLog) {
		t.Fatalf("expected ErrMalformedLog, got %v", err)
	}
}

func TestScanEmpty(t *testing.T) {
	f, err := Open(writeArchive(t, ""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if bs := collect(t, f); len(bs) != 0 {
		t.Fatalf("empty archive: want 0 records got %d", len(bs))
	}
	if f.Size() != 0 {
		t.Fatalf("size: want 0 got %d", f.Size())
	}
}

func TestScanSingleRecord(t *testing.T) {
	content := "From only\nthe whole file\n"
	f, err := Open(writeArchive(t, content))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	bs := collect(t, f)
	if len(bs) != 1 {
		t.Fatalf("records: want 1 got %d", len(bs))
	}
	if bs[0].Start != 0 || bs[0].End != int64(len(content)) {
		t.Fatalf("span: want [0,%d) got [%d,%d)", len(content), bs[0].Start, bs[0].End)
	}
}

func TestScanReset(t *testing.T) {
	f, err := Open(writeArchive(t, "From a\nx\nFrom b\ny\n"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	s := f.Scan()
	first, err := s.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}

	s.Reset()
	again, err := s.Next()
	if err != nil {
		t.Fatalf("next after reset: %v", err)
	}
	if again != first {
		t.Fatalf("reset cursor: want %+v got %+v", first, again)
	}
}

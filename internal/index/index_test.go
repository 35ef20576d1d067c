package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailsift/internal/mbox"
)

const sampleArchive = "From alice Mon Jan  1 00:00:00 2024\nfirst body\n" +
	"From bob Mon Jan  1 00:01:00 2024\nsecond body\nwith two lines\n" +
	"From carol Mon Jan  1 00:02:00 2024\nthird\n"

func buildSample(t *testing.T, content string) (*mbox.File, *Index, string) {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "mail.mbox")
	if err := os.WriteFile(archivePath, []byte(content), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	f, err := mbox.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	idxPath := DefaultPath(archivePath)
	idx, err := NewBuilder(nil).Build(context.Background(), f, idxPath)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return f, idx, idxPath
}

func TestBuildAndLoad(t *testing.T) {
	f, built, idxPath := buildSample(t, sampleArchive)

	if len(built.Entries) != 3 {
		t.Fatalf("entries: want 3 got %d", len(built.Entries))
	}

	loaded, err := Load(idxPath, f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Entries) != len(built.Entries) {
		t.Fatalf("loaded entries: want %d got %d", len(built.Entries), len(loaded.Entries))
	}
	for i := range built.Entries {
		if loaded.Entries[i] != built.Entries[i] {
			t.Fatalf("entry %d: want %+v got %+v", i, built.Entries[i], loaded.Entries[i])
		}
	}
}

func TestEntriesCoverArchive(t *testing.T) {
	f, idx, _ := buildSample(t, sampleArchive)

	var cursor uint64
	for i, e := range idx.Entries {
		if e.ID != uint32(i) {
			t.Errorf("entry %d: id %d out of order", i, e.ID)
		}
		if e.Offset != cursor {
			t.Errorf("entry %d: offset %d, want %d (gap or overlap)", i, e.Offset, cursor)
		}
		cursor = e.Offset + uint64(e.Length)
	}
	if cursor != uint64(f.Size()) {
		t.Fatalf("coverage ends at %d, archive is %d bytes", cursor, f.Size())
	}
}

func TestRoundTripAgainstSequentialScan(t *testing.T) {
	f, idx, _ := buildSample(t, sampleArchive)

	scanner := f.Scan()
	for _, e := range idx.Entries {
		bd, err := scanner.Next()
		if err != nil {
			t.Fatalf("sequential scan: %v", err)
		}
		want, err := f.Slice(bd.Start, bd.Length())
		if err != nil {
			t.Fatalf("sequential slice: %v", err)
		}
		got, err := f.Slice(int64(e.Offset), int64(e.Length))
		if err != nil {
			t.Fatalf("indexed slice: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("record %d differs via index:\nwant %q\ngot  %q", e.ID, want, got)
		}
	}
}

func TestQuickHashMatchesForIdenticalPayloads(t *testing.T) {
	// Same body under different envelopes must hash equal; different
	// bodies must (here) hash different.
	content := "From a Mon Jan  1 00:00:00 2024\nsame body\n" +
		"From b Tue Jan  2 00:00:00 2024\nsame body\n" +
		"From c Wed Jan  3 00:00:00 2024\nother body\n"
	_, idx, _ := buildSample(t, content)

	if idx.Entries[0].QuickHash != idx.Entries[1].QuickHash {
		t.Errorf("identical payloads: hashes differ")
	}
	if idx.Entries[0].QuickHash == idx.Entries[2].QuickHash {
		t.Errorf("distinct payloads: hashes collide in trivial fixture")
	}
}

func TestBuildEmptyArchive(t *testing.T) {
	f, idx, idxPath := buildSample(t, "")

	if len(idx.Entries) != 0 {
		t.Fatalf("entries: want 0 got %d", len(idx.Entries))
	}
	loaded, err := Load(idxPath, f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Entries) != 0 {
		t.Fatalf("loaded entries: want 0 got %d", len(loaded.Entries))
	}
}

func TestLoadStale(t *testing.T) {
	f, _, idxPath := buildSample(t, sampleArchive)

	// Grow the archive after the index was built.
	archivePath := idxPath[:len(idxPath)-len(".idx")]
	grown := sampleArchive + "From dave Mon Jan  1 00:03:00 2024\nlate arrival\n"
	if err := os.WriteFile(archivePath, []byte(grown), 0o644); err != nil {
		t.Fatalf("grow archive: %v", err)
	}
	f.Close()

	f2, err := mbox.Open(archivePath)
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	defer f2.Close()

	if _, err := Load(idxPath, f2); !errors.Is(err, ErrIndexStale) {
		t.Fatalf("expected ErrIndexStale, got %v", err)
	}

	// Rebuilding tracks the fresh scan.
	rebuilt, err := NewBuilder(nil).Build(context.Background(), f2, idxPath)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(rebuilt.Entries) != 4 {
		t.Fatalf("rebuilt entries: want 4 got %d", len(rebuilt.Entries))
	}
}

func TestLoadCorrupt(t *testing.T) {
	f, _, idxPath := buildSample(t, sampleArchive)

	data, err := os.ReadFile(idxPath)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}

	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(d []byte) []byte { d[0] = 'X'; return d }},
		{"bad version", func(d []byte) []byte { d[8] = 0xFF; return d }},
		{"truncated header", func(d []byte) []byte { return d[:10] }},
		{"truncated entries", func(d []byte) []byte { return d[:len(d)-5] }},
		{"trailing garbage", func(d []byte) []byte { return append(d, 0xAB) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutated := tc.mutate(append([]byte(nil), data...))
			if err := os.WriteFile(idxPath, mutated, 0o644); err != nil {
				t.Fatalf("write corrupt index: %v", err)
			}
			if _, err := Load(idxPath, f); !errors.Is(err, ErrIndexCorrupt) {
				t.Fatalf("expected ErrIndexCorrupt, got %v", err)
			}
		})
	}
}

func TestBuildLeavesNoTempOnSuccess(t *testing.T) {
	_, _, idxPath := buildSample(t, sampleArchive)

	entries, err := os.ReadDir(filepath.Dir(idxPath))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(idxPath) && e.Name() != "mail.mbox" {
			t.Fatalf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "mail.mbox")
	if err := os.WriteFile(archivePath, []byte(sampleArchive), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	f, err := mbox.Open(archivePath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewBuilder(nil).Build(ctx, f, DefaultPath(archivePath)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// No index may exist after a cancelled build.
	if _, err := os.Stat(DefaultPath(archivePath)); !os.IsNotExist(err) {
		t.Fatalf("cancelled build left an index: %v", err)
	}
}

func TestStaleOnMtimeOnlyChange(t *testing.T) {
	f, _, idxPath := buildSample(t, sampleArchive)
	archivePath := idxPath[:len(idxPath)-len(".idx")]
	f.Close()

	// Same size, different mtime.
	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(archivePath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	f2, err := mbox.Open(archivePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()

	if _, err := Load(idxPath, f2); !errors.Is(err, ErrIndexStale) {
		t.Fatalf("expected ErrIndexStale, got %v", err)
	}
}

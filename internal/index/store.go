package index

import (
	"fmt"
	"os"

	"mailsift/internal/mbox"
)

// DefaultPath returns the sidecar index path for an archive.
func DefaultPath(archivePath string) string {
	return archivePath + ".idx"
}

// Load reads a persisted index and validates it against the currently
// mapped archive. It is read-only and side-effect free.
//
// Returns ErrIndexCorrupt for a bad magic, version, or truncated entry
// table, and ErrIndexStale when the archive's size or mtime no longer
// match what the index was built from. Staleness is a rebuild signal
// for the caller; Load never rebuilds on its own, so an unexpected
// archive mutation stays visible.
func Load(path string, f *mbox.File) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	idx, err := decode(data)
	if err != nil {
		return nil, err
	}

	if idx.SourceSize != uint64(f.Size()) || idx.SourceMtime != uint64(f.ModTime().UnixNano()) {
		return nil, fmt.Errorf("%w: source %d bytes @ %d, index built from %d bytes @ %d",
			ErrIndexStale, f.Size(), f.ModTime().UnixNano(), idx.SourceSize, idx.SourceMtime)
	}

	return idx, nil
}

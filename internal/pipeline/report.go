package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// RecordFailure names one record that could not be processed.
type RecordFailure struct {
	ID  uint32
	Err error
}

// Report summarizes one run. A partially failed run still produces a
// full report; it is never presented as a clean success.
type Report struct {
	RunID       string    `msgpack:"run_id"`
	ArchivePath string    `msgpack:"archive_path"`
	StartedAt   time.Time `msgpack:"started_at"`
	FinishedAt  time.Time `msgpack:"finished_at"`
	Workers     int       `msgpack:"workers"`
	ChunkSize   int       `msgpack:"chunk_size"`

	TotalIndexed   int      `msgpack:"total_indexed"`
	TotalProcessed int      `msgpack:"total_processed"`
	TotalSkipped   int      `msgpack:"total_skipped"`
	TotalFailed    int      `msgpack:"total_failed"`
	FailedIDs      []uint32 `msgpack:"failed_ids"`
}

func (r *Report) addFailure(f RecordFailure) {
	r.TotalFailed++
	r.FailedIDs = append(r.FailedIDs, f.ID)
}

// DefaultReportPath returns the sidecar report path for an archive.
func DefaultReportPath(archivePath string) string {
	return archivePath + ".report"
}

// Save persists the report as msgpack via temp-file-then-rename.
func (r *Report) Save(path string) error {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// LoadReport reads a previously saved report.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// Package pipeline drives chunked, resumable, parallel processing of
// indexed archive records.
//
// One coordinator goroutine partitions the remaining records into
// contiguous id-range chunks and dispatches them over a bounded channel
// to a fixed worker pool. Workers share nothing mutable: each opens its
// own read-only mapping of the archive and builds its own processor
// from configuration. Results flow back to the coordinator, which is
// the only writer of the checkpoint journal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailsift/internal/checkpoint"
	"mailsift/internal/index"
	"mailsift/internal/logging"
	"mailsift/internal/mbox"
)

var ErrChunkWorkerCrashed = errors.New("chunk worker crashed")

// DefaultChunkSize balances dispatch overhead against load-balance
// granularity; the useful range is roughly 100-500 records per chunk.
const DefaultChunkSize = 256

// inflightSlack is how many chunks beyond the worker count may be
// outstanding at once. Keeps workers fed without materializing the
// whole chunk list eagerly.
const inflightSlack = 2

// Processor handles one record. raw borrows the shared mapping and
// must not be retained past the call.
type Processor func(id uint32, raw []byte) error

// Options configures a run. Zero values take defaults.
type Options struct {
	// ChunkSize is the number of records per dispatched chunk.
	ChunkSize int
	// Workers is the pool size. Defaults to available parallelism
	// minus one, reserving a unit for the coordinator.
	Workers int
	// Delimiter overrides the archive record delimiter.
	Delimiter string
	// AlreadyDone is an externally supplied processed-id set, merged
	// with the journal before dispatch (e.g. when a downstream store
	// already holds results for some records).
	AlreadyDone map[uint32]struct{}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = max(runtime.NumCPU()-1, 1)
	}
	if o.Delimiter == "" {
		o.Delimiter = mbox.DefaultDelimiter
	}
	return o
}

// Runner coordinates one archive's processing runs.
type Runner struct {
	archivePath string
	journal     *checkpoint.Journal
	// newProcessor is called once per worker, so stateful processor
	// internals are never shared across workers.
	newProcessor func() Processor
	opts         Options
	logger       *slog.Logger
}

func NewRunner(archivePath string, journal *checkpoint.Journal, newProcessor func() Processor, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		archivePath:  archivePath,
		journal:      journal,
		newProcessor: newProcessor,
		opts:         opts.withDefaults(),
		logger:       logging.Default(logger).With("component", "pipeline"),
	}
}

// workChunk is a pure description of a unit of work: a contiguous slice
// of the remaining entries. It carries no live state, so it can be
// handed to any worker.
type workChunk struct {
	spans   []index.Span
	attempt int
}

type chunkResult struct {
	chunk     workChunk
	succeeded []uint32
	failures  []RecordFailure
	crashed   error // non-nil when the worker panicked mid-chunk
	aborted   bool  // chunk was never attempted (cancellation)
}

// Run processes every entry not yet recorded as done, checkpointing
// after each completed chunk. Cancellation via ctx is cooperative:
// chunks already dispatched finish and are checkpointed, nothing new is
// dispatched afterwards.
//
// The returned report is valid even when err is non-nil, so partial
// progress is never silently discarded.
func (r *Runner) Run(ctx context.Context, entries []index.Span) (*Report, error) {
	report := &Report{
		RunID:       uuid.Must(uuid.NewV7()).String(),
		ArchivePath: r.archivePath,
		StartedAt:   time.Now(),
		Workers:     r.opts.Workers,
		ChunkSize:   r.opts.ChunkSize,
	}
	logger := r.logger.With("run_id", report.RunID)

	remaining := checkpoint.Remaining(entries, r.journal.Done(), r.opts.AlreadyDone)
	report.TotalIndexed = len(entries)
	report.TotalSkipped = len(entries) - len(remaining)

	chunks := partition(remaining, r.opts.ChunkSize)
	logger.Info("run starting",
		"archive", r.archivePath,
		"indexed", report.TotalIndexed,
		"skipped", report.TotalSkipped,
		"chunks", len(chunks),
		"workers", r.opts.Workers,
		"chunk_size", r.opts.ChunkSize,
	)

	if len(chunks) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	// Every worker gets its own mapping. Opening them up front means a
	// worker can never fail mid-run for reasons unrelated to a record.
	files := make([]*mbox.File, r.opts.Workers)
	for i := range files {
		f, err := mbox.OpenDelimited(r.archivePath, r.opts.Delimiter)
		if err != nil {
			for _, open := range files[:i] {
				open.Close()
			}
			report.FinishedAt = time.Now()
			return report, fmt.Errorf("open archive for worker %d: %w", i, err)
		}
		files[i] = f
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	maxInflight := r.opts.Workers + inflightSlack
	chunkCh := make(chan workChunk, maxInflight)
	resultCh := make(chan chunkResult, maxInflight)

	var g errgroup.Group
	for i := 0; i < r.opts.Workers; i++ {
		f := files[i]
		proc := r.newProcessor()
		g.Go(func() error {
			for c := range chunkCh {
				resultCh <- processChunk(ctx, f, proc, c)
			}
			return nil
		})
	}

	err := r.collect(ctx, report, logger, chunks, chunkCh, resultCh, maxInflight)

	close(chunkCh)
	_ = g.Wait()

	slices.Sort(report.FailedIDs)
	report.FinishedAt = time.Now()
	logger.Info("run finished",
		"processed", report.TotalProcessed,
		"skipped", report.TotalSkipped,
		"failed", report.TotalFailed,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, err
}

// collect is the coordinator loop: it keeps up to maxInflight chunks
// outstanding, merges results, flushes the checkpoint after every
// completed chunk, and re-dispatches a crashed chunk exactly once.
func (r *Runner) collect(ctx context.Context, report *Report, logger *slog.Logger, chunks []workChunk, chunkCh chan<- workChunk, resultCh <-chan chunkResult, maxInflight int) error {
	next := 0
	inflight := 0

	for {
		// Dispatch while there is capacity. Sends cannot block: the
		// channel holds maxInflight and inflight already counts
		// everything buffered or being processed.
		for inflight < maxInflight && next < len(chunks) && ctx.Err() == nil {
			chunkCh <- chunks[next]
			next++
			inflight++
		}

		if inflight == 0 {
			if next < len(chunks) && ctx.Err() != nil {
				logger.Warn("run cancelled, remaining chunks left for next run", "undispatched", len(chunks)-next)
				return ctx.Err()
			}
			return nil
		}

		res := <-resultCh
		inflight--

		switch {
		case res.aborted:
			// Never attempted; its records stay unprocessed and will be
			// picked up by the next run.

		case res.crashed != nil:
			if res.chunk.attempt == 0 {
				logger.Warn("chunk worker crashed, retrying once",
					"first_id", res.chunk.spans[0].ID, "records", len(res.chunk.spans), "error", res.crashed)
				chunks = append(chunks, workChunk{spans: res.chunk.spans, attempt: 1})
				continue
			}
			logger.Error("chunk failed twice, marking all records failed",
				"first_id", res.chunk.spans[0].ID, "records", len(res.chunk.spans), "error", res.crashed)
			for _, span := range res.chunk.spans {
				report.addFailure(RecordFailure{ID: span.ID, Err: res.crashed})
			}

		default:
			// Checkpoint before the chunk counts as done. A crash here
			// loses at most this one chunk's work.
			if err := r.journal.Append(res.succeeded); err != nil {
				return fmt.Errorf("checkpoint chunk: %w", err)
			}
			report.TotalProcessed += len(res.succeeded)
			for _, f := range res.failures {
				logger.Warn("record failed", "id", f.ID, "error", f.Err)
				report.addFailure(f)
			}
		}
	}
}

// processChunk attempts every record of one chunk in ascending id
// order. A per-record processing error is recorded and does not abort
// the chunk; a panic converts the whole attempt into a crashed result.
func processChunk(ctx context.Context, f *mbox.File, proc Processor, c workChunk) (res chunkResult) {
	res.chunk = c
	defer func() {
		if p := recover(); p != nil {
			res = chunkResult{chunk: c, crashed: fmt.Errorf("%w: %v", ErrChunkWorkerCrashed, p)}
		}
	}()

	if ctx.Err() != nil {
		res.aborted = true
		return res
	}

	for _, span := range c.spans {
		raw, err := f.Record(int64(span.Offset), int64(span.Length))
		if err != nil {
			// ErrRecordOutOfRange here means index and archive disagree;
			// surfaced per record, diagnosed as staleness by the caller.
			res.failures = append(res.failures, RecordFailure{ID: span.ID, Err: err})
			continue
		}
		if err := proc(span.ID, raw); err != nil {
			res.failures = append(res.failures, RecordFailure{ID: span.ID, Err: err})
			continue
		}
		res.succeeded = append(res.succeeded, span.ID)
	}
	return res
}

// partition cuts the remaining entries into contiguous chunks of at
// most size records.
func partition(entries []index.Span, size int) []workChunk {
	chunks := make([]workChunk, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		chunks = append(chunks, workChunk{spans: entries[start:end]})
	}
	return chunks
}

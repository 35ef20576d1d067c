package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/cespare/xxhash/v2"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"mailsift/internal/callgroup"
	"mailsift/internal/checkpoint"
	"mailsift/internal/mbox"
	"mailsift/internal/pipeline"
	"mailsift/internal/watch"
)

func newRunCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <archive>",
		Short: "Process all unprocessed records, resuming from the checkpoint",
		Long: "Ensures the index is fresh, filters out already-processed records, and " +
			"drives the worker pool over the rest. Interrupting with ^C lets in-flight " +
			"chunks finish and checkpoint; a later run picks up exactly where this one stopped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}

			every, _ := cmd.Flags().GetString("every")
			if every == "" {
				return runOnce(ctx, cmd, args[0], opts, logger)
			}
			return runScheduled(ctx, cmd, args[0], every, opts, logger)
		},
	}

	cmd.Flags().Int("chunk-size", pipeline.DefaultChunkSize, "records per dispatched chunk")
	cmd.Flags().Int("workers", 0, "worker pool size (default: CPUs minus one)")
	cmd.Flags().Bool("rebuild-index", false, "force an index rebuild before processing")
	cmd.Flags().String("index", "", "index file path (default: <archive>.idx)")
	cmd.Flags().String("checkpoint", "", "checkpoint file path (default: <archive>.checkpoint)")
	cmd.Flags().String("every", "", "cron expression for scheduled re-runs (e.g. \"*/5 * * * *\")")
	return cmd
}

type runOptions struct {
	pipeline pipeline.Options
	idxPath  string
	ckptPath string
	rebuild  bool
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var o runOptions
	var err error
	if o.pipeline.ChunkSize, err = cmd.Flags().GetInt("chunk-size"); err != nil {
		return o, err
	}
	if o.pipeline.ChunkSize <= 0 {
		return o, fmt.Errorf("chunk-size must be positive, got %d", o.pipeline.ChunkSize)
	}
	o.pipeline.Workers, _ = cmd.Flags().GetInt("workers")
	if o.pipeline.Workers < 0 {
		return o, fmt.Errorf("workers must be positive, got %d", o.pipeline.Workers)
	}
	o.pipeline.Delimiter, _ = cmd.Flags().GetString("delimiter")
	o.idxPath, _ = cmd.Flags().GetString("index")
	o.ckptPath, _ = cmd.Flags().GetString("checkpoint")
	o.rebuild, _ = cmd.Flags().GetBool("rebuild-index")
	return o, nil
}

// runOnce executes one full pipeline pass: index, resume filter,
// parallel processing, report.
func runOnce(ctx context.Context, cmd *cobra.Command, archivePath string, o runOptions, logger *slog.Logger) error {
	f, err := mbox.OpenDelimited(archivePath, o.pipeline.Delimiter)
	if err != nil {
		return err
	}
	defer f.Close()

	idx, err := ensureIndex(ctx, f, archivePath, o.idxPath, o.rebuild, logger)
	if err != nil {
		return err
	}

	ckptPath := o.ckptPath
	if ckptPath == "" {
		ckptPath = checkpoint.DefaultPath(archivePath)
	}
	journal, err := checkpoint.Open(ckptPath, logger)
	if err != nil {
		return err
	}
	defer journal.Close()

	// Cancel the run if the archive vanishes underneath it.
	runCtx, cancelCause := context.WithCancelCause(ctx)
	defer cancelCause(nil)
	guard, err := watch.Start(archivePath, cancelCause, logger)
	if err != nil {
		return err
	}
	defer guard.Close()

	runner := pipeline.NewRunner(archivePath, journal, newChecksumProcessor, o.pipeline, logger)
	report, runErr := runner.Run(runCtx, idx.Entries)

	if err := report.Save(pipeline.DefaultReportPath(archivePath)); err != nil {
		logger.Warn("failed to persist run report", "error", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "indexed %d  processed %d  skipped %d  failed %d\n",
		report.TotalIndexed, report.TotalProcessed, report.TotalSkipped, report.TotalFailed)
	if len(report.FailedIDs) > 0 {
		fmt.Fprintf(out, "failed ids: %v\n", report.FailedIDs)
	}

	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil {
		return cause
	}
	return runErr
}

// runScheduled re-runs the pipeline on a cron schedule, for archives
// that keep growing. Overlapping ticks coalesce into the in-flight run.
func runScheduled(ctx context.Context, cmd *cobra.Command, archivePath, cronExpr string, o runOptions, logger *slog.Logger) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	var group callgroup.Group[string]
	task := func() {
		err := group.Do(archivePath, func() error {
			return runOnce(ctx, cmd, archivePath, o, logger)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("scheduled run failed", "archive", archivePath, "error", err)
		}
	}

	if _, err := scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(task),
		gocron.WithName("run:"+archivePath),
	); err != nil {
		return fmt.Errorf("schedule run: %w", err)
	}

	logger.Info("scheduled runs starting", "archive", archivePath, "cron", cronExpr)
	scheduler.Start()

	// First pass right away; the cron only handles growth afterwards.
	task()

	<-ctx.Done()
	return scheduler.Shutdown()
}

// newChecksumProcessor is the built-in record processor: it reads every
// payload byte and folds it into a checksum, which both validates that
// each record is reachable through its span and forces the pages in.
// Real deployments inject their own processor through the pipeline
// package.
func newChecksumProcessor() pipeline.Processor {
	digest := xxhash.New()
	return func(id uint32, raw []byte) error {
		digest.Reset()
		if _, err := digest.Write(raw); err != nil {
			return err
		}
		return nil
	}
}

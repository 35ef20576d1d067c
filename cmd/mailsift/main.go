// Command mailsift indexes an mbox archive for random access and runs
// resumable, parallel processing over its records.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mailsift/internal/dedup"
	"mailsift/internal/index"
	"mailsift/internal/mbox"
	"mailsift/internal/pipeline"
)

var version = "dev"

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rootCmd := &cobra.Command{
		Use:     "mailsift",
		Short:   "Indexed, resumable, parallel mbox processing",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("delimiter", mbox.DefaultDelimiter, "record delimiter token")

	rootCmd.AddCommand(
		newIndexCmd(logger),
		newRunCmd(logger),
		newDupsCmd(logger),
		newExportCmd(logger),
		newReportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newIndexCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <archive>",
		Short: "Build or refresh the byte-offset index for an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			delim, _ := cmd.Flags().GetString("delimiter")
			idxPath, _ := cmd.Flags().GetString("index")
			rebuild, _ := cmd.Flags().GetBool("rebuild-index")

			f, err := mbox.OpenDelimited(args[0], delim)
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := ensureIndex(ctx, f, args[0], idxPath, rebuild, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records (%d bytes)\n", len(idx.Entries), f.Size())
			return nil
		},
	}
	cmd.Flags().String("index", "", "index file path (default: <archive>.idx)")
	cmd.Flags().Bool("rebuild-index", false, "rebuild even if the existing index is fresh")
	return cmd
}

func newDupsCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dups <archive>",
		Short: "List groups of records with identical payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			delim, _ := cmd.Flags().GetString("delimiter")
			f, err := mbox.OpenDelimited(args[0], delim)
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := ensureIndex(ctx, f, args[0], "", false, logger)
			if err != nil {
				return err
			}

			groups, err := dedup.Find(f, idx.Entries)
			if err != nil {
				return err
			}
			for _, g := range groups {
				ids := make([]string, len(g.IDs))
				for i, id := range g.IDs {
					ids[i] = strconv.FormatUint(uint64(id), 10)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d copies: ids %s\n", len(g.IDs), strings.Join(ids, " "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d duplicate groups in %d records\n", len(groups), len(idx.Entries))
			return nil
		},
	}
	return cmd
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <archive>",
		Short: "Print the last run report for an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pipeline.LoadReport(pipeline.DefaultReportPath(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run       %s\n", r.RunID)
			fmt.Fprintf(out, "archive   %s\n", r.ArchivePath)
			fmt.Fprintf(out, "started   %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "duration  %s\n", r.FinishedAt.Sub(r.StartedAt))
			fmt.Fprintf(out, "workers   %d  chunk size %d\n", r.Workers, r.ChunkSize)
			fmt.Fprintf(out, "indexed   %d\n", r.TotalIndexed)
			fmt.Fprintf(out, "processed %d\n", r.TotalProcessed)
			fmt.Fprintf(out, "skipped   %d\n", r.TotalSkipped)
			fmt.Fprintf(out, "failed    %d\n", r.TotalFailed)
			if len(r.FailedIDs) > 0 {
				fmt.Fprintf(out, "failed ids: %v\n", r.FailedIDs)
			}
			return nil
		},
	}
}

// ensureIndex loads the index for an archive, rebuilding it when asked
// to, when it is missing, or when it no longer matches the archive. A
// corrupt index is rebuilt too, with a warning; silent auto-rebuild is
// reserved for staleness, which is an expected event for a growing
// archive.
func ensureIndex(ctx context.Context, f *mbox.File, archivePath, idxPath string, rebuild bool, logger *slog.Logger) (*index.Index, error) {
	if idxPath == "" {
		idxPath = index.DefaultPath(archivePath)
	}

	if !rebuild {
		idx, err := index.Load(idxPath, f)
		switch {
		case err == nil:
			return idx, nil
		case errors.Is(err, os.ErrNotExist):
			// First contact with this archive.
		case errors.Is(err, index.ErrIndexStale):
			logger.Info("index stale, rebuilding", "path", idxPath)
		case errors.Is(err, index.ErrIndexCorrupt):
			logger.Warn("index corrupt, rebuilding", "path", idxPath, "error", err)
		default:
			return nil, err
		}
	}

	return index.NewBuilder(logger).Build(ctx, f, idxPath)
}

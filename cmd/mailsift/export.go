package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mailsift/internal/archive"
	"mailsift/internal/index"
	"mailsift/internal/mbox"
	"mailsift/internal/pipeline"
)

func newExportCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <archive>",
		Short: "Bundle selected records into a compressed mbox",
		Long: "Writes the raw bytes of selected records into a zstd-compressed bundle. " +
			"By default the failed ids of the last run are exported for offline inspection.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			delim, _ := cmd.Flags().GetString("delimiter")
			out, _ := cmd.Flags().GetString("out")
			ids, _ := cmd.Flags().GetUintSlice("ids")
			if out == "" {
				out = args[0] + ".bundle"
			}

			f, err := mbox.OpenDelimited(args[0], delim)
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := ensureIndex(ctx, f, args[0], "", false, logger)
			if err != nil {
				return err
			}

			var selected []uint32
			if cmd.Flags().Changed("ids") {
				for _, id := range ids {
					selected = append(selected, uint32(id))
				}
			} else {
				report, err := pipeline.LoadReport(pipeline.DefaultReportPath(args[0]))
				if err != nil {
					return fmt.Errorf("no --ids given and no run report found: %w", err)
				}
				selected = report.FailedIDs
			}
			if len(selected) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to export")
				return nil
			}

			spans, err := resolveSpans(idx, selected)
			if err != nil {
				return err
			}
			if err := archive.Write(f, spans, out, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(spans), out)
			return nil
		},
	}
	cmd.Flags().String("out", "", "bundle path (default: <archive>.bundle)")
	cmd.Flags().UintSlice("ids", nil, "record ids to export (default: failed ids of the last run)")
	return cmd
}

// resolveSpans maps record ids to their index entries. Entries are
// sorted by id, and ids are dense from 0, so this is direct addressing
// with a sanity check.
func resolveSpans(idx *index.Index, ids []uint32) ([]index.Span, error) {
	spans := make([]index.Span, 0, len(ids))
	for _, id := range ids {
		if int(id) >= len(idx.Entries) || idx.Entries[id].ID != id {
			return nil, fmt.Errorf("id %d not in index (%d entries)", id, len(idx.Entries))
		}
		spans = append(spans, idx.Entries[id])
	}
	return spans, nil
}

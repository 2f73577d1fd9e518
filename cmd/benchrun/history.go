package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/weiihann/benchrun/history"
)

func newHistoryCmd(logger *slog.Logger) *cobra.Command {
	var (
		historyPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded target runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showHistory(cmd.Context(), logger, cmd.OutOrStdout(), historyPath, limit)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&historyPath, "history", defaultHistoryPath(),
		"SQLite file recording every target run")
	flags.IntVar(&limit, "limit", 20,
		"Maximum number of runs to show (0 = all)")

	return cmd
}

func showHistory(
	ctx context.Context,
	logger *slog.Logger,
	w io.Writer,
	path string,
	limit int,
) error {
	store, err := history.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	logger.DebugContext(ctx, "loaded history",
		slog.String("path", path),
		slog.Int("runs", len(records)),
	)

	return writeHistory(w, records, time.Now())
}

func writeHistory(w io.Writer, records []*history.Record, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tSTARTED\tDURATION\tOUTCOME\tBENCHMARKS\tERROR")

	for _, rec := range records {
		errText := "-"
		if rec.Outcome == history.OutcomeFailed {
			errText = rec.ErrorKind
			if rec.ErrorKind == "target-failed" {
				errText = fmt.Sprintf("%s (exit %d)", rec.ErrorKind, rec.ExitCode)
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID.String()[:8],
			rec.Target,
			humanize.RelTime(rec.StartedAt, now, "ago", "from now"),
			rec.Duration().Round(time.Millisecond),
			rec.Outcome,
			rec.Benchmarks,
			errText,
		)
	}

	return tw.Flush()
}

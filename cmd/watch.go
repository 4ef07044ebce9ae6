package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"cdr.dev/slog/v3"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/eventlog"
	"github.com/fakeyudi/fgtrace/internal/report"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print today's totals again whenever the event log changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		tr, log, err := newTracker(ctx)
		if err != nil {
			return err
		}

		refresh := func(ctx context.Context) {
			out, err := tr.ByRelativeDay(ctx, 0)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error(ctx, "query failed", slog.Error(err))
				}
				return
			}
			rep := report.New("day", []usage.Outcome{out}, tr.Clock.Now())
			rep.Warnings = append(rep.Warnings, skippedWarnings(log)...)
			fmt.Fprintf(cmd.OutOrStdout(), "── %s ──\n", tr.Clock.Now().In(tr.Location).Format("15:04:05"))
			printReport(cmd.OutOrStdout(), rep, tr.Location)
		}

		refresh(ctx)
		logger.Debug(ctx, "watching event log", slog.F("path", cfg.EventLog))
		return eventlog.Watch(ctx, cfg.EventLog, watchDebounce, logger.Named("watch"), refresh)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", eventlog.DefaultDebounce, "wait this long for writes to settle")
	rootCmd.AddCommand(watchCmd)
}

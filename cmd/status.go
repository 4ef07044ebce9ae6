package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/eventlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the event log and device status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		log := eventlog.Open(cfg.EventLog)
		log.Logger = logger.Named("eventlog")
		fmt.Fprintf(out, "Event log: %s (%s)\n", cfg.EventLog, log.Format)

		events, err := log.Events(ctx, time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
		switch {
		case errors.Is(err, eventlog.ErrNoLog):
			fmt.Fprintln(out, "Events: (log not found)")
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "Events: %d\n", len(events))
			if len(events) > 0 {
				first, last := events[0].Timestamp, events[0].Timestamp
				for _, e := range events {
					if e.Timestamp.Before(first) {
						first = e.Timestamp
					}
					if e.Timestamp.After(last) {
						last = e.Timestamp
					}
				}
				fmt.Fprintf(out, "Range: %s to %s\n", first.Format(time.RFC3339), last.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Skipped lines: %d\n", len(log.Skipped()))
		}

		switch {
		case cfg.Device != "":
			procs, err := newADB().ForegroundProcesses(ctx)
			if err != nil {
				fmt.Fprintf(out, "Device: %s (unavailable: %v)\n", cfg.Device, err)
			} else {
				fmt.Fprintf(out, "Device: %s (%d in foreground)\n", cfg.Device, len(procs))
			}
		case cfg.SnapshotFile != "":
			fmt.Fprintf(out, "Device: none, snapshot file %s\n", cfg.SnapshotFile)
		default:
			fmt.Fprintln(out, "Device: none")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

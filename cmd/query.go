package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/report"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

var (
	queryStart   string
	queryEnd     string
	queryDaysAgo int
	queryFrom    string
	queryDay     string
	queryOutput  string
	queryFormat  string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Reconstruct foreground intervals for one time window",
	Long: `Reconstruct foreground intervals for one time window.

Without flags the current day is queried. Times are RFC3339 or epoch
milliseconds; days are epoch days or YYYY-MM-DD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tr, log, err := newTracker(ctx)
		if err != nil {
			return err
		}

		var (
			out  usage.Outcome
			kind = "window"
		)
		switch {
		case queryStart != "" || queryEnd != "":
			if queryStart == "" || queryEnd == "" {
				return errors.New("--start and --end must be given together")
			}
			start, err := parseTime(queryStart, tr.Location)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := parseTime(queryEnd, tr.Location)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			out, err = tr.ByTimestamps(ctx, start, end)
			if err != nil {
				return err
			}
		case queryFrom != "":
			start, err := parseTime(queryFrom, tr.Location)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			out, err = tr.ByPartialDay(ctx, start)
			if err != nil {
				return err
			}
		case queryDay != "":
			day, err := parseDay(queryDay, tr.Location)
			if err != nil {
				return fmt.Errorf("--day: %w", err)
			}
			kind = "day"
			out, err = tr.ByDay(ctx, day)
			if err != nil {
				return err
			}
		default:
			if queryDaysAgo < 0 {
				return errors.New("--days-ago must not be negative")
			}
			kind = "day"
			out, err = tr.ByRelativeDay(ctx, queryDaysAgo)
			if err != nil {
				return err
			}
		}

		rep := report.New(kind, []usage.Outcome{out}, tr.Clock.Now())
		rep.Device = cfg.Device
		rep.Timezone = tr.Location.String()
		rep.Warnings = append(rep.Warnings, skippedWarnings(log)...)

		if queryOutput == "" {
			printReport(cmd.OutOrStdout(), rep, tr.Location)
			return nil
		}

		format := queryFormat
		if format == "" {
			format = formatFor(queryOutput)
		}
		renderer, _, err := report.RendererFor(format, tr.Location)
		if err != nil {
			return err
		}
		data, err := renderer.Render(rep)
		if err != nil {
			return fmt.Errorf("rendering report: %w", err)
		}
		if err := report.WriteFile(queryOutput, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Report written to %s\n", queryOutput)
		return nil
	},
}

// formatFor picks a report format from an output file name, falling back to
// the configured format.
func formatFor(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "json"
	case ".csv":
		return "csv"
	case ".md":
		return "markdown"
	}
	return cfg.Format
}

// parseTime accepts RFC3339, a local "2006-01-02 15:04[:05]" or epoch
// milliseconds.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}

// parseDay accepts an epoch day number or a YYYY-MM-DD date in loc.
func parseDay(s string, loc *time.Location) (int64, error) {
	if day, err := strconv.ParseInt(s, 10, 64); err == nil {
		return day, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q as a day", s)
	}
	return usage.EpochDay(t, loc), nil
}

func init() {
	queryCmd.Flags().StringVar(&queryStart, "start", "", "window start (RFC3339 or epoch ms)")
	queryCmd.Flags().StringVar(&queryEnd, "end", "", "window end, exclusive (RFC3339 or epoch ms)")
	queryCmd.Flags().IntVar(&queryDaysAgo, "days-ago", 0, "query the calendar day N days before today")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "query from this time to the end of its day")
	queryCmd.Flags().StringVar(&queryDay, "day", "", "query one calendar day (epoch day or YYYY-MM-DD)")
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "", "write a report file instead of printing")
	queryCmd.Flags().StringVar(&queryFormat, "format", "", "report format: markdown, json or csv")
	rootCmd.AddCommand(queryCmd)
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/report"
	"github.com/fakeyudi/fgtrace/internal/tui"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View a report file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		parser, err := report.ParserFor(path)
		if err != nil {
			return err
		}
		rep, err := parser.Parse(data)
		if err != nil {
			return err
		}

		loc, err := location()
		if err != nil {
			return err
		}

		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			printReport(cmd.OutOrStdout(), rep, loc)
			return nil
		}
		return tui.Run(rep, path, loc)
	},
}

// printReport writes a plain-text rendition of rep to w.
func printReport(w io.Writer, rep *report.Report, loc *time.Location) {
	stamp := func(t time.Time) string { return t.In(loc).Format("2006-01-02 15:04:05") }

	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Period:     %s to %s\n", stamp(rep.Period.Start), stamp(rep.Period.End))
	if rep.Device != "" {
		fmt.Fprintf(w, "  Device:     %s\n", rep.Device)
	}
	fmt.Fprintf(w, "  Total:      %s\n", report.FormatDuration(rep.Total()))
	fmt.Fprintf(w, "  Intervals:  %d\n", len(rep.Intervals))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Apps")
	if len(rep.Apps) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		width := 0
		for _, a := range rep.Apps {
			if len(a.App) > width {
				width = len(a.App)
			}
		}
		for _, a := range rep.Apps {
			fmt.Fprintf(w, "  %-*s  %9s  %3d  %5.1f%%\n", width, a.App, report.FormatDuration(a.Total), a.Sessions, a.Percentage)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Intervals")
	if len(rep.Intervals) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, iv := range rep.Intervals {
			fmt.Fprintf(w, "  %s  %s  %9s  %s\n", stamp(iv.Start), stamp(iv.End), report.FormatDuration(iv.Duration()), iv.App)
		}
	}
	fmt.Fprintln(w)

	if len(rep.Anomalies) > 0 {
		fmt.Fprintln(w, "## Anomalies")
		counts := rep.ScenarioCounts()
		scenarios := make([]string, 0, len(counts))
		for s := range counts {
			scenarios = append(scenarios, string(s))
		}
		sort.Strings(scenarios)
		for _, s := range scenarios {
			fmt.Fprintf(w, "  %-24s %d\n", s, counts[usage.Scenario(s)])
		}
		fmt.Fprintln(w)
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintln(w, "## Warnings")
		for _, warn := range rep.Warnings {
			fmt.Fprintf(w, "  %s\n", warn)
		}
		fmt.Fprintln(w)
	}
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}

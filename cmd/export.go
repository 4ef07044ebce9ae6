package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/report"
)

var (
	exportDays      int
	exportFormat    string
	exportOutputDir string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a report covering today and the previous N days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tr, log, err := newTracker(ctx)
		if err != nil {
			return err
		}

		days := exportDays
		if days == 0 {
			days = cfg.BacklogDays
		}
		if days < 0 {
			return errors.New("--days must not be negative")
		}

		today := tr.Today()
		outcomes, err := tr.Days(ctx, today-int64(days), today)
		if err != nil {
			return err
		}

		now := tr.Clock.Now()
		rep := report.New("backlog", outcomes, now)
		rep.Device = cfg.Device
		rep.Timezone = tr.Location.String()
		rep.Warnings = append(rep.Warnings, skippedWarnings(log)...)

		format := exportFormat
		if format == "" {
			format = cfg.Format
		}
		renderer, ext, err := report.RendererFor(format, tr.Location)
		if err != nil {
			return err
		}
		data, err := renderer.Render(rep)
		if err != nil {
			return fmt.Errorf("rendering report: %w", err)
		}

		outDir := exportOutputDir
		if outDir == "" {
			outDir = cfg.OutputDir
		}
		path := filepath.Join(outDir, report.FileName(now.In(tr.Location), ext))
		if err := report.WriteFile(path, data); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ %d days, %d intervals, %s of foreground time\n",
			len(outcomes), len(rep.Intervals), report.FormatDuration(rep.Total()))
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Report written to %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "number of days before today to include (default from config)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "report format: markdown, json or csv")
	exportCmd.Flags().StringVar(&exportOutputDir, "output-dir", "", "directory to write the report to")
	rootCmd.AddCommand(exportCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/charmbracelet/x/term"
	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/config"
	"github.com/fakeyudi/fgtrace/internal/device"
	"github.com/fakeyudi/fgtrace/internal/eventlog"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is built in PersistentPreRunE and writes to stderr.
var logger slog.Logger

// Global flag values; they override the config files when set.
var (
	flagEventLog string
	flagDevice   string
	flagTimezone string
	flagVerbose  bool
)

// Test seams: the clock used for "now" and the adb runner.
var (
	clock     quartz.Clock = quartz.NewReal()
	adbRunner device.Runner
)

var rootCmd = &cobra.Command{
	Use:          "fgtrace",
	Short:        "Reconstruct app foreground time from Android usage event logs",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		logger = slog.Make(sloghuman.Sink(cmd.ErrOrStderr())).Leveled(level)

		// First run: no global config → run the setup wizard, but only when
		// stdin is an interactive terminal.
		if cmd.Name() != "setup" && !config.GlobalExists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to fgtrace! Looks like this is your first time.")
			if err := runSetup(cmd); err != nil {
				return err
			}
		}

		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)

		if flagEventLog != "" {
			cfg.EventLog = flagEventLog
		}
		if flagDevice != "" {
			cfg.Device = flagDevice
		}
		if flagTimezone != "" {
			cfg.Timezone = flagTimezone
		}
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// location resolves the configured time zone.
func location() (*time.Location, error) {
	switch cfg.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return loc, nil
}

// newADB returns the configured device, or nil when none is set. The
// special serial "adb" selects the only attached device.
func newADB() *device.ADB {
	if cfg.Device == "" {
		return nil
	}
	serial := cfg.Device
	if serial == "adb" {
		serial = ""
	}
	return &device.ADB{Serial: serial, Runner: adbRunner}
}

// snapshotSource returns where live foreground snapshots come from, or nil.
func snapshotSource() usage.SnapshotSource {
	if adb := newADB(); adb != nil {
		return adb
	}
	if cfg.SnapshotFile != "" {
		return device.StaticSnapshot{Path: cfg.SnapshotFile}
	}
	return nil
}

// newTracker wires the event log, snapshot source and package list from the
// merged configuration.
func newTracker(ctx context.Context) (*usage.Tracker, *eventlog.File, error) {
	loc, err := location()
	if err != nil {
		return nil, nil, err
	}

	log := eventlog.Open(cfg.EventLog)
	log.Logger = logger.Named("eventlog")

	tr := &usage.Tracker{
		Events:      log,
		Snapshot:    snapshotSource(),
		Clock:       clock,
		Location:    loc,
		Tolerance:   time.Duration(cfg.SnapshotToleranceMS) * time.Millisecond,
		Lookback:    time.Duration(cfg.LookbackHours) * time.Hour,
		Parallelism: 4,
		Logger:      logger.Named("usage"),
	}

	switch {
	case cfg.Device != "":
		// Only a query that reaches the present needs the package list.
		adb := newADB()
		tr.LoadPackages = func(ctx context.Context) (usage.PackageResolver, error) {
			pkgs, err := adb.LaunchablePackages(ctx)
			if err != nil {
				return nil, err
			}
			return pkgs, nil
		}
	case cfg.Launchable != "":
		pkgs, err := device.LoadPackageSet(cfg.Launchable)
		if err != nil {
			return nil, nil, err
		}
		tr.Packages = pkgs
	}
	return tr, log, nil
}

// skippedWarnings turns the malformed lines of the event log into report
// warnings.
func skippedWarnings(log *eventlog.File) []string {
	skipped := log.Skipped()
	if len(skipped) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("skipped %d malformed event log lines (first: %v)", len(skipped), skipped[0])}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEventLog, "log", "", "usage event log file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDevice, "device", "", "adb device serial, \"adb\" for the only device")
	rootCmd.PersistentFlags().StringVar(&flagTimezone, "tz", "", "time zone for calendar days (IANA name or Local)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log reconciliation details")
}

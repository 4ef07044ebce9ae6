package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/eventlog"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

var recordAt string

var recordCmd = &cobra.Command{
	Use:   "record <opened|closed|shutdown|startup|code> [package] [class]",
	Short: "Append one usage event to the event log",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := location()
		if err != nil {
			return err
		}
		at := clock.Now()
		if recordAt != "" {
			at, err = parseTime(recordAt, loc)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
		}

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}

		var c usage.Component
		if len(args) > 1 {
			c.App = args[1]
		}
		if len(args) > 2 {
			c.Class = args[2]
		}

		var ev usage.Event
		switch kind {
		case usage.KindOpened, usage.KindClosed:
			if c.App == "" {
				return fmt.Errorf("%s events need a package", kind)
			}
			ev = usage.Event{Kind: kind, Component: c, Timestamp: at}
		case usage.KindDeviceShutdown:
			ev = usage.DeviceShutdown(at)
		case usage.KindDeviceStartup:
			ev = usage.DeviceStartup(at)
		}

		if err := eventlog.Append(cfg.EventLog, ev); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s\n", ev)
		return nil
	},
}

// parseKind accepts an event name or a raw usage event type code.
func parseKind(s string) (usage.Kind, error) {
	switch strings.ToLower(s) {
	case "opened", "open", "resumed":
		return usage.KindOpened, nil
	case "closed", "close", "paused", "stopped":
		return usage.KindClosed, nil
	case "shutdown":
		return usage.KindDeviceShutdown, nil
	case "startup":
		return usage.KindDeviceStartup, nil
	}
	if code, err := strconv.Atoi(s); err == nil {
		if k := usage.KindFromCode(code); k != usage.KindUnknown {
			return k, nil
		}
		return usage.KindUnknown, fmt.Errorf("event type %d is not tracked", code)
	}
	return usage.KindUnknown, fmt.Errorf("unknown event %q", s)
}

func init() {
	recordCmd.Flags().StringVar(&recordAt, "at", "", "event time (default now)")
	rootCmd.AddCommand(recordCmd)
}

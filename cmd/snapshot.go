package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/device"
)

var (
	snapshotSave       string
	snapshotLaunchable string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the processes currently in the foreground on the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src := snapshotSource()
		if src == nil {
			return errors.New("no device or snapshot file configured (use --device)")
		}

		procs, err := src.ForegroundProcesses(ctx)
		if err != nil {
			return fmt.Errorf("foreground snapshot: %w", err)
		}
		if len(procs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(nothing in the foreground)")
		}
		for _, p := range procs {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}

		if snapshotSave != "" {
			if err := device.WriteSnapshot(snapshotSave, procs, clock.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Snapshot saved to %s\n", snapshotSave)
		}

		if snapshotLaunchable != "" {
			adb := newADB()
			if adb == nil {
				return errors.New("--launchable needs a device")
			}
			pkgs, err := adb.LaunchablePackages(ctx)
			if err != nil {
				return fmt.Errorf("launchable packages: %w", err)
			}
			if err := device.WriteNames(snapshotLaunchable, pkgs.Names()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d launchable packages saved to %s\n", len(pkgs), snapshotLaunchable)
		}
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotSave, "save", "", "also write the snapshot to this file for offline queries")
	snapshotCmd.Flags().StringVar(&snapshotLaunchable, "launchable", "", "also write the launchable package list to this file")
	rootCmd.AddCommand(snapshotCmd)
}

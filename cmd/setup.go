package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/fgtrace/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure fgtrace (re-run anytime to edit settings)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd)
	},
}

// runSetup runs the interactive setup wizard and saves the global config.
func runSetup(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	// Load the existing global config as defaults if present.
	var existing *config.Config
	if config.GlobalExists() {
		c, err := config.LoadGlobal()
		if err == nil {
			existing = c
		}
	}

	c, err := config.RunSetup(cmd.InOrStdin(), out, existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	path, err := config.SaveGlobal(c)
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(out, "  ✓ Config saved to %s\n", path)
	fmt.Fprintln(out, "  Setup complete. Run 'fgtrace query' to see today's usage.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

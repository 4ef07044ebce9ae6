package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// GlobalExists reports whether a global config file is present on disk.
func GlobalExists() bool {
	dir, err := GlobalDir()
	if err != nil {
		return false
	}
	for _, name := range []string{"config.toml", "config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// SaveGlobal writes cfg to config.toml in GlobalDir, creating the directory
// if needed, and returns the path written.
func SaveGlobal(cfg *Config) (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.toml")
	return path, os.WriteFile(path, data, 0o644)
}

// RunSetup runs the interactive setup wizard, reading answers from in and
// writing prompts to out. If existing is non-nil, it is used as the default
// for each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Config) (*Config, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	askInt := func(prompt string, defaultVal int) (int, error) {
		for {
			ans, err := ask(prompt, strconv.Itoa(defaultVal))
			if err != nil {
				return 0, err
			}
			n, err := strconv.Atoi(ans)
			if err == nil && n > 0 {
				return n, nil
			}
			fmt.Fprintln(out, "  Please enter a positive number.")
		}
	}

	cfg := Defaults()
	if existing != nil {
		cfg = *existing
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │   fgtrace: first-time setup     │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	cfg.EventLog, err = ask("  Usage event log file", cfg.EventLog)
	if err != nil {
		return nil, err
	}

	cfg.Device, err = ask("  adb device serial (\"adb\" for the only device, empty for none)", cfg.Device)
	if err != nil {
		return nil, err
	}
	if cfg.Device == "" {
		cfg.SnapshotFile, err = ask("  Captured foreground snapshot file (optional)", cfg.SnapshotFile)
		if err != nil {
			return nil, err
		}
		cfg.Launchable, err = ask("  Launchable package list file (optional)", cfg.Launchable)
		if err != nil {
			return nil, err
		}
	}

	cfg.Timezone, err = ask("  Time zone (IANA name or Local)", cfg.Timezone)
	if err != nil {
		return nil, err
	}

	format, err := ask("  Default report format (markdown/json/csv)", cfg.Format)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json", "csv":
		cfg.Format = format
	default:
		cfg.Format = "markdown"
	}

	cfg.OutputDir, err = ask("  Default output directory", cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	cfg.BacklogDays, err = askInt("  Days to export", cfg.BacklogDays)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return &cfg, nil
}

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configurable fgtrace settings.
type Config struct {
	EventLog     string `json:"event_log" toml:"event_log"`         // exported usage event log
	Device       string `json:"device" toml:"device"`               // adb serial, "adb" for the only device
	Launchable   string `json:"launchable" toml:"launchable"`       // package list file used when no device is set
	SnapshotFile string `json:"snapshot_file" toml:"snapshot_file"` // captured foreground snapshot
	Timezone     string `json:"timezone" toml:"timezone"`           // IANA name, "Local" by default
	Format       string `json:"format" toml:"format"`               // "markdown" | "json" | "csv"
	OutputDir    string `json:"output_dir" toml:"output_dir"`

	SnapshotToleranceMS int `json:"snapshot_tolerance_ms" toml:"snapshot_tolerance_ms"`
	LookbackHours       int `json:"lookback_hours" toml:"lookback_hours"`
	BacklogDays         int `json:"backlog_days" toml:"backlog_days"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		EventLog:            "usage-events.tsv",
		Timezone:            "Local",
		Format:              "markdown",
		OutputDir:           ".",
		SnapshotToleranceMS: 1500,
		LookbackHours:       24,
		BacklogDays:         14,
	}
}

// GlobalDir returns $XDG_CONFIG_HOME/fgtrace, falling back to
// ~/.config/fgtrace.
func GlobalDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "fgtrace"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fgtrace"), nil
}

// LoadGlobal reads config.toml or, failing that, config.json from GlobalDir.
// Returns defaults if neither file is present.
func LoadGlobal() (*Config, error) {
	dir, err := GlobalDir()
	if err != nil {
		return nil, err
	}
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return loadFile(tomlPath, true)
	}
	return loadFile(filepath.Join(dir, "config.json"), true)
}

// LoadProject reads .fgtraceconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".fgtraceconfig", false)
}

// loadFile reads and parses a config file at path. Files ending in .toml are
// TOML, everything else JSON.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	overlay(&result, global)
	overlay(&result, project)
	return result
}

// overlay copies the set fields of src over dst.
func overlay(dst, src *Config) {
	if src == nil {
		return
	}
	setString(&dst.EventLog, src.EventLog)
	setString(&dst.Device, src.Device)
	setString(&dst.Launchable, src.Launchable)
	setString(&dst.SnapshotFile, src.SnapshotFile)
	setString(&dst.Timezone, src.Timezone)
	setString(&dst.Format, src.Format)
	setString(&dst.OutputDir, src.OutputDir)
	setInt(&dst.SnapshotToleranceMS, src.SnapshotToleranceMS)
	setInt(&dst.LookbackHours, src.LookbackHours)
	setInt(&dst.BacklogDays, src.BacklogDays)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

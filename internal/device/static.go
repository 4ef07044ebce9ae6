package device

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// capturedHeader prefixes the capture time line written by WriteSnapshot.
const capturedHeader = "# captured-at: "

// StaticSnapshot serves a foreground snapshot captured earlier to a file,
// one process name per line. Blank lines and '#' comments are ignored.
//
// It implements usage.CapturedSnapshot, so it only counts for windows that
// end at its capture time.
type StaticSnapshot struct {
	Path string
}

// CapturedAt returns the time recorded in the file's capture header, or the
// file's modification time when there is none.
func (s StaticSnapshot) CapturedAt(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			break
		}
		if v, ok := strings.CutPrefix(line, capturedHeader); ok {
			at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
			if err != nil {
				return time.Time{}, fmt.Errorf("%s: bad capture time %q: %w", s.Path, v, err)
			}
			return at, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", s.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return info.ModTime(), nil
}

// ForegroundProcesses implements usage.SnapshotSource.
func (s StaticSnapshot) ForegroundProcesses(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readNames(s.Path)
}

// LoadPackageSet reads a launchable package list, one name per line.
func LoadPackageSet(path string) (PackageSet, error) {
	names, err := readNames(path)
	if err != nil {
		return nil, err
	}
	return NewPackageSet(names...), nil
}

// WriteSnapshot writes a foreground snapshot taken at at, replacing path.
func WriteSnapshot(path string, procs []string, at time.Time) error {
	return writeLines(path, capturedHeader+at.Format(time.RFC3339Nano), procs)
}

// WriteNames writes names one per line, replacing path.
func WriteNames(path string, names []string) error {
	return writeLines(path, "", names)
}

func writeLines(path, header string, names []string) error {
	var sb strings.Builder
	if header != "" {
		sb.WriteString(header)
		sb.WriteByte('\n')
	}
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	names := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return names, nil
}

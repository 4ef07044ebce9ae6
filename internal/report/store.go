package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName returns the default report file name for a report generated at t.
func FileName(t time.Time, ext string) string {
	return "fgtrace-" + t.Format("2006-01-02") + ext
}

// WriteFile writes data to path atomically via a temp file + os.Rename,
// creating the parent directory if needed.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(dir, ".fgtrace-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

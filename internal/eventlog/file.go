package eventlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cdr.dev/slog/v3"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

// ErrNoLog is returned when the event log file does not exist.
var ErrNoLog = errors.New("event log not found")

// File is a usage.EventSource backed by an exported event log on disk. The
// parsed log is cached until the file's size or modification time changes,
// so repeated lookback scans do not re-read it. Safe for concurrent use.
type File struct {
	Path   string
	Format Format
	// Strict turns the first malformed line into an error instead of
	// skipping it.
	Strict bool
	Logger slog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	events  []usage.Event
	skipped []*LineError
}

// Open returns a File for path, picking the format from its extension.
func Open(path string) *File {
	return &File{Path: path, Format: FormatFor(path)}
}

// Events returns the events with start <= timestamp < end in file order.
// The order is not repaired: adjacent swaps are left for the reconciler.
func (f *File) Events(ctx context.Context, start, end time.Time) ([]usage.Event, error) {
	all, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []usage.Event
	for _, e := range all {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Skipped returns the malformed lines of the last parse.
func (f *File) Skipped() []*LineError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*LineError(nil), f.skipped...)
}

func (f *File) load(ctx context.Context) ([]usage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoLog, f.Path)
		}
		return nil, fmt.Errorf("stat event log: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.events, nil
	}

	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer r.Close()

	events, skipped, err := Parse(r, f.Format)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if len(skipped) > 0 {
		if f.Strict {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(f.Path), skipped[0])
		}
		f.Logger.Warn(ctx, "skipped malformed event log lines",
			slog.F("path", f.Path),
			slog.F("count", len(skipped)),
			slog.F("first", skipped[0].Error()),
		)
	}
	if events == nil {
		events = []usage.Event{}
	}
	f.events, f.skipped = events, skipped
	f.modTime, f.size = info.ModTime(), info.Size()
	return events, nil
}

// Append adds events to the log at path, creating it and its directory if
// needed.
func Append(path string, events ...usage.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating event log directory: %w", err)
	}
	w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if err := Encode(w, FormatFor(path), events...); err != nil {
		w.Close()
		return fmt.Errorf("write event log: %w", err)
	}
	return w.Close()
}

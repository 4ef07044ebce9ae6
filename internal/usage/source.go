package usage

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable is returned when an event or snapshot source cannot be
// queried. Reconciliation aborts without a partial result.
var ErrSourceUnavailable = errors.New("source unavailable")

// EventSource yields lifecycle events with start <= Timestamp < end, in the
// order they were logged. Timestamps are non-decreasing except that adjacent
// Opened/Closed events of the same component may be swapped.
type EventSource interface {
	Events(ctx context.Context, start, end time.Time) ([]Event, error)
}

// SnapshotSource reports process names currently in the foreground. Names may
// carry a suffix (e.g. "com.example:remote"), so callers match by substring.
type SnapshotSource interface {
	ForegroundProcesses(ctx context.Context) ([]string, error)
}

// CapturedSnapshot is a SnapshotSource recorded at a fixed time rather than
// read live. Its processes describe the foreground at CapturedAt only.
type CapturedSnapshot interface {
	SnapshotSource
	CapturedAt(ctx context.Context) (time.Time, error)
}

// PackageResolver reports whether name is an installed package with a
// launcher entry point.
type PackageResolver interface {
	IsInstalledLaunchable(name string) bool
}

// PackageResolverFunc adapts a plain predicate to PackageResolver.
type PackageResolverFunc func(name string) bool

func (f PackageResolverFunc) IsInstalledLaunchable(name string) bool {
	return f(name)
}

// PackageLoader fetches a PackageResolver on first use.
type PackageLoader func(ctx context.Context) (PackageResolver, error)

// SourceError records which source failed. It matches ErrSourceUnavailable
// with errors.Is.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return e.Source + " unavailable: " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

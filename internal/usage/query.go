package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"
)

// DefaultSnapshotTolerance is how close to now a query must end for the
// foreground snapshot to be considered valid for it.
const DefaultSnapshotTolerance = 1500 * time.Millisecond

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Outcome is the result of one tracker query.
type Outcome struct {
	Window    Window
	Intervals []Interval
	Anomalies []Anomaly
	// SnapshotUsed reports whether a foreground snapshot was taken.
	SnapshotUsed bool
}

// Tracker resolves calendar queries to windows and reconciles them.
type Tracker struct {
	Events EventSource
	// Snapshot is optional. Without it, pending opens at the end of a query
	// are always treated as faulty.
	Snapshot SnapshotSource
	Packages PackageResolver
	// LoadPackages is used when Packages is nil. It runs at most once, and
	// only for a query that took a non-empty snapshot.
	LoadPackages PackageLoader

	Clock     quartz.Clock
	Location  *time.Location
	Tolerance time.Duration
	Lookback  time.Duration
	// Parallelism bounds concurrent lookback scans and per-day queries.
	// Values below 2 keep everything sequential.
	Parallelism int

	Logger slog.Logger

	pkgMu     sync.Mutex
	pkgLoaded PackageResolver
}

func (t *Tracker) clock() quartz.Clock {
	if t.Clock == nil {
		return quartz.NewReal()
	}
	return t.Clock
}

func (t *Tracker) location() *time.Location {
	if t.Location == nil {
		return time.Local
	}
	return t.Location
}

func (t *Tracker) tolerance() time.Duration {
	if t.Tolerance <= 0 {
		return DefaultSnapshotTolerance
	}
	return t.Tolerance
}

// ByTimestamps reconciles the window [start, end).
func (t *Tracker) ByTimestamps(ctx context.Context, start, end time.Time) (Outcome, error) {
	if end.Before(start) {
		return Outcome{}, fmt.Errorf("invalid window: end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	w := Window{Start: start, End: end}
	now := t.clock().Now()

	// The snapshot only describes the instant it was taken, so take it first
	// and only when the window reaches that instant.
	var foreground []string
	snapshotUsed := false
	if t.Snapshot != nil {
		ok, err := t.snapshotCovers(ctx, end, now)
		if err != nil {
			return Outcome{}, unavailable("foreground snapshot", err)
		}
		if ok {
			procs, err := t.Snapshot.ForegroundProcesses(ctx)
			if err != nil {
				return Outcome{}, unavailable("foreground snapshot", err)
			}
			foreground = procs
			snapshotUsed = true
		}
	}

	packages := t.Packages
	if packages == nil && len(foreground) > 0 && t.LoadPackages != nil {
		loaded, err := t.packages(ctx)
		if err != nil {
			return Outcome{}, err
		}
		packages = loaded
	}

	events, err := t.Events.Events(ctx, start, end)
	if err != nil {
		return Outcome{}, unavailable("event log", err)
	}

	var verifier Verifier = &Guardian{
		Source:   t.Events,
		Lookback: t.Lookback,
		Logger:   t.Logger.Named("guardian"),
	}
	if t.Parallelism > 1 {
		verifier, err = Prefetch(ctx, verifier, events, start, t.Parallelism)
		if err != nil {
			return Outcome{}, err
		}
	}

	r := &Reconciler{Verifier: verifier, Logger: t.Logger.Named("reconcile")}
	res, err := r.Reconcile(ctx, Input{
		Events:     events,
		Start:      start,
		End:        end,
		Now:        now,
		Foreground: foreground,
		Packages:   packages,
	})
	if err != nil {
		return Outcome{}, err
	}
	t.Logger.Debug(ctx, "reconciled window",
		slog.F("start", start),
		slog.F("end", end),
		slog.F("events", len(events)),
		slog.F("intervals", len(res.Intervals)),
		slog.F("anomalies", len(res.Anomalies)),
		slog.F("snapshot", snapshotUsed),
	)
	return Outcome{
		Window:       w,
		Intervals:    res.Intervals,
		Anomalies:    res.Anomalies,
		SnapshotUsed: snapshotUsed,
	}, nil
}

// snapshotCovers reports whether the snapshot describes the end of a window
// ending at end. A live snapshot describes now; a captured one describes its
// capture time, which must lie within the tolerance of min(end, now).
func (t *Tracker) snapshotCovers(ctx context.Context, end, now time.Time) (bool, error) {
	captured, ok := t.Snapshot.(CapturedSnapshot)
	if !ok {
		return !end.Before(now.Add(-t.tolerance())), nil
	}
	at, err := captured.CapturedAt(ctx)
	if err != nil {
		return false, err
	}
	ref := now
	if end.Before(now) {
		ref = end
	}
	d := at.Sub(ref)
	if d < 0 {
		d = -d
	}
	if d > t.tolerance() {
		t.Logger.Debug(ctx, "ignoring captured snapshot",
			slog.F("captured_at", at),
			slog.F("window_end", ref),
		)
		return false, nil
	}
	return true, nil
}

func (t *Tracker) packages(ctx context.Context) (PackageResolver, error) {
	t.pkgMu.Lock()
	defer t.pkgMu.Unlock()
	if t.pkgLoaded != nil {
		return t.pkgLoaded, nil
	}
	pkgs, err := t.LoadPackages(ctx)
	if err != nil {
		return nil, unavailable("launchable packages", err)
	}
	t.pkgLoaded = pkgs
	return pkgs, nil
}

// ByRelativeDay reconciles the local calendar day offset days before today.
func (t *Tracker) ByRelativeDay(ctx context.Context, offset int) (Outcome, error) {
	w := RelativeDayWindow(t.clock().Now(), t.location(), offset)
	return t.ByTimestamps(ctx, w.Start, w.End)
}

// ByPartialDay reconciles from start to the end of start's local day.
func (t *Tracker) ByPartialDay(ctx context.Context, start time.Time) (Outcome, error) {
	w := PartialDayWindow(start, t.location())
	return t.ByTimestamps(ctx, w.Start, w.End)
}

// ByDay reconciles the full local day with the given epoch day index.
func (t *Tracker) ByDay(ctx context.Context, day int64) (Outcome, error) {
	w := DayWindow(day, t.location())
	return t.ByTimestamps(ctx, w.Start, w.End)
}

// Days reconciles every epoch day in [from, to], ordered by day. Days are
// independent and run concurrently up to Parallelism.
func (t *Tracker) Days(ctx context.Context, from, to int64) ([]Outcome, error) {
	if to < from {
		return nil, fmt.Errorf("invalid day range: %d..%d", from, to)
	}
	out := make([]Outcome, to-from+1)

	eg, egCtx := errgroup.WithContext(ctx)
	limit := t.Parallelism
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)
	for i := range out {
		day := from + int64(i)
		eg.Go(func() error {
			o, err := t.ByDay(egCtx, day)
			if err != nil {
				return fmt.Errorf("day %s: %w", DayWindow(day, t.location()).Start.Format(time.DateOnly), err)
			}
			out[i] = o
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Today returns the epoch day index of now in the tracker's location.
func (t *Tracker) Today() int64 {
	return EpochDay(t.clock().Now(), t.location())
}

// DayWindow returns the local calendar day with the given epoch day index.
func DayWindow(day int64, loc *time.Location) Window {
	d := time.Unix(day*86400, 0).UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// RelativeDayWindow returns the local calendar day offset days before now's.
func RelativeDayWindow(now time.Time, loc *time.Location, offset int) Window {
	n := now.In(loc)
	start := time.Date(n.Year(), n.Month(), n.Day()-offset, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// PartialDayWindow returns [start, next local midnight).
func PartialDayWindow(start time.Time, loc *time.Location) Window {
	s := start.In(loc)
	end := time.Date(s.Year(), s.Month(), s.Day()+1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: end}
}

// EpochDay returns the epoch day index of t's local calendar date.
func EpochDay(t time.Time, loc *time.Location) int64 {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

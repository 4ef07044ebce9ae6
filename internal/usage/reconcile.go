package usage

import (
	"context"
	"strings"
	"time"

	"cdr.dev/slog/v3"
)

// Verifier decides whether a close event with no known open in the query had
// its open before queryStart. The reconciler passes the effective start, so
// after a device startup the lookback ends at the reboot and covers the
// earlier part of the window.
type Verifier interface {
	Verify(ctx context.Context, app string, closeAt, queryStart time.Time) (bool, error)
}

// Input is everything one reconciliation depends on. Reconcile is a pure
// function of Input and the Verifier's answers.
type Input struct {
	Events []Event
	Start  time.Time
	End    time.Time
	Now    time.Time
	// Foreground holds the foreground snapshot. It must be empty unless End
	// is within the snapshot tolerance of Now.
	Foreground []string
	// Packages guards the no-events path. A nil resolver disables it.
	Packages PackageResolver
}

// Result is the outcome of one reconciliation. Intervals are unordered.
type Result struct {
	Intervals []Interval
	Anomalies []Anomaly
}

// Reconciler turns an event stream into foreground intervals.
type Reconciler struct {
	// Verifier resolves unmatched closes. When nil every unmatched close is
	// treated as faulty.
	Verifier Verifier
	Logger   slog.Logger
}

// pass holds the mutable state of a single reconciliation.
type pass struct {
	r      *Reconciler
	in     Input
	ledger *ledger
	// effectiveStart is the earliest instant an "open since the start"
	// interval may begin. A device startup moves it forward.
	effectiveStart time.Time
	res            Result
}

// Reconcile runs one left-to-right pass over in.Events. It returns an error
// only when the verifier fails or ctx is done, in which case no partial result
// is returned.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p := &pass{
		r:              r,
		in:             in,
		ledger:         newLedger(),
		effectiveStart: in.Start,
	}
	for _, ev := range in.Events {
		if err := p.step(ctx, ev); err != nil {
			return Result{}, err
		}
	}
	p.finish(ctx)
	p.fillGap(ctx)
	return p.res, nil
}

func (p *pass) step(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindOpened:
		if ev.Component.App == "" {
			return nil
		}
		if prev, ok := p.ledger.get(ev.Component); ok && prev.open {
			p.anomaly(ctx, ScenarioDuplicateOpen, ev.Component, prev.at)
		}
		p.ledger.open(ev.Component, ev.Timestamp)
	case KindClosed:
		if ev.Component.App == "" {
			return nil
		}
		return p.close(ctx, ev)
	case KindDeviceShutdown:
		p.ledger.each(func(c Component, e ledgerEntry) {
			if !e.open {
				return
			}
			p.emit(e.at, ev.Timestamp, c.App)
			// Shutdown stops every component of the app.
			p.ledger.closeApp(c.App)
		})
	case KindDeviceStartup:
		// Open timestamps from before a reboot are meaningless.
		p.ledger.closeAll()
		p.effectiveStart = ev.Timestamp
	}
	return nil
}

func (p *pass) close(ctx context.Context, ev Event) error {
	c := ev.Component

	var begin time.Time
	if e, ok := p.ledger.get(c); ok && e.open {
		begin = e.at
		p.ledger.tombstone(c)
	} else if p.ledger.seenApp(c.App) {
		// Most likely a swapped adjacent pair; the open belongs to a
		// sibling component that is still tracked.
		p.anomaly(ctx, ScenarioDuplicateClose, c, ev.Timestamp)
		return nil
	} else {
		ok, err := p.verify(ctx, c.App, ev.Timestamp)
		if err != nil {
			return err
		}
		if !ok {
			p.anomaly(ctx, ScenarioFaultyUnmatchedClose, c, ev.Timestamp)
			return nil
		}
		p.anomaly(ctx, ScenarioTrueUnmatchedClose, c, ev.Timestamp)
		begin = p.effectiveStart
	}

	// If a sibling component came to the foreground after begin, this
	// component's time ends there rather than at the recorded close.
	end := ev.Timestamp
	if sib, ok := p.ledger.earliestOpenSince(c.App, begin); ok {
		end = sib
	}
	p.emit(begin, end, c.App)
	return nil
}

func (p *pass) verify(ctx context.Context, app string, closeAt time.Time) (bool, error) {
	if p.r.Verifier == nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.r.Verifier.Verify(ctx, app, closeAt, p.effectiveStart)
}

// finish resolves opens still pending at the end of the stream.
func (p *pass) finish(ctx context.Context) {
	until := p.until()
	p.ledger.each(func(c Component, e ledgerEntry) {
		if !e.open {
			return
		}
		if !inForeground(p.in.Foreground, c.App) {
			p.anomaly(ctx, ScenarioFaultyUnmatchedOpen, c, e.at)
			return
		}
		p.anomaly(ctx, ScenarioTrueUnmatchedOpen, c, e.at)
		p.emit(e.at, until, c.App)
	})
}

// fillGap credits apps that were in the foreground for the whole window
// without producing a single open event.
func (p *pass) fillGap(ctx context.Context) {
	if p.ledger.len() > 0 || len(p.in.Foreground) == 0 || p.in.Packages == nil {
		return
	}
	until := p.until()
	for _, proc := range p.in.Foreground {
		if proc == "" || !p.in.Packages.IsInstalledLaunchable(proc) {
			continue
		}
		p.r.Logger.Debug(ctx, "assuming app was in the foreground for the whole window",
			slog.F("app", proc),
			slog.F("start", p.effectiveStart),
			slog.F("end", until),
		)
		p.anomaly(ctx, ScenarioNoEvents, Component{App: proc}, p.effectiveStart)
		p.emit(p.effectiveStart, until, proc)
	}
}

func (p *pass) until() time.Time {
	if p.in.Now.Before(p.in.End) {
		return p.in.Now
	}
	return p.in.End
}

// emit appends an interval, clamping end so that start <= end holds even when
// swapped events or clock skew put the end first.
func (p *pass) emit(start, end time.Time, app string) {
	if end.Before(start) {
		end = start
	}
	p.res.Intervals = append(p.res.Intervals, Interval{Start: start, End: end, App: app})
}

func (p *pass) anomaly(ctx context.Context, s Scenario, c Component, at time.Time) {
	p.r.Logger.Debug(ctx, "event log anomaly",
		slog.F("scenario", s),
		slog.F("app", c.App),
		slog.F("class", c.Class),
		slog.F("at", at),
	)
	p.res.Anomalies = append(p.res.Anomalies, Anomaly{Scenario: s, Component: c, At: at})
}

// inForeground matches by substring since process names may carry a suffix.
func inForeground(procs []string, app string) bool {
	for _, proc := range procs {
		if strings.Contains(proc, app) {
			return true
		}
	}
	return false
}

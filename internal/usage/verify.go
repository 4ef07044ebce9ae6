package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/sync/errgroup"
)

// DefaultLookback is how far before the query start the Guardian scans for
// the open event of an unmatched close.
const DefaultLookback = 24 * time.Hour

// Guardian verifies unmatched close events by scanning backwards in time for
// the corresponding open.
type Guardian struct {
	Source   EventSource
	Lookback time.Duration
	Logger   slog.Logger
}

// Verify replays [queryStart-Lookback, queryStart) tracking only whether app
// is open. A device startup closes everything. A close carrying exactly
// closeAt is the event under test and is skipped.
func (g *Guardian) Verify(ctx context.Context, app string, closeAt, queryStart time.Time) (bool, error) {
	lookback := g.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	events, err := g.Source.Events(ctx, queryStart.Add(-lookback), queryStart)
	if err != nil {
		return false, unavailable("event log", err)
	}

	open := false
	for _, e := range events {
		if e.Kind == KindDeviceStartup {
			open = false
			continue
		}
		if e.Component.App != app {
			continue
		}
		switch e.Kind {
		case KindOpened:
			open = true
		case KindClosed:
			if e.Timestamp.Equal(closeAt) {
				continue
			}
			open = false
		}
	}

	verdict := "faulty"
	if open {
		verdict = "true"
	}
	g.Logger.Debug(ctx, "scanned lookback for unmatched close",
		slog.F("app", app),
		slog.F("close_at", closeAt),
		slog.F("verdict", verdict),
	)
	return open, nil
}

// unavailable wraps err as a SourceError unless it already is one.
func unavailable(source string, err error) error {
	if errors.Is(err, ErrSourceUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &SourceError{Source: source, Err: err}
}

type verifyKey struct {
	app     string
	closeAt int64
	start   int64
}

// MemoVerifier remembers verdicts of another Verifier per (app, close time,
// query start).
// It is safe for concurrent use.
type MemoVerifier struct {
	Next Verifier

	mu       sync.Mutex
	verdicts map[verifyKey]bool
}

func (m *MemoVerifier) Verify(ctx context.Context, app string, closeAt, queryStart time.Time) (bool, error) {
	key := verifyKey{app: app, closeAt: closeAt.UnixNano(), start: queryStart.UnixNano()}
	m.mu.Lock()
	v, ok := m.verdicts[key]
	m.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := m.Next.Verify(ctx, app, closeAt, queryStart)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	if m.verdicts == nil {
		m.verdicts = make(map[verifyKey]bool)
	}
	m.verdicts[key] = v
	m.mu.Unlock()
	return v, nil
}

// Candidate is a close the reconciler will have to verify, together with the
// query start it will be verified against.
type Candidate struct {
	Event
	Since time.Time
}

// UnmatchedCloseCandidates returns the closes that the reconciler will have
// to verify: closes of an app that precede the app's first open in events.
// A device startup moves Since forward for every later candidate.
func UnmatchedCloseCandidates(events []Event, queryStart time.Time) []Candidate {
	opened := make(map[string]bool)
	since := queryStart
	var out []Candidate
	for _, e := range events {
		switch e.Kind {
		case KindOpened:
			if e.Component.App != "" {
				opened[e.Component.App] = true
			}
		case KindClosed:
			if e.Component.App != "" && !opened[e.Component.App] {
				out = append(out, Candidate{Event: e, Since: since})
			}
		case KindDeviceStartup:
			since = e.Timestamp
		}
	}
	return out
}

// Prefetch verifies every unmatched close candidate concurrently, at most
// limit at a time, and returns a verifier that answers from those results.
// Each individual verification still runs sequentially.
func Prefetch(ctx context.Context, v Verifier, events []Event, queryStart time.Time, limit int) (*MemoVerifier, error) {
	memo := &MemoVerifier{Next: v}
	candidates := UnmatchedCloseCandidates(events, queryStart)
	if len(candidates) == 0 {
		return memo, nil
	}
	if limit <= 0 {
		limit = 1
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, c := range candidates {
		eg.Go(func() error {
			_, err := memo.Verify(egCtx, c.Component.App, c.Timestamp, c.Since)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return memo, nil
}

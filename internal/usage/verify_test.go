package usage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

func TestGuardianVerify(t *testing.T) {
	app := "com.example.notes"
	c := comp(app, "Editor")
	closeAt := ms(30)

	for _, tc := range []struct {
		name   string
		events sliceSource
		want   bool
	}{
		{name: "opened before start", events: sliceSource{usage.Opened(c, ms(-60_000))}, want: true},
		{name: "continued from previous day", events: sliceSource{
			{Kind: usage.KindFromCode(usage.CodeContinuePreviousDay), Component: c, Timestamp: ms(-1)},
		}, want: true},
		{name: "opened then closed", events: sliceSource{
			usage.Opened(c, ms(-60_000)),
			usage.Closed(c, ms(-50_000)),
		}, want: false},
		{name: "closed then reopened", events: sliceSource{
			usage.Opened(c, ms(-60_000)),
			usage.Closed(c, ms(-50_000)),
			usage.Opened(comp(app, "List"), ms(-40_000)),
		}, want: true},
		{name: "startup after open", events: sliceSource{
			usage.Opened(c, ms(-60_000)),
			usage.DeviceStartup(ms(-10_000)),
		}, want: false},
		{name: "other app ignored", events: sliceSource{
			usage.Opened(c, ms(-60_000)),
			usage.Closed(comp("com.example.mail", "Inbox"), ms(-10_000)),
		}, want: true},
		{name: "event under test ignored", events: sliceSource{
			usage.Opened(c, ms(-60_000)),
			usage.Closed(c, closeAt),
		}, want: true},
		{name: "outside lookback", events: sliceSource{
			usage.Opened(c, ms(-int64(25*time.Hour/time.Millisecond))),
		}, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := &usage.Guardian{Source: inclusiveSource(tc.events), Logger: slogtest.Make(t, nil)}
			got, err := g.Verify(context.Background(), app, closeAt, ms(0))
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got != tc.want {
				t.Errorf("Verify = %v, want %v", got, tc.want)
			}
		})
	}
}

// inclusiveSource ignores the window entirely, like a source whose boundary
// handling is looser than half-open.
type inclusiveSource []usage.Event

func (s inclusiveSource) Events(_ context.Context, start, _ time.Time) ([]usage.Event, error) {
	var out []usage.Event
	for _, e := range s {
		if !e.Timestamp.Before(start) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestGuardianCustomLookback(t *testing.T) {
	c := comp("com.example.notes", "Editor")
	src := sliceSource{usage.Opened(c, ms(-2*int64(time.Hour/time.Millisecond)))}
	g := &usage.Guardian{Source: src, Lookback: time.Hour}
	ok, err := g.Verify(context.Background(), c.App, ms(30), ms(0))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("open outside the custom lookback should not count")
	}
}

func TestGuardianSourceError(t *testing.T) {
	g := &usage.Guardian{Source: errSource{err: errors.New("boom")}}
	_, err := g.Verify(context.Background(), "com.example.notes", ms(30), ms(0))
	var se *usage.SourceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SourceError, got %T: %v", err, err)
	}
	if se.Source != "event log" {
		t.Errorf("Source = %q, want %q", se.Source, "event log")
	}
}

type countingVerifier struct {
	calls atomic.Int64
}

func (v *countingVerifier) Verify(context.Context, string, time.Time, time.Time) (bool, error) {
	v.calls.Add(1)
	return true, nil
}

func TestMemoVerifierCaches(t *testing.T) {
	next := &countingVerifier{}
	m := &usage.MemoVerifier{Next: next}
	for i := 0; i < 3; i++ {
		ok, err := m.Verify(context.Background(), "com.a", ms(10), ms(0))
		if err != nil || !ok {
			t.Fatalf("Verify = %v, %v", ok, err)
		}
	}
	if _, err := m.Verify(context.Background(), "com.a", ms(11), ms(0)); err != nil {
		t.Fatal(err)
	}
	// Same close, different start: a separate verdict.
	if _, err := m.Verify(context.Background(), "com.a", ms(10), ms(5)); err != nil {
		t.Fatal(err)
	}
	if got := next.calls.Load(); got != 3 {
		t.Errorf("underlying verifier called %d times, want 3", got)
	}
}

func TestUnmatchedCloseCandidates(t *testing.T) {
	a1 := comp("com.a", "Main")
	a2 := comp("com.a", "Detail")
	b := comp("com.b", "Main")
	c := comp("com.c", "Main")
	got := usage.UnmatchedCloseCandidates([]usage.Event{
		usage.Closed(a1, ms(1)),
		usage.Opened(a2, ms(2)),
		usage.Closed(a1, ms(3)),
		usage.Closed(b, ms(4)),
		usage.DeviceStartup(ms(5)),
		usage.Closed(c, ms(6)),
	}, ms(0))
	if len(got) != 3 {
		t.Fatalf("got %d candidates %v, want 3", len(got), got)
	}
	if got[0].Component != a1 || !got[0].Timestamp.Equal(ms(1)) || !got[0].Since.Equal(ms(0)) {
		t.Errorf("candidate[0] = %v since %v", got[0].Event, got[0].Since)
	}
	if got[1].Component != b || !got[1].Since.Equal(ms(0)) {
		t.Errorf("candidate[1] = %v since %v", got[1].Event, got[1].Since)
	}
	// After the reboot the lookback ends at the startup, not the query start.
	if got[2].Component != c || !got[2].Since.Equal(ms(5)) {
		t.Errorf("candidate[2] = %v since %v", got[2].Event, got[2].Since)
	}
}

func TestPrefetchPropagatesError(t *testing.T) {
	g := &usage.Guardian{Source: errSource{err: errors.New("boom")}}
	_, err := usage.Prefetch(context.Background(), g, []usage.Event{
		usage.Closed(comp("com.a", "Main"), ms(1)),
		usage.Closed(comp("com.b", "Main"), ms(2)),
	}, ms(0), 2)
	if !errors.Is(err, usage.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

package usage_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"pgregory.net/rapid"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

// base anchors all test timestamps; ms(n) is base + n milliseconds.
var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func ms(n int64) time.Time { return base.Add(time.Duration(n) * time.Millisecond) }

// sliceSource is an in-memory EventSource returning events in [start, end)
// in their original order.
type sliceSource []usage.Event

func (s sliceSource) Events(_ context.Context, start, end time.Time) ([]usage.Event, error) {
	var out []usage.Event
	for _, e := range s {
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type errSource struct{ err error }

func (s errSource) Events(context.Context, time.Time, time.Time) ([]usage.Event, error) {
	return nil, s.err
}

// fixedVerifier answers every verification with ok and counts calls.
type fixedVerifier struct {
	ok    bool
	calls int
}

func (v *fixedVerifier) Verify(context.Context, string, time.Time, time.Time) (bool, error) {
	v.calls++
	return v.ok, nil
}

func comp(app, class string) usage.Component {
	return usage.Component{App: app, Class: class}
}

func reconcile(t *testing.T, r *usage.Reconciler, in usage.Input) usage.Result {
	t.Helper()
	r.Logger = slogtest.Make(t, nil)
	res, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return res
}

func wantIntervals(t *testing.T, got []usage.Interval, want ...usage.Interval) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d intervals %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) || got[i].App != want[i].App {
			t.Errorf("interval[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func hasScenario(res usage.Result, s usage.Scenario) bool {
	for _, a := range res.Anomalies {
		if a.Scenario == s {
			return true
		}
	}
	return false
}

func TestDuplicateOpenLastWins(t *testing.T) {
	c := comp("com.example.mail", "Inbox")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c, ms(10)),
			usage.Opened(c, ms(20)),
			usage.Closed(c, ms(30)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(20), End: ms(30), App: c.App})
	if !hasScenario(res, usage.ScenarioDuplicateOpen) {
		t.Errorf("expected duplicate_open anomaly, got %v", res.Anomalies)
	}
}

func TestSiblingAttribution(t *testing.T) {
	c1 := comp("com.example.chat", "List")
	c2 := comp("com.example.chat", "Conversation")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c1, ms(10)),
			usage.Opened(c2, ms(20)),
			usage.Closed(c1, ms(30)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(20), App: "com.example.chat"})
}

func TestSiblingOpenedBeforeBeginIsIgnored(t *testing.T) {
	c1 := comp("com.example.chat", "List")
	c2 := comp("com.example.chat", "Conversation")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c2, ms(5)),
			usage.Opened(c1, ms(10)),
			usage.Closed(c1, ms(30)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(30), App: "com.example.chat"})
}

func TestDeviceShutdownFlushAndStartupReset(t *testing.T) {
	c := comp("com.example.maps", "Main")
	other := comp("com.example.music", "Player")
	v := &fixedVerifier{ok: true}
	res := reconcile(t, &usage.Reconciler{Verifier: v}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c, ms(10)),
			usage.Opened(other, ms(15)),
			usage.DeviceShutdown(ms(50)),
			usage.DeviceStartup(ms(60)),
			// Both components were closed by the shutdown; these closes
			// must not reach back before the reboot.
			usage.Closed(c, ms(70)),
			usage.Closed(other, ms(80)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals,
		usage.Interval{Start: ms(10), End: ms(50), App: c.App},
		usage.Interval{Start: ms(15), End: ms(50), App: other.App},
	)
	if v.calls != 0 {
		t.Errorf("verifier called %d times for apps already seen", v.calls)
	}
}

func TestDeviceShutdownClosesWholeApp(t *testing.T) {
	c1 := comp("com.example.chat", "List")
	c2 := comp("com.example.chat", "Conversation")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c1, ms(10)),
			usage.Opened(c2, ms(20)),
			usage.DeviceShutdown(ms(50)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
		Foreground: []string{"com.example.chat"},
	})
	// One interval per app: the shutdown tombstones c2 together with c1.
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(50), App: "com.example.chat"})
}

func TestStartupMovesEffectiveStart(t *testing.T) {
	c := comp("com.example.reader", "Article")
	res := reconcile(t, &usage.Reconciler{Verifier: &fixedVerifier{ok: true}}, usage.Input{
		Events: []usage.Event{
			usage.DeviceStartup(ms(40)),
			usage.Closed(c, ms(70)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(40), End: ms(70), App: c.App})
	if !hasScenario(res, usage.ScenarioTrueUnmatchedClose) {
		t.Errorf("expected true_unmatched_close, got %v", res.Anomalies)
	}
}

func TestTrueUnmatchedOpenAtStreamEnd(t *testing.T) {
	c := comp("com.example.video", "Player")
	now := ms(90)
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events:     []usage.Event{usage.Opened(c, ms(10))},
		Start:      ms(0),
		End:        ms(100),
		Now:        now,
		Foreground: []string{"com.example.video:player"},
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: now, App: c.App})
	if !hasScenario(res, usage.ScenarioTrueUnmatchedOpen) {
		t.Errorf("expected true_unmatched_open, got %v", res.Anomalies)
	}
}

func TestTrueUnmatchedOpenClipsToEnd(t *testing.T) {
	c := comp("com.example.video", "Player")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events:     []usage.Event{usage.Opened(c, ms(10))},
		Start:      ms(0),
		End:        ms(100),
		Now:        ms(101),
		Foreground: []string{"com.example.video"},
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(100), App: c.App})
}

func TestFaultyUnmatchedOpenDropped(t *testing.T) {
	c := comp("com.example.video", "Player")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{usage.Opened(c, ms(10))},
		Start:  ms(0), End: ms(100), Now: ms(100),
	})
	wantIntervals(t, res.Intervals)
	if !hasScenario(res, usage.ScenarioFaultyUnmatchedOpen) {
		t.Errorf("expected faulty_unmatched_open, got %v", res.Anomalies)
	}
}

func TestTrueUnmatchedCloseStartsAtQueryStart(t *testing.T) {
	c := comp("com.example.notes", "Editor")
	res := reconcile(t, &usage.Reconciler{Verifier: &fixedVerifier{ok: true}}, usage.Input{
		Events: []usage.Event{usage.Closed(c, ms(30))},
		Start:  ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(0), End: ms(30), App: c.App})
}

func TestFaultyUnmatchedCloseDropped(t *testing.T) {
	c := comp("com.example.notes", "Editor")
	for _, tc := range []struct {
		name     string
		lookback sliceSource
	}{
		{name: "no prior open", lookback: nil},
		{name: "closed again before start", lookback: sliceSource{
			usage.Opened(c, ms(-5000)),
			usage.Closed(c, ms(-4000)),
		}},
		{name: "reboot after open", lookback: sliceSource{
			usage.Opened(c, ms(-5000)),
			usage.DeviceStartup(ms(-3000)),
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := append(sliceSource{}, tc.lookback...)
			src = append(src, usage.Closed(c, ms(30)))
			g := &usage.Guardian{Source: src, Logger: slogtest.Make(t, nil)}
			res := reconcile(t, &usage.Reconciler{Verifier: g}, usage.Input{
				Events: []usage.Event{usage.Closed(c, ms(30))},
				Start:  ms(0), End: ms(100), Now: ms(10_000),
			})
			wantIntervals(t, res.Intervals)
			if !hasScenario(res, usage.ScenarioFaultyUnmatchedClose) {
				t.Errorf("expected faulty_unmatched_close, got %v", res.Anomalies)
			}
		})
	}
}

func TestUnmatchedCloseAfterStartupScansFromReboot(t *testing.T) {
	c := comp("com.example.mail", "Inbox")
	window := []usage.Event{
		usage.Closed(c, ms(100)),
		usage.DeviceStartup(ms(200)),
		usage.Closed(c, ms(300)),
	}
	src := append(sliceSource{usage.Opened(c, ms(-100))}, window...)
	in := usage.Input{Events: window, Start: ms(0), End: ms(1000), Now: ms(10_000)}

	for _, tc := range []struct {
		name     string
		verifier func(t *testing.T) usage.Verifier
	}{
		{name: "guardian", verifier: func(t *testing.T) usage.Verifier {
			return &usage.Guardian{Source: src, Logger: slogtest.Make(t, nil)}
		}},
		{name: "prefetched", verifier: func(t *testing.T) usage.Verifier {
			g := &usage.Guardian{Source: src, Logger: slogtest.Make(t, nil)}
			memo, err := usage.Prefetch(context.Background(), g, window, in.Start, 4)
			if err != nil {
				t.Fatalf("Prefetch: %v", err)
			}
			return memo
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := reconcile(t, &usage.Reconciler{Verifier: tc.verifier(t)}, in)
			// The close at 100 is already in the lookback ending at the
			// reboot, so the close at 300 has no open to pair with.
			wantIntervals(t, res.Intervals, usage.Interval{Start: ms(0), End: ms(100), App: c.App})
			if !hasScenario(res, usage.ScenarioFaultyUnmatchedClose) {
				t.Errorf("expected faulty_unmatched_close, got %v", res.Anomalies)
			}
		})
	}
}

func TestDuplicateCloseDropped(t *testing.T) {
	c1 := comp("com.example.chat", "List")
	c2 := comp("com.example.chat", "Conversation")
	v := &fixedVerifier{ok: true}
	res := reconcile(t, &usage.Reconciler{Verifier: v}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c1, ms(10)),
			usage.Closed(c1, ms(20)),
			usage.Closed(c1, ms(25)),
			// Swapped pair: the close of c2 arrives before its open.
			usage.Closed(c2, ms(30)),
			usage.Opened(c2, ms(29)),
			usage.Closed(c2, ms(40)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals,
		usage.Interval{Start: ms(10), End: ms(20), App: "com.example.chat"},
		usage.Interval{Start: ms(29), End: ms(40), App: "com.example.chat"},
	)
	if v.calls != 0 {
		t.Errorf("verifier called %d times, want 0", v.calls)
	}
	n := 0
	for _, a := range res.Anomalies {
		if a.Scenario == usage.ScenarioDuplicateClose {
			n++
		}
	}
	if n != 2 {
		t.Errorf("got %d duplicate_close anomalies, want 2", n)
	}
}

func TestNilVerifierRejectsUnmatchedClose(t *testing.T) {
	c := comp("com.example.notes", "Editor")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{usage.Closed(c, ms(30))},
		Start:  ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals)
}

func TestGapFill(t *testing.T) {
	launchable := usage.PackageResolverFunc(func(name string) bool {
		return name == "com.example.reader"
	})
	now := ms(95)
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Start:      ms(0),
		End:        ms(100),
		Now:        now,
		Foreground: []string{"com.example.reader", "system_server"},
		Packages:   launchable,
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(0), End: now, App: "com.example.reader"})
	if !hasScenario(res, usage.ScenarioNoEvents) {
		t.Errorf("expected no_events anomaly, got %v", res.Anomalies)
	}
}

func TestGapFillSkippedWhenAnyOpenSeen(t *testing.T) {
	c := comp("com.example.maps", "Main")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{usage.Opened(c, ms(10)), usage.Closed(c, ms(20))},
		Start:  ms(0), End: ms(100), Now: ms(95),
		Foreground: []string{"com.example.reader"},
		Packages:   usage.PackageResolverFunc(func(string) bool { return true }),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(20), App: c.App})
}

func TestGapFillAfterStartupUsesEffectiveStart(t *testing.T) {
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events:     []usage.Event{usage.DeviceStartup(ms(40))},
		Start:      ms(0),
		End:        ms(100),
		Now:        ms(100),
		Foreground: []string{"com.example.reader"},
		Packages:   usage.PackageResolverFunc(func(string) bool { return true }),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(40), End: ms(100), App: "com.example.reader"})
}

func TestUnknownEventsIgnored(t *testing.T) {
	c := comp("com.example.mail", "Inbox")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c, ms(10)),
			{Kind: usage.KindUnknown, Component: c, Timestamp: ms(15)},
			{Kind: usage.KindFromCode(12), Component: c, Timestamp: ms(16)},
			usage.Closed(c, ms(30)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(10), End: ms(30), App: c.App})
}

func TestSwappedCloseClampsToBegin(t *testing.T) {
	c := comp("com.example.mail", "Inbox")
	res := reconcile(t, &usage.Reconciler{}, usage.Input{
		Events: []usage.Event{
			usage.Opened(c, ms(30)),
			usage.Closed(c, ms(29)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	wantIntervals(t, res.Intervals, usage.Interval{Start: ms(30), End: ms(30), App: c.App})
}

func TestVerifierErrorAbortsWithoutPartialResult(t *testing.T) {
	c := comp("com.example.notes", "Editor")
	boom := errors.New("permission revoked")
	g := &usage.Guardian{Source: errSource{err: boom}}
	res, err := (&usage.Reconciler{Verifier: g}).Reconcile(context.Background(), usage.Input{
		Events: []usage.Event{
			usage.Opened(comp("com.example.mail", "Inbox"), ms(1)),
			usage.Closed(comp("com.example.mail", "Inbox"), ms(2)),
			usage.Closed(c, ms(30)),
		},
		Start: ms(0), End: ms(100), Now: ms(10_000),
	})
	if !errors.Is(err, usage.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if len(res.Intervals) != 0 {
		t.Errorf("expected no partial result, got %v", res.Intervals)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&usage.Reconciler{}).Reconcile(ctx, usage.Input{Start: ms(0), End: ms(100)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// genInput draws a random event stream over a small set of apps and
// components so that every scenario is reachable.
func genInput(t *rapid.T) (usage.Input, sliceSource) {
	apps := []string{"com.a", "com.b", "com.c"}
	classes := []string{"Main", "Detail"}

	n := rapid.IntRange(0, 40).Draw(t, "n")
	events := make([]usage.Event, 0, n)
	ts := int64(0)
	for i := 0; i < n; i++ {
		ts += rapid.Int64Range(0, 50).Draw(t, fmt.Sprintf("gap%d", i))
		c := comp(
			apps[rapid.IntRange(0, len(apps)-1).Draw(t, fmt.Sprintf("app%d", i))],
			classes[rapid.IntRange(0, len(classes)-1).Draw(t, fmt.Sprintf("class%d", i))],
		)
		switch rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("kind%d", i)) {
		case 0:
			events = append(events, usage.DeviceShutdown(ms(ts)))
		case 1:
			events = append(events, usage.DeviceStartup(ms(ts)))
		case 2, 3, 4, 5:
			events = append(events, usage.Opened(c, ms(ts)))
		default:
			events = append(events, usage.Closed(c, ms(ts)))
		}
	}
	// Swap a random adjacent pair to model out-of-order logging.
	if len(events) > 1 && rapid.Bool().Draw(t, "swap") {
		i := rapid.IntRange(0, len(events)-2).Draw(t, "swapAt")
		events[i], events[i+1] = events[i+1], events[i]
	}

	var lookback sliceSource
	for i, app := range apps {
		if rapid.Bool().Draw(t, "lookbackOpen"+app) {
			lookback = append(lookback, usage.Opened(comp(app, "Main"), ms(-int64(1000*(i+1)))))
		}
	}

	var foreground []string
	for _, app := range apps {
		if rapid.Bool().Draw(t, "fg"+app) {
			foreground = append(foreground, app)
		}
	}
	end := ts + rapid.Int64Range(1, 100).Draw(t, "tail")
	return usage.Input{
		Events:     events,
		Start:      ms(0),
		End:        ms(end),
		Now:        ms(end - rapid.Int64Range(-50, 50).Draw(t, "skew")),
		Foreground: foreground,
		Packages:   usage.PackageResolverFunc(func(string) bool { return true }),
	}, append(lookback, events...)
}

// Feature: fgtrace, Property 1: every interval is well-formed
func TestIntervalsWellFormed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in, src := genInput(t)
		r := &usage.Reconciler{Verifier: &usage.Guardian{Source: src}}
		res, err := r.Reconcile(context.Background(), in)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		for _, iv := range res.Intervals {
			if iv.End.Before(iv.Start) {
				t.Fatalf("interval %v ends before it starts", iv)
			}
			if iv.App == "" {
				t.Fatalf("interval %v has no app", iv)
			}
		}
	})
}

// Feature: fgtrace, Property 2: reconciliation is a pure function of its input
func TestReconcileIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in, src := genInput(t)
		r := &usage.Reconciler{Verifier: &usage.Guardian{Source: src}}
		first, err := r.Reconcile(context.Background(), in)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		second, err := r.Reconcile(context.Background(), in)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if !reflect.DeepEqual(sorted(first.Intervals), sorted(second.Intervals)) {
			t.Fatalf("results differ:\n%v\n%v", first.Intervals, second.Intervals)
		}
	})
}

// Feature: fgtrace, Property 3: memoized and prefetched verification agree with direct verification
func TestPrefetchMatchesSequential(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in, src := genInput(t)
		g := &usage.Guardian{Source: src}
		direct, err := (&usage.Reconciler{Verifier: g}).Reconcile(context.Background(), in)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		memo, err := usage.Prefetch(context.Background(), g, in.Events, in.Start, 4)
		if err != nil {
			t.Fatalf("Prefetch: %v", err)
		}
		prefetched, err := (&usage.Reconciler{Verifier: memo}).Reconcile(context.Background(), in)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if !reflect.DeepEqual(sorted(direct.Intervals), sorted(prefetched.Intervals)) {
			t.Fatalf("results differ:\n%v\n%v", direct.Intervals, prefetched.Intervals)
		}
	})
}

func sorted(in []usage.Interval) []usage.Interval {
	out := append([]usage.Interval(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].App < out[j].App
	})
	return out
}

// Package report turns reconciled foreground intervals into shareable usage
// reports and reads them back.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

// Report is the complete, renderable result of one or more queries.
type Report struct {
	ID          string           `json:"id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Period      Period           `json:"period"`
	Device      string           `json:"device,omitempty"`
	Timezone    string           `json:"timezone,omitempty"`
	Intervals   []usage.Interval `json:"intervals"`
	Apps        []AppSummary     `json:"apps"`
	Anomalies   []usage.Anomaly  `json:"anomalies"`
	Warnings    []string         `json:"warnings"`
}

// Period is the time range a report covers.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "window", "day" or "backlog"
}

// AppSummary is the foreground total of one app.
type AppSummary struct {
	App        string        `json:"app"`
	Total      time.Duration `json:"total_ns"`
	Sessions   int           `json:"sessions"`
	Percentage float64       `json:"percentage"`
}

// New builds a report from query outcomes. The period spans the earliest
// window start to the latest window end; intervals are ordered by start.
func New(kind string, outcomes []usage.Outcome, generatedAt time.Time) *Report {
	r := &Report{
		ID:          uuid.NewString(),
		GeneratedAt: generatedAt,
		Period:      Period{Type: kind},
		Intervals:   []usage.Interval{},
		Anomalies:   []usage.Anomaly{},
		Warnings:    []string{},
	}
	for i, o := range outcomes {
		if i == 0 || o.Window.Start.Before(r.Period.Start) {
			r.Period.Start = o.Window.Start
		}
		if i == 0 || o.Window.End.After(r.Period.End) {
			r.Period.End = o.Window.End
		}
		r.Intervals = append(r.Intervals, o.Intervals...)
		r.Anomalies = append(r.Anomalies, o.Anomalies...)
	}
	sort.SliceStable(r.Intervals, func(i, j int) bool {
		a, b := r.Intervals[i], r.Intervals[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.App < b.App
	})
	r.Apps = Summarize(r.Intervals)
	return r
}

// Total is the summed duration of all intervals.
func (r *Report) Total() time.Duration {
	var total time.Duration
	for _, a := range r.Apps {
		total += a.Total
	}
	return total
}

// ScenarioCounts counts anomalies per scenario.
func (r *Report) ScenarioCounts() map[usage.Scenario]int {
	counts := make(map[usage.Scenario]int)
	for _, a := range r.Anomalies {
		counts[a.Scenario]++
	}
	return counts
}

// Summarize totals intervals per app, ordered by total descending then by
// name. Overlapping intervals of one app are summed as they are.
func Summarize(intervals []usage.Interval) []AppSummary {
	byApp := make(map[string]*AppSummary)
	var grand time.Duration
	for _, iv := range intervals {
		s, ok := byApp[iv.App]
		if !ok {
			s = &AppSummary{App: iv.App}
			byApp[iv.App] = s
		}
		s.Total += iv.Duration()
		s.Sessions++
		grand += iv.Duration()
	}

	apps := make([]AppSummary, 0, len(byApp))
	for _, s := range byApp {
		if grand > 0 {
			s.Percentage = float64(s.Total) / float64(grand) * 100
		}
		apps = append(apps, *s)
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Total != apps[j].Total {
			return apps[i].Total > apps[j].Total
		}
		return apps[i].App < apps[j].App
	})
	return apps
}

// FormatDuration renders d as H:MM:SS, rounded to the second.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%d:%02d:%02d", int64(h), int64(m), int64(d/time.Second))
}

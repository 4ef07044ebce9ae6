package report

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

const (
	versionSentinel = "<!-- fgtrace-report-version: 1 -->"
	dataPrefix      = "<!-- fgtrace-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// RendererFor returns the renderer and file extension for a format name.
func RendererFor(format string, loc *time.Location) (Renderer, string, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, ".json", nil
	case "markdown", "md", "":
		return &MarkdownRenderer{Location: loc}, ".md", nil
	case "csv":
		return &CSVRenderer{Location: loc}, ".csv", nil
	default:
		return nil, "", fmt.Errorf("unknown format %q (want markdown, json or csv)", format)
	}
}

// JSONRenderer renders a Report as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(rep *Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

// MarkdownRenderer renders a Report as human-readable Markdown with an
// embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct {
	Location *time.Location // times are shown in this zone; local if nil
}

func (r *MarkdownRenderer) Render(rep *Report) ([]byte, error) {
	jsonBytes, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)
	loc := orLocal(r.Location)
	stamp := func(t time.Time) string { return t.In(loc).Format("2006-01-02 15:04:05") }

	var sb strings.Builder

	// Sentinel and embedded payload.
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	fmt.Fprintf(&sb, "# Foreground usage: %s to %s\n\n", stamp(rep.Period.Start), stamp(rep.Period.End))

	// ## Summary
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Report: %s\n", rep.ID)
	fmt.Fprintf(&sb, "- Generated: %s\n", stamp(rep.GeneratedAt))
	if rep.Device != "" {
		fmt.Fprintf(&sb, "- Device: %s\n", rep.Device)
	}
	fmt.Fprintf(&sb, "- Foreground time: %s in %d intervals\n", FormatDuration(rep.Total()), len(rep.Intervals))
	sb.WriteString("\n")

	// ## Apps
	sb.WriteString("## Apps\n\n")
	if len(rep.Apps) == 0 {
		sb.WriteString("_No foreground usage recorded._\n")
	} else {
		sb.WriteString("| App | Time | Sessions | Share |\n")
		sb.WriteString("|-----|------|----------|-------|\n")
		for _, a := range rep.Apps {
			fmt.Fprintf(&sb, "| %s | %s | %d | %.1f%% |\n", a.App, FormatDuration(a.Total), a.Sessions, a.Percentage)
		}
	}
	sb.WriteString("\n")

	// ## Intervals
	sb.WriteString("## Intervals\n\n")
	if len(rep.Intervals) == 0 {
		sb.WriteString("_No intervals._\n")
	} else {
		sb.WriteString("| Begin | End | App | Duration |\n")
		sb.WriteString("|-------|-----|-----|----------|\n")
		for _, iv := range rep.Intervals {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", stamp(iv.Start), stamp(iv.End), iv.App, FormatDuration(iv.Duration()))
		}
	}
	sb.WriteString("\n")

	// ## Anomalies
	sb.WriteString("## Anomalies\n\n")
	if len(rep.Anomalies) == 0 {
		sb.WriteString("_No anomalies._\n")
	} else {
		counts := rep.ScenarioCounts()
		scenarios := make([]string, 0, len(counts))
		for s := range counts {
			scenarios = append(scenarios, string(s))
		}
		sort.Strings(scenarios)
		for _, s := range scenarios {
			fmt.Fprintf(&sb, "- %s: %d\n", s, counts[usage.Scenario(s)])
		}
	}
	sb.WriteString("\n")

	if len(rep.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, w := range rep.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

// csvHeader is the column layout of the usage statistics export.
var csvHeader = []string{"Id", "begin", "end", "beginTimestamp", "endTimestamp", "packageName", "duration", "durationMillis"}

// CSVRenderer renders the intervals of a Report, one row each.
type CSVRenderer struct {
	Location *time.Location // local if nil
}

func (r *CSVRenderer) Render(rep *Report) ([]byte, error) {
	loc := orLocal(r.Location)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i, iv := range rep.Intervals {
		row := []string{
			strconv.Itoa(i),
			iv.Start.In(loc).Format("02.01.2006 15:04:05"),
			iv.End.In(loc).Format("02.01.2006 15:04:05"),
			strconv.FormatInt(iv.Start.UnixMilli(), 10),
			strconv.FormatInt(iv.End.UnixMilli(), 10),
			iv.App,
			FormatDuration(iv.Duration()),
			strconv.FormatInt(iv.Duration().Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// Package tui provides a Bubble Tea TUI for viewing fgtrace reports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/fgtrace/internal/report"
	"github.com/fakeyudi/fgtrace/internal/usage"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62"))

	kindIntervalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindAnomalyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindWarningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	// Selected row in the Apps list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabApps
	tabIntervals
	tabAnomalies
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Apps", "Intervals", "Anomalies", "Timeline",
}

// ── Timeline event ───────────────────

type eventKind string

const (
	kindOpen    eventKind = "OPEN"
	kindClose   eventKind = "CLOSE"
	kindAnomaly eventKind = "ANOMALY"
)

type timelineEvent struct {
	ts   time.Time
	kind eventKind
	text string
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	report    *report.Report
	filename  string
	loc       *time.Location
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	timeline  []timelineEvent
	// Apps tab: cursor position and expanded set
	appCursor    int
	expandedApps map[int]bool
}

// New creates a new TUI model for the given report and source filename.
// Times are shown in loc, or the local zone if loc is nil.
func New(r *report.Report, filename string, loc *time.Location) Model {
	if loc == nil {
		loc = time.Local
	}
	m := Model{
		report:       r,
		filename:     filepath.Base(filename),
		loc:          loc,
		sortAsc:      true,
		expandedApps: make(map[int]bool),
	}
	m.timeline = buildTimeline(r)
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuildViewport(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabApps && m.appCursor > 0 {
				m.appCursor--
				m.rebuildViewport(tabApps)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabApps && m.appCursor < len(m.report.Apps)-1 {
				m.appCursor++
				m.rebuildViewport(tabApps)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabApps && len(m.report.Apps) > 0 {
				if m.expandedApps[m.appCursor] {
					delete(m.expandedApps, m.appCursor)
				} else {
					m.expandedApps[m.appCursor] = true
				}
				m.rebuildViewport(tabApps)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  fgtrace  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-5 jump  q quit"
	if m.activeTab == tabTimeline {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	}
	if m.activeTab == tabApps {
		hint += "  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuildViewport(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabApps:
		return m.renderApps()
	case tabIntervals:
		return m.renderIntervals()
	case tabAnomalies:
		return m.renderAnomalies()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Model) stamp(t time.Time) string {
	return t.In(m.loc).Format("2006-01-02 15:04:05")
}

func (m *Model) clock(t time.Time) string {
	return t.In(m.loc).Format("01-02 15:04:05")
}

func (m *Model) renderSummary() string {
	r := m.report
	var sb strings.Builder
	sb.WriteString(heading("Report Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-16s", label)) + "  " + value + "\n")
	}
	row("Report:", r.ID)
	row("Period:", m.stamp(r.Period.Start)+"  to  "+m.stamp(r.Period.End))
	row("Generated:", m.stamp(r.GeneratedAt))
	if r.Device != "" {
		row("Device:", r.Device)
	}
	row("Foreground time:", report.FormatDuration(r.Total()))

	sb.WriteString(heading("Counts"))
	row("Apps:", fmt.Sprintf("%d", len(r.Apps)))
	row("Intervals:", fmt.Sprintf("%d", len(r.Intervals)))
	row("Anomalies:", fmt.Sprintf("%d", len(r.Anomalies)))

	if len(r.Warnings) > 0 {
		sb.WriteString(heading(fmt.Sprintf("Warnings (%d)", len(r.Warnings))))
		for _, w := range r.Warnings {
			sb.WriteString(kindWarningStyle.Render("  !") + "  " + w + "\n")
		}
	}
	return sb.String()
}

func (m *Model) renderApps() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Apps (%d)", len(m.report.Apps))))
	if len(m.report.Apps) == 0 {
		sb.WriteString(dimStyle.Render("  (no foreground usage)") + "\n")
		return sb.String()
	}

	nameWidth := 0
	for _, a := range m.report.Apps {
		if len(a.App) > nameWidth {
			nameWidth = len(a.App)
		}
	}
	barWidth := m.width - nameWidth - 32
	if barWidth < 10 {
		barWidth = 10
	}

	for i, a := range m.report.Apps {
		toggle := dimStyle.Render("  ▶ ")
		if m.expandedApps[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		bar := barStyle.Render(strings.Repeat("█", int(a.Percentage/100*float64(barWidth)+0.5)))
		row := fmt.Sprintf("%s%-*s  %9s  %5.1f%%  %s", toggle, nameWidth, a.App, report.FormatDuration(a.Total), a.Percentage, bar)
		if i == m.appCursor {
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")

		if m.expandedApps[i] {
			for _, iv := range m.report.Intervals {
				if iv.App != a.App {
					continue
				}
				sb.WriteString(fmt.Sprintf("        %s  →  %s  %s\n",
					timeStyle.Render(m.clock(iv.Start)),
					timeStyle.Render(m.clock(iv.End)),
					dimStyle.Render(report.FormatDuration(iv.Duration())),
				))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (m *Model) renderIntervals() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Intervals (%d)", len(m.report.Intervals))))
	if len(m.report.Intervals) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, iv := range m.report.Intervals {
		num := dimStyle.Render(fmt.Sprintf("  %4d.", i+1))
		span := timeStyle.Render(m.clock(iv.Start) + " → " + m.clock(iv.End))
		sb.WriteString(fmt.Sprintf("%s  %s  %9s  %s\n", num, span, report.FormatDuration(iv.Duration()), iv.App))
	}
	return sb.String()
}

func (m *Model) renderAnomalies() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Anomalies (%d)", len(m.report.Anomalies))))
	if len(m.report.Anomalies) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}

	counts := m.report.ScenarioCounts()
	scenarios := make([]string, 0, len(counts))
	for s := range counts {
		scenarios = append(scenarios, string(s))
	}
	sort.Strings(scenarios)
	for _, s := range scenarios {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-24s", s)) + fmt.Sprintf("  %d\n", counts[usage.Scenario(s)]))
	}

	sb.WriteString(heading("Details"))
	for _, a := range m.report.Anomalies {
		ts := timeStyle.Render(m.clock(a.At))
		badge := kindAnomalyStyle.Render(fmt.Sprintf("%-24s", string(a.Scenario)))
		target := a.Component.String()
		if a.Component.App == "" {
			target = dimStyle.Render("(device)")
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n", ts, badge, target))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]timelineEvent, len(m.timeline))
	copy(events, m.timeline)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.After(events[j].ts) })
	}

	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (nothing happened in this period)") + "\n")
		return sb.String()
	}

	for _, ev := range events {
		ts := timeStyle.Render(m.clock(ev.ts))
		var badge string
		switch ev.kind {
		case kindOpen, kindClose:
			badge = kindIntervalStyle.Render(fmt.Sprintf("  %-8s", string(ev.kind)))
		case kindAnomaly:
			badge = kindAnomalyStyle.Render(fmt.Sprintf("  %-8s", string(ev.kind)))
		}
		sb.WriteString(ts + badge + "  " + ev.text + "\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func buildTimeline(r *report.Report) []timelineEvent {
	var events []timelineEvent
	for _, iv := range r.Intervals {
		events = append(events,
			timelineEvent{ts: iv.Start, kind: kindOpen, text: iv.App},
			timelineEvent{ts: iv.End, kind: kindClose, text: iv.App + "  " + report.FormatDuration(iv.Duration())},
		)
	}
	for _, a := range r.Anomalies {
		text := string(a.Scenario)
		if a.Component.App != "" {
			text += "  " + a.Component.String()
		}
		events = append(events, timelineEvent{ts: a.At, kind: kindAnomaly, text: text})
	}
	return events
}

// Run starts the TUI for the given report.
func Run(r *report.Report, filename string, loc *time.Location) error {
	p := tea.NewProgram(New(r, filename, loc), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

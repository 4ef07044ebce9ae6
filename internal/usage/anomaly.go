package usage

import "time"

// Scenario names an anomaly class in the event log. Scenarios are expected,
// policy-resolved conditions, never errors.
type Scenario string

const (
	// ScenarioDuplicateOpen: a component was opened again while already
	// open. The later open wins; the earlier one yields no interval.
	ScenarioDuplicateOpen Scenario = "duplicate_open"
	// ScenarioDuplicateClose: a close arrived for an app already seen in
	// this query without a pending open for the component. Dropped.
	ScenarioDuplicateClose Scenario = "duplicate_close"
	// ScenarioTrueUnmatchedOpen: the stream ended while the app is still in
	// the foreground. Credited up to now.
	ScenarioTrueUnmatchedOpen Scenario = "true_unmatched_open"
	// ScenarioFaultyUnmatchedOpen: the stream ended with an open that is not
	// in the foreground anymore. Dropped.
	ScenarioFaultyUnmatchedOpen Scenario = "faulty_unmatched_open"
	// ScenarioTrueUnmatchedClose: a close whose open happened before the
	// query window. Credited from the window start.
	ScenarioTrueUnmatchedClose Scenario = "true_unmatched_close"
	// ScenarioFaultyUnmatchedClose: a close whose open could not be found in
	// the lookback window. Dropped.
	ScenarioFaultyUnmatchedClose Scenario = "faulty_unmatched_close"
	// ScenarioNoEvents: no component was opened during the query but an app
	// is in the foreground, so it was in the foreground the whole time.
	ScenarioNoEvents Scenario = "no_events"
)

// Anomaly records one scenario encountered during reconciliation.
type Anomaly struct {
	Scenario  Scenario  `json:"scenario"`
	Component Component `json:"component"`
	At        time.Time `json:"at"`
}

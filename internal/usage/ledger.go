package usage

import "time"

// ledgerEntry is either an open timestamp or a tombstone. A tombstone means
// the component was open earlier in this query and has been closed since.
type ledgerEntry struct {
	open bool
	at   time.Time
}

// ledger maps components to their last open timestamp. Entries are never
// removed, only overwritten, so key presence answers "seen in this query".
// Iteration follows first-insertion order so results are reproducible.
type ledger struct {
	order   []Component
	entries map[Component]ledgerEntry
}

func newLedger() *ledger {
	return &ledger{entries: make(map[Component]ledgerEntry)}
}

func (l *ledger) len() int { return len(l.order) }

func (l *ledger) get(c Component) (ledgerEntry, bool) {
	e, ok := l.entries[c]
	return e, ok
}

func (l *ledger) set(c Component, e ledgerEntry) {
	if _, ok := l.entries[c]; !ok {
		l.order = append(l.order, c)
	}
	l.entries[c] = e
}

func (l *ledger) open(c Component, at time.Time) {
	l.set(c, ledgerEntry{open: true, at: at})
}

func (l *ledger) tombstone(c Component) {
	l.set(c, ledgerEntry{})
}

// seenApp reports whether any component of app has an entry.
func (l *ledger) seenApp(app string) bool {
	for _, c := range l.order {
		if c.App == app {
			return true
		}
	}
	return false
}

// earliestOpenSince returns the smallest open timestamp at or after since
// among app's components. Siblings opened before since are skipped on
// purpose: an unfiltered minimum would end the interval before it began.
// The rule of taking the minimum over every open sibling is narrowed here,
// and emit still clamps as a backstop.
func (l *ledger) earliestOpenSince(app string, since time.Time) (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, c := range l.order {
		e := l.entries[c]
		if c.App != app || !e.open || e.at.Before(since) {
			continue
		}
		if !found || e.at.Before(earliest) {
			earliest, found = e.at, true
		}
	}
	return earliest, found
}

// closeApp tombstones every component of app.
func (l *ledger) closeApp(app string) {
	for _, c := range l.order {
		if c.App == app {
			l.entries[c] = ledgerEntry{}
		}
	}
}

func (l *ledger) closeAll() {
	for _, c := range l.order {
		l.entries[c] = ledgerEntry{}
	}
}

// each calls fn for every entry in insertion order, reading the entry at the
// time of the call so updates made by fn are observed by later iterations.
func (l *ledger) each(fn func(c Component, e ledgerEntry)) {
	for _, c := range l.order {
		fn(c, l.entries[c])
	}
}

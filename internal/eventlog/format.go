// Package eventlog reads and writes exported usage event logs.
//
// Two line formats are supported. The tab-separated format holds one event
// per line:
//
//	<epoch_ms>\t<type_code>\t<package>\t<class>
//
// Device shutdown/startup lines leave package and class empty. The JSON-lines
// format holds one object per line:
//
//	{"ts":1710000000000,"type":1,"package":"com.example","class":".Main"}
//
// Blank lines and lines starting with '#' are skipped in both formats.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fakeyudi/fgtrace/internal/usage"
)

// Format selects the line encoding of an event log.
type Format int

const (
	FormatTSV Format = iota
	FormatJSONL
)

func (f Format) String() string {
	if f == FormatJSONL {
		return "jsonl"
	}
	return "tsv"
}

// FormatFor picks the format from the file extension. Anything that is not
// .jsonl or .ndjson is treated as tab separated.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatTSV
	}
}

// LineError describes a malformed line.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

var (
	errFieldCount = errors.New("expected 2 to 4 tab-separated fields")
	errNoPackage  = errors.New("component event without package")
)

// jsonRecord is the JSON-lines wire shape of one event.
type jsonRecord struct {
	TS      int64  `json:"ts"`
	Type    int    `json:"type"`
	Package string `json:"package,omitempty"`
	Class   string `json:"class,omitempty"`
}

// Parse decodes every event in r in file order. Malformed lines are returned
// as LineErrors and skipped; err is only set when r itself fails.
func Parse(r io.Reader, format Format) (events []usage.Event, skipped []*LineError, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		var (
			ev   usage.Event
			perr error
		)
		if format == FormatJSONL {
			ev, perr = parseJSONLine(trimmed)
		} else {
			ev, perr = parseTSVLine(line)
		}
		if perr != nil {
			skipped = append(skipped, &LineError{Line: n, Text: line, Err: perr})
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, scanner.Err()
}

func parseTSVLine(line string) (usage.Event, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 || len(fields) > 4 {
		return usage.Event{}, errFieldCount
	}
	// Device events may omit the trailing package and class columns.
	for len(fields) < 4 {
		fields = append(fields, "")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return usage.Event{}, fmt.Errorf("timestamp: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return usage.Event{}, fmt.Errorf("type: %w", err)
	}
	return newEvent(ts, code, strings.TrimSpace(fields[2]), strings.TrimSpace(fields[3]))
}

func parseJSONLine(line string) (usage.Event, error) {
	var rec jsonRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return usage.Event{}, err
	}
	return newEvent(rec.TS, rec.Type, rec.Package, rec.Class)
}

func newEvent(ts int64, code int, pkg, class string) (usage.Event, error) {
	kind := usage.KindFromCode(code)
	if (kind == usage.KindOpened || kind == usage.KindClosed) && pkg == "" {
		return usage.Event{}, errNoPackage
	}
	return usage.Event{
		Kind:      kind,
		Component: usage.Component{App: pkg, Class: class},
		Timestamp: time.UnixMilli(ts),
	}, nil
}

// Encode writes events to w in the given format. Unknown events are skipped
// since they carry no raw code to preserve.
func Encode(w io.Writer, format Format, events ...usage.Event) error {
	bw := bufio.NewWriter(w)
	for _, e := range events {
		code := e.Kind.Code()
		if code == 0 {
			continue
		}
		ts := e.Timestamp.UnixMilli()
		if format == FormatJSONL {
			data, err := json.Marshal(jsonRecord{TS: ts, Type: code, Package: e.Component.App, Class: e.Component.Class})
			if err != nil {
				return err
			}
			bw.Write(data)
			bw.WriteByte('\n')
			continue
		}
		fmt.Fprintf(bw, "%d\t%d\t%s\t%s\n", ts, code, e.Component.App, e.Component.Class)
	}
	return bw.Flush()
}

// Package usage reconstructs per-application foreground intervals from a
// noisy stream of component lifecycle events.
//
// The event log is known to be unreliable: opens can miss their close, closes
// can appear without an open, and events close together can be emitted out of
// order. Reconcile resolves each of these into a named Scenario instead of
// dropping or double-counting time.
package usage

import (
	"fmt"
	"time"
)

// Component identifies one foreground-capable part of an application.
// Two components are equal iff both fields match.
type Component struct {
	App   string `json:"app"`
	Class string `json:"class"`
}

func (c Component) String() string {
	if c.Class == "" {
		return c.App
	}
	return c.App + "/" + c.Class
}

// Kind is the normalized type of a lifecycle event.
type Kind int

const (
	// KindUnknown is any raw event type fgtrace does not model. Consumers
	// ignore it.
	KindUnknown Kind = iota
	KindOpened
	KindClosed
	KindDeviceShutdown
	KindDeviceStartup
)

func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindClosed:
		return "closed"
	case KindDeviceShutdown:
		return "device_shutdown"
	case KindDeviceStartup:
		return "device_startup"
	default:
		return "unknown"
	}
}

// Raw event type codes as written by the platform usage log.
const (
	CodeActivityResumed     = 1
	CodeActivityPaused      = 2
	CodeEndOfDay            = 3 // legacy, hidden: same as CodeActivityPaused
	CodeContinuePreviousDay = 4 // legacy, hidden: same as CodeActivityResumed
	CodeActivityStopped     = 23
	CodeDeviceShutdown      = 26
	CodeDeviceStartup       = 27
)

// KindFromCode maps a raw event type code to its Kind. Codes that are not
// modeled map to KindUnknown so newer log producers never break a query.
func KindFromCode(code int) Kind {
	switch code {
	case CodeActivityResumed, CodeContinuePreviousDay:
		return KindOpened
	case CodeActivityPaused, CodeActivityStopped, CodeEndOfDay:
		return KindClosed
	case CodeDeviceShutdown:
		return KindDeviceShutdown
	case CodeDeviceStartup:
		return KindDeviceStartup
	default:
		return KindUnknown
	}
}

// Code returns the canonical raw code for k, or 0 for KindUnknown.
func (k Kind) Code() int {
	switch k {
	case KindOpened:
		return CodeActivityResumed
	case KindClosed:
		return CodeActivityPaused
	case KindDeviceShutdown:
		return CodeDeviceShutdown
	case KindDeviceStartup:
		return CodeDeviceStartup
	default:
		return 0
	}
}

// Event is a single lifecycle event. Component is empty for device events.
type Event struct {
	Kind      Kind
	Component Component
	Timestamp time.Time
}

// Opened returns an Opened event for c at t.
func Opened(c Component, t time.Time) Event {
	return Event{Kind: KindOpened, Component: c, Timestamp: t}
}

// Closed returns a Closed event for c at t.
func Closed(c Component, t time.Time) Event {
	return Event{Kind: KindClosed, Component: c, Timestamp: t}
}

// DeviceShutdown returns a shutdown marker at t.
func DeviceShutdown(t time.Time) Event {
	return Event{Kind: KindDeviceShutdown, Timestamp: t}
}

// DeviceStartup returns a startup marker at t.
func DeviceStartup(t time.Time) Event {
	return Event{Kind: KindDeviceStartup, Timestamp: t}
}

func (e Event) String() string {
	ts := e.Timestamp.UnixMilli()
	switch e.Kind {
	case KindDeviceShutdown, KindDeviceStartup:
		return fmt.Sprintf("%s@%d", e.Kind, ts)
	default:
		return fmt.Sprintf("%s(%s)@%d", e.Kind, e.Component, ts)
	}
}

// Interval is a half-open span [Start, End) during which App was in the
// foreground.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	App   string    `json:"app"`
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

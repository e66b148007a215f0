// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package capture defines the capture-source contract and the built-in
// trackers: window focus, browser URL, conference status, process
// lifecycle, and screenshots.
//
// A Source produces a batch of events when polled. Sources own their
// private "last observed" state between polls; a poll failure never resets
// that state, and nothing outside the source ever inspects it. Platform
// heuristics (active window lookup, URL extraction, screen grabbing) are
// injected behind probe interfaces so they stay interchangeable.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// ErrProbeUnavailable is returned by probes on platforms where the
// underlying facility does not exist. Trackers treat it as "nothing
// observed", not as a poll failure.
var ErrProbeUnavailable = errors.New("capture probe unavailable on this platform")

// Source is one polymorphic capture unit, built-in or plugin-supplied.
type Source interface {
	// Name returns the unique source name.
	Name() string

	// Capture produces the batch of events observed since the previous
	// poll. An empty batch with a nil error is a normal outcome.
	Capture(ctx context.Context) ([]event.Event, error)
}

// Descriptor describes a registered capture source.
type Descriptor struct {
	// Name is unique across the active set.
	Name string

	// Version of the source implementation.
	Version string

	// PollInterval is how often the orchestrator invokes the source.
	PollInterval time.Duration

	// Timeout bounds a single Capture call. Zero means the
	// orchestrator default.
	Timeout time.Duration

	// Enabled gates registration; disabled sources are never polled.
	Enabled bool

	// LoadOrigin is the filesystem path of a plugin-sourced entry,
	// empty for built-ins.
	LoadOrigin string
}

// Scorer annotates events with a productivity score. The agent core never
// computes scores itself; when no scorer is configured events ship
// without one.
type Scorer interface {
	Score(ev *event.Event)
}

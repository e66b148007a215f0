// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"strings"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// defaultConferenceProcesses matches the process names of common
// conferencing clients, lowercased, by substring.
var defaultConferenceProcesses = []string{
	"zoom",
	"teams",
	"webex",
	"skype",
	"slack",
	"discord",
	"gotomeeting",
}

// ConferenceTracker detects whether a conferencing client is running and
// emits a ConferenceStatus event on each started/ended transition. The
// ended event carries the call duration.
type ConferenceTracker struct {
	lister  ProcessLister
	matches []string

	active      bool
	activeApp   string
	activeSince time.Time
}

// NewConferenceTracker creates a conference status tracker. An empty
// matches list falls back to the built-in process name set.
func NewConferenceTracker(lister ProcessLister, matches []string) *ConferenceTracker {
	if lister == nil {
		lister = GopsutilLister{}
	}
	if len(matches) == 0 {
		matches = defaultConferenceProcesses
	}
	lowered := make([]string, len(matches))
	for i, m := range matches {
		lowered[i] = strings.ToLower(m)
	}
	return &ConferenceTracker{lister: lister, matches: lowered}
}

// Name implements Source.
func (t *ConferenceTracker) Name() string { return "conference" }

// Capture implements Source.
func (t *ConferenceTracker) Capture(ctx context.Context) ([]event.Event, error) {
	snapshot, err := t.lister.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	app := t.findConferenceApp(snapshot)
	now := time.Now().UTC()

	switch {
	case app != "" && !t.active:
		t.active = true
		t.activeApp = app
		t.activeSince = now

		ev := event.New(event.KindConferenceStatus)
		ev.CapturedAt = now
		ev.ApplicationName = app
		ev.Metadata = event.Metadata{"status": "started"}
		return []event.Event{ev}, nil

	case app == "" && t.active:
		ev := event.New(event.KindConferenceStatus)
		ev.CapturedAt = now
		ev.ApplicationName = t.activeApp
		ev.DurationSeconds = event.Interval(now.Sub(t.activeSince))
		ev.Metadata = event.Metadata{"status": "ended"}

		t.active = false
		t.activeApp = ""
		return []event.Event{ev}, nil
	}

	return nil, nil
}

func (t *ConferenceTracker) findConferenceApp(snapshot map[int32]ProcessInfo) string {
	for _, info := range snapshot {
		name := strings.ToLower(info.Name)
		for _, m := range t.matches {
			if strings.Contains(name, m) {
				return info.Name
			}
		}
	}
	return ""
}

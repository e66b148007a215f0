// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// ProcessInfo is one running process as seen by a snapshot.
type ProcessInfo struct {
	PID       int32
	Name      string
	StartedAt time.Time
}

// ProcessLister snapshots the running process table. The default
// implementation uses gopsutil; tests inject fakes.
type ProcessLister interface {
	Snapshot(ctx context.Context) (map[int32]ProcessInfo, error)
}

// GopsutilLister lists processes via gopsutil.
type GopsutilLister struct{}

// Snapshot implements ProcessLister.
func (GopsutilLister) Snapshot(ctx context.Context) (map[int32]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]ProcessInfo, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			// Kernel threads and processes that exited mid-scan.
			continue
		}
		info := ProcessInfo{PID: p.Pid, Name: name}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartedAt = time.UnixMilli(ms).UTC()
		}
		out[p.Pid] = info
	}
	return out, nil
}

// ProcessTracker diffs consecutive process table snapshots and emits
// ProcessStart for new PIDs and ProcessStop (with lifetime duration) for
// vanished ones. The first successful poll only establishes the baseline;
// emitting an event per already-running process at agent startup would be
// noise, not observation.
type ProcessTracker struct {
	lister ProcessLister

	previous map[int32]ProcessInfo
	primed   bool
}

// NewProcessTracker creates a process lifecycle tracker.
func NewProcessTracker(lister ProcessLister) *ProcessTracker {
	if lister == nil {
		lister = GopsutilLister{}
	}
	return &ProcessTracker{lister: lister}
}

// Name implements Source.
func (t *ProcessTracker) Name() string { return "process" }

// Capture implements Source.
func (t *ProcessTracker) Capture(ctx context.Context) ([]event.Event, error) {
	current, err := t.lister.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if !t.primed {
		t.previous = current
		t.primed = true
		return nil, nil
	}

	now := time.Now().UTC()
	var events []event.Event

	for pid, info := range current {
		if _, existed := t.previous[pid]; existed {
			continue
		}
		ev := event.New(event.KindProcessStart)
		ev.CapturedAt = now
		ev.ProcessName = info.Name
		ev.ProcessID = strconv.Itoa(int(pid))
		events = append(events, ev)
	}

	for pid, info := range t.previous {
		if _, alive := current[pid]; alive {
			continue
		}
		ev := event.New(event.KindProcessStop)
		ev.CapturedAt = now
		ev.ProcessName = info.Name
		ev.ProcessID = strconv.Itoa(int(pid))
		if !info.StartedAt.IsZero() {
			ev.DurationSeconds = event.Interval(now.Sub(info.StartedAt))
		}
		events = append(events, ev)
	}

	t.previous = current
	return events, nil
}

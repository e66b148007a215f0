// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// WindowInfo describes the currently focused window.
type WindowInfo struct {
	ApplicationName string
	WindowTitle     string
	WindowClass     string
	ProcessName     string
	ProcessID       int32
}

// identity is the stable logical key for a window: process plus window
// class, deliberately not the volatile native window handle.
func (w WindowInfo) identity() string {
	return w.ProcessName + "/" + w.WindowClass
}

// WindowProbe looks up the currently focused window. Implementations are
// platform-specific and interchangeable.
type WindowProbe interface {
	ActiveWindow(ctx context.Context) (WindowInfo, error)
}

// WindowTracker emits a WindowFocus event each time focus moves to a
// different window, carrying the duration the previous window held focus.
type WindowTracker struct {
	probe WindowProbe

	// Private state across polls. A failed poll leaves it untouched.
	current      WindowInfo
	focusedSince time.Time
	haveCurrent  bool
	titles       *lastSeenCache
}

// NewWindowTracker creates a window focus tracker using the given probe.
func NewWindowTracker(probe WindowProbe) *WindowTracker {
	return &WindowTracker{
		probe:  probe,
		titles: newLastSeenCache(256),
	}
}

// Name implements Source.
func (t *WindowTracker) Name() string { return "window" }

// Capture implements Source.
func (t *WindowTracker) Capture(ctx context.Context) ([]event.Event, error) {
	info, err := t.probe.ActiveWindow(ctx)
	if errors.Is(err, ErrProbeUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if !t.haveCurrent {
		t.current = info
		t.focusedSince = now
		t.haveCurrent = true
		t.titles.Put(info.identity(), info.WindowTitle)
		return nil, nil
	}

	sameWindow := info.identity() == t.current.identity()
	if sameWindow {
		// Title churn within the same window (tab switches, document
		// renames) updates the cache but emits nothing; the focus
		// interval is still running.
		t.titles.Put(info.identity(), info.WindowTitle)
		t.current = info
		return nil, nil
	}

	// Focus moved: close out the interval on the previous window.
	ev := event.New(event.KindWindowFocus)
	ev.CapturedAt = now
	ev.ApplicationName = t.current.ApplicationName
	ev.WindowTitle = t.current.WindowTitle
	ev.ProcessName = t.current.ProcessName
	ev.ProcessID = strconv.Itoa(int(t.current.ProcessID))
	ev.DurationSeconds = event.Interval(now.Sub(t.focusedSince))
	ev.Metadata = event.Metadata{
		"window_class": t.current.WindowClass,
		"next_app":     info.ApplicationName,
	}

	t.titles.Evict(t.current.identity())
	t.current = info
	t.focusedSince = now
	t.titles.Put(info.identity(), info.WindowTitle)

	return []event.Event{ev}, nil
}

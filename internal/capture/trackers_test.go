// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

type fakeWindowProbe struct {
	windows []WindowInfo
	errs    []error
	calls   int
}

func (p *fakeWindowProbe) ActiveWindow(context.Context) (WindowInfo, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return WindowInfo{}, p.errs[i]
	}
	if i >= len(p.windows) {
		i = len(p.windows) - 1
	}
	return p.windows[i], nil
}

func TestWindowTrackerEmitsOnFocusChange(t *testing.T) {
	editor := WindowInfo{ApplicationName: "Editor", WindowTitle: "main.go", WindowClass: "editor-frame", ProcessName: "editor", ProcessID: 100}
	mail := WindowInfo{ApplicationName: "Mail", WindowTitle: "Inbox", WindowClass: "mail-frame", ProcessName: "mail", ProcessID: 200}

	probe := &fakeWindowProbe{windows: []WindowInfo{editor, editor, mail}}
	tr := NewWindowTracker(probe)
	ctx := context.Background()

	// First poll primes the baseline.
	events, err := tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("first poll: events=%d err=%v, want none", len(events), err)
	}

	// Same window again: still nothing.
	events, err = tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("same window poll: events=%d err=%v, want none", len(events), err)
	}

	// Focus change: one WindowFocus event for the previous window.
	events, err = tr.Capture(ctx)
	if err != nil {
		t.Fatalf("focus change poll: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("focus change poll: %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindWindowFocus {
		t.Errorf("kind = %q, want window_focus", ev.Kind)
	}
	if ev.ApplicationName != "Editor" {
		t.Errorf("application = %q, want previous window Editor", ev.ApplicationName)
	}
	if ev.DurationSeconds == nil {
		t.Error("duration missing on completed focus interval")
	}
}

func TestWindowTrackerTitleChurnDoesNotEmit(t *testing.T) {
	w1 := WindowInfo{ApplicationName: "Browser", WindowTitle: "Tab A", WindowClass: "browser", ProcessName: "browser", ProcessID: 1}
	w2 := w1
	w2.WindowTitle = "Tab B"

	probe := &fakeWindowProbe{windows: []WindowInfo{w1, w2}}
	tr := NewWindowTracker(probe)
	ctx := context.Background()

	if _, err := tr.Capture(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	events, err := tr.Capture(ctx)
	if err != nil {
		t.Fatalf("title churn poll: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("title churn emitted %d events, want 0", len(events))
	}
}

func TestWindowTrackerStateSurvivesFailedPoll(t *testing.T) {
	editor := WindowInfo{ApplicationName: "Editor", WindowTitle: "x", WindowClass: "e", ProcessName: "editor", ProcessID: 1}
	mail := WindowInfo{ApplicationName: "Mail", WindowTitle: "y", WindowClass: "m", ProcessName: "mail", ProcessID: 2}

	probe := &fakeWindowProbe{
		windows: []WindowInfo{editor, {}, mail},
		errs:    []error{nil, errors.New("probe glitch"), nil},
	}
	tr := NewWindowTracker(probe)
	ctx := context.Background()

	if _, err := tr.Capture(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if _, err := tr.Capture(ctx); err == nil {
		t.Fatal("expected error from failing poll")
	}

	// The failed poll must not have reset the baseline: the next change
	// still references the editor window.
	events, err := tr.Capture(ctx)
	if err != nil {
		t.Fatalf("poll after failure: %v", err)
	}
	if len(events) != 1 || events[0].ApplicationName != "Editor" {
		t.Fatalf("events after failure = %+v, want focus event for Editor", events)
	}
}

func TestWindowTrackerProbeUnavailable(t *testing.T) {
	tr := NewWindowTracker(UnavailableWindowProbe{})
	events, err := tr.Capture(context.Background())
	if err != nil || events != nil {
		t.Fatalf("unavailable probe: events=%v err=%v, want nil/nil", events, err)
	}
}

type fakeURLProbe struct {
	urls  []URLInfo
	calls int
}

func (p *fakeURLProbe) ActiveURL(context.Context) (URLInfo, error) {
	i := p.calls
	p.calls++
	if i >= len(p.urls) {
		i = len(p.urls) - 1
	}
	return p.urls[i], nil
}

func TestBrowserTrackerEmitsOnURLChange(t *testing.T) {
	probe := &fakeURLProbe{urls: []URLInfo{
		{URL: "https://example.com/a", BrowserName: "firefox", PageTitle: "A"},
		{URL: "https://example.com/a", BrowserName: "firefox", PageTitle: "A"},
		{URL: "https://example.com/b", BrowserName: "firefox", PageTitle: "B"},
	}}
	tr := NewBrowserTracker(probe)
	ctx := context.Background()

	events, err := tr.Capture(ctx)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(events) != 1 || events[0].URL != "https://example.com/a" {
		t.Fatalf("first poll events = %+v, want one browser_url for /a", events)
	}

	events, err = tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("same URL poll: events=%d err=%v, want none", len(events), err)
	}

	events, err = tr.Capture(ctx)
	if err != nil {
		t.Fatalf("changed URL poll: %v", err)
	}
	if len(events) != 1 || events[0].URL != "https://example.com/b" {
		t.Fatalf("changed URL events = %+v, want one browser_url for /b", events)
	}
}

type fakeLister struct {
	snapshots []map[int32]ProcessInfo
	calls     int
}

func (l *fakeLister) Snapshot(context.Context) (map[int32]ProcessInfo, error) {
	i := l.calls
	l.calls++
	if i >= len(l.snapshots) {
		i = len(l.snapshots) - 1
	}
	return l.snapshots[i], nil
}

func TestProcessTrackerDiffsSnapshots(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	base := map[int32]ProcessInfo{
		1: {PID: 1, Name: "init", StartedAt: started},
		2: {PID: 2, Name: "editor", StartedAt: started},
	}
	next := map[int32]ProcessInfo{
		1: {PID: 1, Name: "init", StartedAt: started},
		3: {PID: 3, Name: "compiler", StartedAt: time.Now().UTC()},
	}

	tr := NewProcessTracker(&fakeLister{snapshots: []map[int32]ProcessInfo{base, next}})
	ctx := context.Background()

	// Baseline poll emits nothing.
	events, err := tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("baseline poll: events=%d err=%v, want none", len(events), err)
	}

	events, err = tr.Capture(ctx)
	if err != nil {
		t.Fatalf("diff poll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("diff poll: %d events, want start+stop", len(events))
	}

	var sawStart, sawStop bool
	for _, ev := range events {
		switch ev.Kind {
		case event.KindProcessStart:
			sawStart = true
			if ev.ProcessName != "compiler" {
				t.Errorf("start event for %q, want compiler", ev.ProcessName)
			}
		case event.KindProcessStop:
			sawStop = true
			if ev.ProcessName != "editor" {
				t.Errorf("stop event for %q, want editor", ev.ProcessName)
			}
			if ev.DurationSeconds == nil || *ev.DurationSeconds < 59 {
				t.Errorf("stop duration = %v, want ~60s", ev.DurationSeconds)
			}
		}
	}
	if !sawStart || !sawStop {
		t.Fatalf("missing start (%v) or stop (%v) event", sawStart, sawStop)
	}
}

func TestConferenceTrackerTransitions(t *testing.T) {
	idle := map[int32]ProcessInfo{1: {PID: 1, Name: "shell"}}
	inCall := map[int32]ProcessInfo{1: {PID: 1, Name: "shell"}, 2: {PID: 2, Name: "zoom.us"}}

	tr := NewConferenceTracker(&fakeLister{snapshots: []map[int32]ProcessInfo{idle, inCall, inCall, idle}}, nil)
	ctx := context.Background()

	events, err := tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("idle poll: events=%d err=%v, want none", len(events), err)
	}

	events, err = tr.Capture(ctx)
	if err != nil {
		t.Fatalf("call start poll: %v", err)
	}
	if len(events) != 1 || events[0].Metadata["status"] != "started" {
		t.Fatalf("call start events = %+v, want started", events)
	}

	events, err = tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("ongoing call poll: events=%d err=%v, want none", len(events), err)
	}

	events, err = tr.Capture(ctx)
	if err != nil {
		t.Fatalf("call end poll: %v", err)
	}
	if len(events) != 1 || events[0].Metadata["status"] != "ended" {
		t.Fatalf("call end events = %+v, want ended", events)
	}
	if events[0].DurationSeconds == nil {
		t.Error("ended event missing call duration")
	}
}

type fakeGrabber struct{ img []byte }

func (g fakeGrabber) Grab(context.Context) ([]byte, error) { return g.img, nil }

func TestScreenshotTrackerSpoolsAndRateLimits(t *testing.T) {
	spool := t.TempDir()
	tr := NewScreenshotTracker(fakeGrabber{img: []byte("png-bytes")}, spool, time.Hour)
	ctx := context.Background()

	events, err := tr.Capture(ctx)
	if err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("first capture: %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != event.KindScreenshot || ev.PayloadRef == "" {
		t.Fatalf("screenshot event = %+v, want payload ref", ev)
	}
	data, err := os.ReadFile(ev.PayloadRef)
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("spool file: data=%q err=%v", data, err)
	}

	// Within the rate limit window the tracker stays quiet.
	events, err = tr.Capture(ctx)
	if err != nil || len(events) != 0 {
		t.Fatalf("rate-limited capture: events=%d err=%v, want none", len(events), err)
	}
}

func TestLastSeenCacheBoundsAndEviction(t *testing.T) {
	c := newLastSeenCache(2)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3") // evicts a

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry not evicted at capacity")
	}
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Errorf("c = %q/%v, want 3", v, ok)
	}

	c.Evict("b")
	if _, ok := c.Get("b"); ok {
		t.Error("explicit eviction failed")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

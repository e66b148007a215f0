// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// URLInfo describes the URL visible in the focused browser window.
type URLInfo struct {
	URL         string
	BrowserName string
	PageTitle   string
}

// URLProbe extracts the URL from the focused browser window. The concrete
// extraction heuristics (accessibility APIs, address bar scraping) are a
// platform concern behind this interface; returning ErrProbeUnavailable
// or ErrNoBrowserFocused is a normal outcome.
type URLProbe interface {
	ActiveURL(ctx context.Context) (URLInfo, error)
}

// ErrNoBrowserFocused is returned by URL probes when the focused window
// is not a browser.
var ErrNoBrowserFocused = errors.New("focused window is not a browser")

// BrowserTracker emits a BrowserUrl event whenever the observed URL
// changes.
type BrowserTracker struct {
	probe   URLProbe
	lastURL string
}

// NewBrowserTracker creates a browser URL tracker using the given probe.
func NewBrowserTracker(probe URLProbe) *BrowserTracker {
	return &BrowserTracker{probe: probe}
}

// Name implements Source.
func (t *BrowserTracker) Name() string { return "browser" }

// Capture implements Source.
func (t *BrowserTracker) Capture(ctx context.Context) ([]event.Event, error) {
	info, err := t.probe.ActiveURL(ctx)
	if errors.Is(err, ErrProbeUnavailable) || errors.Is(err, ErrNoBrowserFocused) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.URL == "" || info.URL == t.lastURL {
		return nil, nil
	}

	ev := event.New(event.KindBrowserURL)
	ev.ApplicationName = info.BrowserName
	ev.WindowTitle = info.PageTitle
	ev.URL = info.URL

	t.lastURL = info.URL
	return []event.Event{ev}, nil
}

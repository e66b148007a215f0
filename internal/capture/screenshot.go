// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// Grabber captures the screen as an encoded PNG. Platform-specific and
// interchangeable, like the other probes.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// ScreenshotTracker writes periodic screenshots to a spool directory and
// emits Screenshot events whose PayloadRef points at the spool file. The
// event itself never embeds the image; the store stays small and the sync
// payload stays line-sized.
//
// A rate limiter caps capture frequency independently of the poll
// interval, so an aggressive scheduling configuration cannot turn the
// agent into a disk hog.
type ScreenshotTracker struct {
	grabber  Grabber
	spoolDir string
	limiter  *rate.Limiter
}

// NewScreenshotTracker creates a screenshot tracker spooling into
// spoolDir, capturing at most once per minInterval.
func NewScreenshotTracker(grabber Grabber, spoolDir string, minInterval time.Duration) *ScreenshotTracker {
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	return &ScreenshotTracker{
		grabber:  grabber,
		spoolDir: spoolDir,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Name implements Source.
func (t *ScreenshotTracker) Name() string { return "screenshot" }

// Capture implements Source.
func (t *ScreenshotTracker) Capture(ctx context.Context) ([]event.Event, error) {
	if !t.limiter.Allow() {
		return nil, nil
	}

	img, err := t.grabber.Grab(ctx)
	if errors.Is(err, ErrProbeUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(t.spoolDir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(t.spoolDir, fmt.Sprintf("shot-%s.png", now.Format("20060102T150405.000")))
	if err := os.WriteFile(path, img, 0o600); err != nil {
		return nil, fmt.Errorf("write screenshot: %w", err)
	}

	ev := event.New(event.KindScreenshot)
	ev.CapturedAt = now
	ev.PayloadRef = path
	ev.Metadata = event.Metadata{
		"format": "png",
		"bytes":  len(img),
	}
	return []event.Event{ev}, nil
}

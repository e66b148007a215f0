// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// Source adapts a hosted plugin process to the capture.Source contract.
// The orchestrator polls it like any built-in tracker.
type Source struct {
	name    string
	host    *host
	timeout time.Duration
}

// Name implements capture.Source.
func (s *Source) Name() string { return s.name }

// Capture implements capture.Source. The request runs under the
// plugin's own timeout; the orchestrator's poll deadline applies on top
// through ctx.
func (s *Source) Capture(ctx context.Context) ([]event.Event, error) {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			// An already-expired poll context is not the plugin's
			// fault; fail the poll without touching the process.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	events, err := s.host.capture(timeout)
	if err != nil {
		return nil, err
	}

	// Plugins may omit identity and timestamps; fill in what the rest
	// of the pipeline requires.
	now := time.Now().UTC()
	for i := range events {
		if events[i].EventID == "" {
			fresh := event.New(events[i].Kind)
			events[i].EventID = fresh.EventID
		}
		if events[i].CapturedAt.IsZero() {
			events[i].CapturedAt = now
		}
	}
	return events, nil
}

// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Reaper runs periodic retention sweeps: it deletes synced events older
// than the configured retention, removes their spool files, and triggers
// value log garbage collection. Pending events are never touched.
type Reaper struct {
	store *Store
	cfg   Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	lastRun    time.Time
	lastReaped int64
}

// NewReaper creates a retention reaper for the given store.
func NewReaper(s *Store) *Reaper {
	return &Reaper{store: s, cfg: s.Config()}
}

// Start begins the background sweep loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	logging.Info().
		Dur("interval", r.cfg.ReapInterval).
		Dur("retention", r.cfg.Retention).
		Msg("store reaper started")
	return nil
}

// Stop gracefully stops the sweep loop, waiting for an in-flight sweep.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	logging.Info().Msg("store reaper stopped")
}

// IsRunning returns whether the reaper loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	start := time.Now()

	result, err := r.store.ReapSyncedOlderThan(ctx, r.cfg.Retention)
	if err != nil {
		logging.Error().Err(err).Msg("store reaper: sweep failed")
		return
	}

	// Spool files referenced only by reaped events are dead weight now.
	var spoolRemoved int
	for _, ref := range result.PayloadRefs {
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("payload_ref", ref).Msg("store reaper: spool file removal failed")
			continue
		}
		spoolRemoved++
	}

	if err := r.store.RunGC(); err != nil {
		logging.Error().Err(err).Msg("store reaper: gc failed")
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastReaped = result.Count
	r.mu.Unlock()

	if result.Count > 0 {
		logging.Info().
			Int64("reaped", result.Count).
			Int("spool_removed", spoolRemoved).
			Dur("duration", time.Since(start)).
			Msg("store reaper: retention sweep removed events")
	}
}

// RunNow triggers an immediate sweep, mainly for tests and the status API.
func (r *Reaper) RunNow(ctx context.Context) {
	r.sweep(ctx)
}

// LastRun reports the completion time and size of the last sweep.
func (r *Reaper) LastRun() (time.Time, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastReaped
}

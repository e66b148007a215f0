// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// PendingStore is the slice of the durable store the engine drives.
type PendingStore interface {
	ReadPending(ctx context.Context, limit int) ([]event.StoredEvent, error)
	MarkSynced(ctx context.Context, ids []uint64) error
	DropPending(ctx context.Context, ids []uint64) (int64, error)
	Release(ids []uint64)
	PendingCount() (int64, error)
}

// Uploader submits one batch and reports the acknowledged ids.
type Uploader interface {
	Upload(ctx context.Context, batch []event.StoredEvent) (*UploadResult, error)
}

// EngineConfig tunes the sync cycle.
type EngineConfig struct {
	// Interval between drain cycles when the store is quiet or the
	// last cycle succeeded.
	Interval time.Duration

	// BatchSize bounds one upload. Kept small enough that request
	// bodies and engine memory stay bounded regardless of backlog.
	BatchSize int

	// RetryBackoff is the base delay after the first failed cycle.
	RetryBackoff time.Duration

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
}

// State is a point-in-time view of the engine for the status API.
type State struct {
	LastCycle           *time.Time `json:"last_cycle,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	EventsSynced        uint64     `json:"events_synced"`
	EventsDropped       uint64     `json:"events_dropped"`
	PendingBacklog      int64      `json:"pending_backlog"`
}

// Engine is the sync loop: read pending, upload, mark exactly the
// acknowledged ids synced. Failed cycles back off exponentially; a full
// batch that succeeds triggers an immediate follow-up cycle so a large
// offline backlog drains at upload speed, not one batch per interval.
type Engine struct {
	store    PendingStore
	uploader Uploader
	cfg      EngineConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	stateMu             sync.Mutex
	lastCycle           time.Time
	lastError           string
	consecutiveFailures int
	eventsSynced        uint64
	eventsDropped       uint64
}

// NewEngine creates a sync engine draining store through uploader.
func NewEngine(store PendingStore, uploader Uploader, cfg EngineConfig) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    store,
		uploader: uploader,
		cfg:      cfg,
	}
}

// Start launches the sync loop. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)

	logging.Info().
		Dur("interval", e.cfg.Interval).
		Int("batch_size", e.cfg.BatchSize).
		Msg("Sync engine started")
	return nil
}

// Stop stops the loop and waits for an in-flight cycle to finish, so no
// store transaction is abandoned midway.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	logging.Info().Msg("Sync engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		drained := e.cycle(ctx)

		var wait time.Duration
		e.stateMu.Lock()
		failures := e.consecutiveFailures
		e.stateMu.Unlock()

		switch {
		case failures > 0:
			wait = calculateBackoff(failures, e.cfg.RetryBackoff, e.cfg.MaxBackoff)
			backoffSeconds.Set(wait.Seconds())
		case !drained:
			// Full batch went through; keep draining immediately.
			backoffSeconds.Set(0)
			continue
		default:
			wait = e.cfg.Interval
			backoffSeconds.Set(0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle performs one read-upload-mark pass. It reports whether the store
// was drained below a full batch.
func (e *Engine) cycle(ctx context.Context) (drained bool) {
	batch, err := e.store.ReadPending(ctx, e.cfg.BatchSize)
	if err != nil {
		e.recordFailure(err)
		logging.Error().Err(err).Msg("Sync cycle cannot read pending events")
		return true
	}
	if len(batch) == 0 {
		e.recordSuccess(0, 0)
		return true
	}

	ids := make([]uint64, len(batch))
	for i := range batch {
		ids[i] = batch[i].LocalID
	}

	cyclesTotal.Inc()
	result, err := e.uploader.Upload(ctx, batch)
	if err != nil {
		e.handleUploadError(ctx, err, ids)
		return true
	}

	// Mark exactly the acknowledged ids, never "all pending as of
	// now": events appended during the upload were not in this batch.
	if len(result.Accepted) > 0 {
		if err := e.store.MarkSynced(ctx, result.Accepted); err != nil {
			// The server has these events; the next cycle re-reads
			// and re-uploads them, which dedup by event id absorbs.
			e.store.Release(ids)
			e.recordFailure(err)
			logging.Error().Err(err).Msg("Failed to mark acknowledged events synced")
			return true
		}
	}

	// Individually rejected ids stay pending for the next cycle.
	if len(result.Rejected) > 0 {
		eventsRejected.Add(float64(len(result.Rejected)))
		logging.Warn().
			Int("rejected", len(result.Rejected)).
			Msg("Server rejected records in an otherwise accepted batch")
	}
	e.store.Release(ids)

	eventsSynced.Add(float64(len(result.Accepted)))
	e.recordSuccess(len(result.Accepted), 0)
	logging.Debug().
		Int("accepted", len(result.Accepted)).
		Int("rejected", len(result.Rejected)).
		Msg("Sync cycle complete")

	return len(batch) < e.cfg.BatchSize
}

func (e *Engine) handleUploadError(ctx context.Context, err error, ids []uint64) {
	switch {
	case errors.Is(err, ErrPermanentRejection):
		// Poison batch: dropping is the documented data-loss path,
		// preferable to wedging the pipeline forever.
		dropped, dropErr := e.store.DropPending(ctx, ids)
		if dropErr != nil {
			e.store.Release(ids)
			e.recordFailure(dropErr)
			logging.Error().Err(dropErr).Msg("Failed to drop permanently rejected batch")
			return
		}
		e.store.Release(ids)
		eventsDroppedTotal.Add(float64(dropped))
		e.recordDrop(dropped, err)
		logging.Error().
			Err(err).
			Int64("dropped", dropped).
			Msg("Batch permanently rejected, events discarded")

	case errors.Is(err, ErrAuthentication):
		e.store.Release(ids)
		cycleFailures.WithLabelValues("auth").Inc()
		e.recordFailure(err)
		logging.Warn().Err(err).Msg("Sync authentication failed, will re-acquire credentials")

	default:
		e.store.Release(ids)
		cycleFailures.WithLabelValues("transient").Inc()
		e.recordFailure(err)
		logging.Warn().Err(err).Msg("Sync upload failed, backing off")
	}
}

// Snapshot reports current engine state, including the live pending
// backlog as an operational signal.
func (e *Engine) Snapshot() State {
	e.stateMu.Lock()
	st := State{
		LastError:           e.lastError,
		ConsecutiveFailures: e.consecutiveFailures,
		EventsSynced:        e.eventsSynced,
		EventsDropped:       e.eventsDropped,
	}
	if !e.lastCycle.IsZero() {
		t := e.lastCycle
		st.LastCycle = &t
	}
	e.stateMu.Unlock()

	if backlog, err := e.store.PendingCount(); err == nil {
		st.PendingBacklog = backlog
		pendingBacklog.Set(float64(backlog))
	}
	return st
}

func (e *Engine) recordSuccess(synced, dropped int) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.lastCycle = time.Now().UTC()
	e.lastError = ""
	e.consecutiveFailures = 0
	e.eventsSynced += uint64(synced)
	e.eventsDropped += uint64(dropped)
}

func (e *Engine) recordFailure(err error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.lastCycle = time.Now().UTC()
	e.lastError = err.Error()
	e.consecutiveFailures++
}

// recordDrop closes a cycle that discarded a poison batch. The cycle
// counts as resolved, not failed: retrying it is exactly what we must
// not do.
func (e *Engine) recordDrop(dropped int64, err error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.lastCycle = time.Now().UTC()
	e.lastError = err.Error()
	e.consecutiveFailures = 0
	e.eventsDropped += uint64(dropped)
}

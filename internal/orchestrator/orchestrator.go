// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator schedules capture sources and appends their
// output to the durable store.
//
// Each registered source runs on its own poll loop, so a slow or failing
// source never delays a healthy one. A poll that overruns its timeout is
// abandoned and its late result discarded; the loop skips further polls
// until the stuck call returns, instead of stacking goroutines behind it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/capture"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

var (
	// ErrDuplicateSource is returned by Register when the name is
	// already taken by an active source.
	ErrDuplicateSource = errors.New("source name already registered")

	// ErrUnknownSource is returned by Unregister for names that are
	// not registered.
	ErrUnknownSource = errors.New("source not registered")

	// ErrNotRunning is returned by operations that need a started
	// orchestrator.
	ErrNotRunning = errors.New("orchestrator not running")
)

// Appender is the slice of the store the orchestrator needs.
type Appender interface {
	Append(ctx context.Context, events []event.Event) ([]uint64, error)
}

// Options tune scheduling defaults shared by all sources.
type Options struct {
	// DefaultPollInterval applies to descriptors without one.
	DefaultPollInterval time.Duration

	// DefaultTimeout bounds a single Capture call for descriptors
	// without their own timeout.
	DefaultTimeout time.Duration

	// AppendTimeout bounds the store write for one poll batch.
	AppendTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.DefaultPollInterval <= 0 {
		o.DefaultPollInterval = 5 * time.Second
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 3 * time.Second
	}
	if o.AppendTimeout <= 0 {
		o.AppendTimeout = 5 * time.Second
	}
}

// SourceStatus is a point-in-time view of one managed source, exposed
// through the status API.
type SourceStatus struct {
	Name                string     `json:"name"`
	Version             string     `json:"version,omitempty"`
	Origin              string     `json:"origin,omitempty"`
	PollInterval        string     `json:"poll_interval"`
	LastPoll            *time.Time `json:"last_poll,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	EventsEmitted       uint64     `json:"events_emitted"`
	Stuck               bool       `json:"stuck"`
}

// managedSource pairs a source with its loop state.
type managedSource struct {
	src  capture.Source
	desc capture.Descriptor

	stop chan struct{}
	done chan struct{}

	// busy is set for the duration of a Capture call. It stays set
	// when the call overruns its deadline and is abandoned; the stuck
	// goroutine clears it whenever it finally returns.
	busy atomic.Bool

	mu                  sync.Mutex
	lastPoll            time.Time
	lastError           string
	consecutiveFailures int
	eventsEmitted       uint64
}

// Orchestrator owns the active source set and their poll loops. Sources
// can be registered and unregistered while it runs; plugin loads and
// unloads go through the same two calls as the built-ins.
type Orchestrator struct {
	store  Appender
	scorer capture.Scorer
	opts   Options

	mu      sync.Mutex
	sources map[string]*managedSource
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator writing to store. scorer may be nil.
func New(store Appender, scorer capture.Scorer, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:   store,
		scorer:  scorer,
		opts:    opts,
		sources: make(map[string]*managedSource),
	}
}

// Register adds a source under desc.Name and, when the orchestrator is
// running, starts its poll loop immediately. Disabled descriptors are
// accepted and ignored.
func (o *Orchestrator) Register(src capture.Source, desc capture.Descriptor) error {
	if desc.Name == "" {
		desc.Name = src.Name()
	}
	if desc.Name == "" {
		return errors.New("source has no name")
	}
	if !desc.Enabled {
		logging.Debug().Str("source", desc.Name).Msg("Source disabled, skipping registration")
		return nil
	}
	if desc.PollInterval <= 0 {
		desc.PollInterval = o.opts.DefaultPollInterval
	}
	if desc.Timeout <= 0 {
		desc.Timeout = o.opts.DefaultTimeout
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.sources[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, desc.Name)
	}

	ms := &managedSource{
		src:  src,
		desc: desc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	o.sources[desc.Name] = ms
	activeSources.Inc()

	logging.Info().
		Str("source", desc.Name).
		Str("version", desc.Version).
		Dur("interval", desc.PollInterval).
		Bool("plugin", desc.LoadOrigin != "").
		Msg("Capture source registered")

	if o.running {
		o.wg.Add(1)
		go o.runSource(o.ctx, ms)
	}
	return nil
}

// Unregister stops a source's loop and removes it from the active set.
// It returns once the loop has exited; a poll abandoned mid-flight keeps
// running detached and its result is discarded.
func (o *Orchestrator) Unregister(name string) error {
	o.mu.Lock()
	ms, exists := o.sources[name]
	if !exists {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	delete(o.sources, name)
	wasRunning := o.running
	o.mu.Unlock()

	close(ms.stop)
	if wasRunning {
		<-ms.done
	}
	activeSources.Dec()

	logging.Info().Str("source", name).Msg("Capture source unregistered")
	return nil
}

// Start launches a poll loop for every registered source. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true

	for _, ms := range o.sources {
		o.wg.Add(1)
		go o.runSource(o.ctx, ms)
	}

	logging.Info().Int("sources", len(o.sources)).Msg("Capture orchestrator started")
	return nil
}

// Stop stops all poll loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	logging.Info().Msg("Capture orchestrator stopped")
}

// Snapshot reports the state of every active source, sorted by the
// caller if order matters.
func (o *Orchestrator) Snapshot() []SourceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SourceStatus, 0, len(o.sources))
	for _, ms := range o.sources {
		ms.mu.Lock()
		st := SourceStatus{
			Name:                ms.desc.Name,
			Version:             ms.desc.Version,
			Origin:              ms.desc.LoadOrigin,
			PollInterval:        ms.desc.PollInterval.String(),
			LastError:           ms.lastError,
			ConsecutiveFailures: ms.consecutiveFailures,
			EventsEmitted:       ms.eventsEmitted,
			Stuck:               ms.busy.Load(),
		}
		if !ms.lastPoll.IsZero() {
			t := ms.lastPoll
			st.LastPoll = &t
		}
		ms.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// runSource is the per-source poll loop.
func (o *Orchestrator) runSource(ctx context.Context, ms *managedSource) {
	defer o.wg.Done()
	defer close(ms.done)

	ticker := time.NewTicker(ms.desc.PollInterval)
	defer ticker.Stop()

	o.poll(ctx, ms)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ms.stop:
			return
		case <-ticker.C:
			o.poll(ctx, ms)
		}
	}
}

type pollResult struct {
	events []event.Event
	err    error
}

// poll runs one Capture call under the source's timeout and appends the
// resulting batch to the store in a single transaction.
func (o *Orchestrator) poll(ctx context.Context, ms *managedSource) {
	name := ms.desc.Name

	if ms.busy.Load() {
		// A previous poll is still stuck past its deadline.
		pollsSkipped.WithLabelValues(name).Inc()
		logging.Warn().Str("source", name).Msg("Skipping poll, previous capture still in flight")
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, ms.desc.Timeout)
	defer cancel()

	started := time.Now()
	ch := make(chan pollResult, 1)
	ms.busy.Store(true)
	go func() {
		defer ms.busy.Store(false)
		events, err := ms.src.Capture(pollCtx)
		ch <- pollResult{events: events, err: err}
	}()

	var res pollResult
	select {
	case res = <-ch:
	case <-pollCtx.Done():
		// Abandon the call. The channel is buffered, so the stuck
		// goroutine can still send and exit whenever it wakes up;
		// that late result is never read.
		pollsAbandoned.WithLabelValues(name).Inc()
		o.recordFailure(ms, context.DeadlineExceeded)
		logging.Warn().
			Str("source", name).
			Dur("timeout", ms.desc.Timeout).
			Msg("Capture timed out, abandoning poll")
		return
	}

	pollDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	pollsTotal.WithLabelValues(name).Inc()

	if res.err != nil {
		o.recordFailure(ms, res.err)
		logging.Error().Err(res.err).Str("source", name).Msg("Capture poll failed")
		return
	}

	if len(res.events) == 0 {
		o.recordSuccess(ms, 0)
		return
	}

	if o.scorer != nil {
		for i := range res.events {
			o.scorer.Score(&res.events[i])
		}
	}

	// A shutdown that cancels the run context while a capture is
	// completing must not drop the collected batch; the append is
	// bounded only by its own timeout.
	appendCtx, cancelAppend := context.WithTimeout(context.Background(), o.opts.AppendTimeout)
	defer cancelAppend()

	if _, err := o.store.Append(appendCtx, res.events); err != nil {
		appendFailures.WithLabelValues(name).Inc()
		o.recordFailure(ms, err)
		logging.Error().
			Err(err).
			Str("source", name).
			Int("events", len(res.events)).
			Msg("Failed to persist captured batch")
		return
	}

	eventsCaptured.WithLabelValues(name).Add(float64(len(res.events)))
	o.recordSuccess(ms, len(res.events))
}

func (o *Orchestrator) recordSuccess(ms *managedSource, count int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.lastPoll = time.Now().UTC()
	ms.lastError = ""
	ms.consecutiveFailures = 0
	ms.eventsEmitted += uint64(count)
}

func (o *Orchestrator) recordFailure(ms *managedSource, err error) {
	pollFailures.WithLabelValues(ms.desc.Name).Inc()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.lastPoll = time.Now().UTC()
	ms.lastError = err.Error()
	ms.consecutiveFailures++
}

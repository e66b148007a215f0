// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Rescanner keeps the loaded plugin set in sync with the plugin root. It
// reacts to filesystem notifications and falls back to periodic rescans
// when the watcher is unavailable; a ticker runs as a safety net either
// way, since fsnotify does not see events inside newly created
// subdirectories until a rescan adds them.
type Rescanner struct {
	manager  *Manager
	root     string
	interval time.Duration

	// debounce coalesces notification bursts (an unpacked plugin
	// archive fires dozens of events) into one rescan.
	debounce time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRescanner creates a rescanner syncing manager against root every
// interval, sooner when the filesystem reports changes.
func NewRescanner(manager *Manager, root string, interval time.Duration) *Rescanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Rescanner{
		manager:  manager,
		root:     root,
		interval: interval,
		debounce: 500 * time.Millisecond,
	}
}

// Start performs an initial sync and launches the watch loop. Idempotent.
func (r *Rescanner) Start(_ context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	r.manager.Sync(r.root)

	r.wg.Add(1)
	go r.watchLoop()

	logging.Info().Str("root", r.root).Dur("interval", r.interval).Msg("Plugin rescanner started")
	return nil
}

// Stop stops the watch loop and waits for it to exit.
func (r *Rescanner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	logging.Info().Msg("Plugin rescanner stopped")
}

func (r *Rescanner) watchLoop() {
	defer r.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn().Err(err).Msg("Filesystem watcher unavailable, polling only")
		r.pollLoop(nil)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(r.root); err != nil {
		logging.Warn().Err(err).Str("root", r.root).Msg("Cannot watch plugin root, polling only")
		r.pollLoop(nil)
		return
	}

	r.pollLoop(watcher)
}

// pollLoop runs ticker-driven rescans plus, when watcher is non-nil,
// debounced notification-driven ones.
func (r *Rescanner) pollLoop(watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending *time.Timer
	var pendingC <-chan time.Time

	events := make(<-chan fsnotify.Event)
	errors := make(<-chan error)
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	for {
		select {
		case <-r.stopChan:
			if pending != nil {
				pending.Stop()
			}
			return
		case <-ticker.C:
			r.manager.Sync(r.root)
			rescansTotal.Inc()
		case <-events:
			if pending == nil {
				pending = time.NewTimer(r.debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(r.debounce)
			}
		case <-pendingC:
			pending = nil
			pendingC = nil
			r.manager.Sync(r.root)
			rescansTotal.Inc()
		case err := <-errors:
			if err != nil {
				logging.Warn().Err(err).Msg("Plugin watcher error")
			}
		}
	}
}

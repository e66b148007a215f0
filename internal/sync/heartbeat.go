// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// HeartbeatConfig tunes the liveness reporter.
type HeartbeatConfig struct {
	// Endpoint is the heartbeat URL.
	Endpoint string

	// Interval between heartbeats.
	Interval time.Duration

	// AgentID and AgentVersion identify this installation.
	AgentID      string
	AgentVersion string

	// RequestTimeout bounds one heartbeat round trip.
	RequestTimeout time.Duration
}

type heartbeatBody struct {
	AgentID        string `json:"agent_id"`
	Version        string `json:"version"`
	PendingBacklog int64  `json:"pending_backlog"`
	SentAt         string `json:"sent_at"`
}

// Heartbeat periodically tells the collection service the agent is
// alive, reporting version and pending backlog size. A failed heartbeat
// is logged and skipped; the next tick tries again.
type Heartbeat struct {
	cfg    HeartbeatConfig
	http   *http.Client
	tokens TokenSource
	store  PendingStore

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeat creates a heartbeat reporter. store may be nil when no
// backlog figure is available.
func NewHeartbeat(cfg HeartbeatConfig, tokens TokenSource, store PendingStore) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Heartbeat{
		cfg:    cfg,
		tokens: tokens,
		store:  store,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Start launches the heartbeat loop. Idempotent.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.stopChan = make(chan struct{})
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(ctx)
	return nil
}

// Stop stops the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopChan)
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Heartbeat) run(ctx context.Context) {
	defer h.wg.Done()

	h.beat(ctx)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.send(ctx); err != nil {
		logging.Warn().Err(err).Msg("Heartbeat failed")
		return
	}
	heartbeatsTotal.Inc()
}

func (h *Heartbeat) send(ctx context.Context) error {
	hb := heartbeatBody{
		AgentID: h.cfg.AgentID,
		Version: h.cfg.AgentVersion,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if h.store != nil {
		if backlog, err := h.store.PendingCount(); err == nil {
			hb.PendingBacklog = backlog
		}
	}

	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if h.tokens != nil {
		token, err := h.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("heartbeat token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized && h.tokens != nil {
		h.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat status %d", resp.StatusCode)
	}
	return nil
}

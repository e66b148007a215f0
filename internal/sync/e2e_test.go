// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/capture"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/orchestrator"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/store"
)

type focusEverySource struct{}

func (focusEverySource) Name() string { return "focus" }
func (focusEverySource) Capture(context.Context) ([]event.Event, error) {
	ev := event.New(event.KindWindowFocus)
	ev.ApplicationName = "Editor"
	return []event.Event{ev}, nil
}

// TestOfflineBacklogDrainsWhenUplinkReturns runs the full pipeline: one
// source captured on a schedule while the ingestion endpoint is down,
// then the endpoint comes back and the backlog drains in one batch.
func TestOfflineBacklogDrainsWhenUplinkReturns(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "store")
	cfg.SyncWrites = false
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = s.Close() }()

	var mu gosync.Mutex
	online := false
	var received []event.StoredEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !online {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var se event.StoredEvent
			if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
				t.Errorf("bad line: %v", err)
				continue
			}
			received = append(received, se)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Capture 5 events offline.
	orch := orchestrator.New(s, nil, orchestrator.Options{})
	if err := orch.Register(focusEverySource{}, capture.Descriptor{
		Name:         "focus",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		Enabled:      true,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		n, err := s.PendingCount()
		return err == nil && n >= 5
	})
	orch.Stop()

	pending, err := s.PendingCount()
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}

	// Sync while offline: everything stays pending.
	client := NewClient(ClientConfig{
		Endpoint:       srv.URL,
		BreakerTimeout: 50 * time.Millisecond,
	}, nil)
	engine := NewEngine(s, client, fastEngineConfig())
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer engine.Stop()

	time.Sleep(100 * time.Millisecond)
	if n, err := s.PendingCount(); err != nil || n != pending {
		t.Fatalf("offline pending = %d (err %v), want %d", n, err, pending)
	}

	// Uplink returns: the backlog drains completely.
	mu.Lock()
	online = true
	mu.Unlock()

	waitFor(t, 10*time.Second, func() bool {
		n, err := s.PendingCount()
		return err == nil && n == 0
	})

	stats := s.Stats()
	if stats.SyncedCount != pending {
		t.Errorf("synced = %d, want %d", stats.SyncedCount, pending)
	}

	mu.Lock()
	defer mu.Unlock()
	if int64(len(received)) < pending {
		t.Errorf("server received %d events, want at least %d", len(received), pending)
	}
	ids := make(map[string]bool)
	for _, se := range received {
		if se.EventID == "" {
			t.Error("uploaded event missing stable event id")
		}
		ids[se.EventID] = true
	}
	if int64(len(ids)) != pending {
		t.Errorf("distinct event ids = %d, want %d", len(ids), pending)
	}
}

// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

// fakeStore mimics the durable store's pending/synced/claim semantics in
// memory.
type fakeStore struct {
	mu      gosync.Mutex
	nextID  uint64
	pending map[uint64]event.StoredEvent
	synced  map[uint64]event.StoredEvent
	dropped []uint64
	claimed map[uint64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending: make(map[uint64]event.StoredEvent),
		synced:  make(map[uint64]event.StoredEvent),
		claimed: make(map[uint64]bool),
	}
}

func (s *fakeStore) add(n int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		s.nextID++
		s.pending[s.nextID] = event.StoredEvent{
			Event:   event.New(event.KindWindowFocus),
			LocalID: s.nextID,
			State:   event.SyncPending,
		}
		ids = append(ids, s.nextID)
	}
	return ids
}

func (s *fakeStore) ReadPending(_ context.Context, limit int) ([]event.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.pending))
	for id := range s.pending {
		if !s.claimed[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []event.StoredEvent
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		s.claimed[id] = true
		out = append(out, s.pending[id])
	}
	return out, nil
}

func (s *fakeStore) MarkSynced(_ context.Context, ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		se, ok := s.pending[id]
		if !ok {
			continue
		}
		se.State = event.SyncSynced
		s.synced[id] = se
		delete(s.pending, id)
		delete(s.claimed, id)
	}
	return nil
}

func (s *fakeStore) DropPending(_ context.Context, ids []uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.pending[id]; !ok {
			continue
		}
		delete(s.pending, id)
		delete(s.claimed, id)
		s.dropped = append(s.dropped, id)
		n++
	}
	return n, nil
}

func (s *fakeStore) Release(ids []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.claimed, id)
	}
}

func (s *fakeStore) PendingCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

func (s *fakeStore) counts() (pending, synced, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.synced), len(s.dropped)
}

// scriptedUploader runs a fixed sequence of responses, repeating the
// last one.
type scriptedUploader struct {
	mu      gosync.Mutex
	script  []func(batch []event.StoredEvent) (*UploadResult, error)
	calls   int
	batches [][]uint64
}

func (u *scriptedUploader) Upload(_ context.Context, batch []event.StoredEvent) (*UploadResult, error) {
	u.mu.Lock()
	i := u.calls
	u.calls++
	ids := make([]uint64, len(batch))
	for j := range batch {
		ids[j] = batch[j].LocalID
	}
	u.batches = append(u.batches, ids)
	if i >= len(u.script) {
		i = len(u.script) - 1
	}
	fn := u.script[i]
	u.mu.Unlock()
	return fn(batch)
}

func acceptAll(batch []event.StoredEvent) (*UploadResult, error) {
	ids := make([]uint64, len(batch))
	for i := range batch {
		ids[i] = batch[i].LocalID
	}
	return &UploadResult{Accepted: ids}, nil
}

func failTransient([]event.StoredEvent) (*UploadResult, error) {
	return nil, fmt.Errorf("%w: connection refused", ErrTransient)
}

func fastEngineConfig() EngineConfig {
	return EngineConfig{
		Interval:     20 * time.Millisecond,
		BatchSize:    10,
		RetryBackoff: 5 * time.Millisecond,
		MaxBackoff:   50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEngineSyncsAllPending(t *testing.T) {
	store := newFakeStore()
	store.add(25)

	up := &scriptedUploader{script: []func([]event.StoredEvent) (*UploadResult, error){acceptAll}}
	e := NewEngine(store, up, fastEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	waitFor(t, 5*time.Second, func() bool {
		p, s, _ := store.counts()
		return p == 0 && s == 25
	})

	// Batches are bounded and no id is ever uploaded after its ack.
	up.mu.Lock()
	defer up.mu.Unlock()
	seen := make(map[uint64]bool)
	for _, batch := range up.batches {
		if len(batch) > 10 {
			t.Errorf("batch of %d exceeds configured size", len(batch))
		}
		for _, id := range batch {
			if seen[id] {
				t.Errorf("id %d uploaded again after acknowledgment", id)
			}
			seen[id] = true
		}
	}
}

func TestEngineAtLeastOnceUnderFlakyUplink(t *testing.T) {
	store := newFakeStore()
	store.add(8)

	up := &scriptedUploader{script: []func([]event.StoredEvent) (*UploadResult, error){
		failTransient,
		failTransient,
		acceptAll,
	}}
	e := NewEngine(store, up, fastEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	waitFor(t, 5*time.Second, func() bool {
		p, s, _ := store.counts()
		return p == 0 && s == 8
	})

	// The failed attempts retried the same window; nothing was marked
	// synced before a successful upload.
	up.mu.Lock()
	defer up.mu.Unlock()
	if up.calls < 3 {
		t.Fatalf("calls = %d, want at least 3", up.calls)
	}
	if got, want := len(up.batches[0]), 8; got != want {
		t.Errorf("first batch size = %d, want %d", got, want)
	}
}

func TestEnginePartialSuccessRetriesRejectedIDs(t *testing.T) {
	store := newFakeStore()
	ids := store.add(4)

	partial := func(batch []event.StoredEvent) (*UploadResult, error) {
		// Accept all but the first record.
		res := &UploadResult{}
		for i := range batch {
			if batch[i].LocalID == ids[0] {
				res.Rejected = append(res.Rejected, batch[i].LocalID)
				continue
			}
			res.Accepted = append(res.Accepted, batch[i].LocalID)
		}
		return res, nil
	}

	up := &scriptedUploader{script: []func([]event.StoredEvent) (*UploadResult, error){partial, acceptAll}}
	e := NewEngine(store, up, fastEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	// Everything syncs eventually: the rejected id rides the next
	// cycle.
	waitFor(t, 5*time.Second, func() bool {
		p, s, _ := store.counts()
		return p == 0 && s == 4
	})

	up.mu.Lock()
	defer up.mu.Unlock()
	var sawRetry bool
	for _, batch := range up.batches[1:] {
		for _, id := range batch {
			if id == ids[0] {
				sawRetry = true
			}
		}
	}
	if !sawRetry {
		t.Error("rejected id was never retried")
	}
}

func TestEnginePermanentRejectionDropsBatch(t *testing.T) {
	store := newFakeStore()
	store.add(3)

	reject := func([]event.StoredEvent) (*UploadResult, error) {
		return nil, fmt.Errorf("%w: status 400", ErrPermanentRejection)
	}
	up := &scriptedUploader{script: []func([]event.StoredEvent) (*UploadResult, error){reject}}
	e := NewEngine(store, up, fastEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	waitFor(t, 5*time.Second, func() bool {
		p, _, d := store.counts()
		return p == 0 && d == 3
	})

	if _, s, _ := store.counts(); s != 0 {
		t.Errorf("%d events marked synced from a rejected batch", s)
	}

	st := e.Snapshot()
	if st.EventsDropped != 3 {
		t.Errorf("snapshot dropped = %d, want 3", st.EventsDropped)
	}
}

func TestEngineAuthFailureKeepsEventsPending(t *testing.T) {
	store := newFakeStore()
	store.add(2)

	authFail := func([]event.StoredEvent) (*UploadResult, error) {
		return nil, fmt.Errorf("%w: status 401", ErrAuthentication)
	}
	up := &scriptedUploader{script: []func([]event.StoredEvent) (*UploadResult, error){authFail, authFail, acceptAll}}
	e := NewEngine(store, up, fastEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	// Recovery after re-registration: all events still present, then
	// synced.
	waitFor(t, 5*time.Second, func() bool {
		p, s, d := store.counts()
		return p == 0 && s == 2 && d == 0
	})
}

func TestCalculateBackoff(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute

	if got := calculateBackoff(0, base, max); got != 0 {
		t.Errorf("backoff(0) = %s, want 0", got)
	}
	if got := calculateBackoff(1, base, max); got != time.Second {
		t.Errorf("backoff(1) = %s, want 1s", got)
	}
	if got := calculateBackoff(3, base, max); got != 4*time.Second {
		t.Errorf("backoff(3) = %s, want 4s", got)
	}
	if got := calculateBackoff(20, base, max); got != max {
		t.Errorf("backoff(20) = %s, want cap %s", got, max)
	}
	if got := calculateBackoff(500, base, max); got != max {
		t.Errorf("backoff(500) = %s, want cap %s", got, max)
	}
}

// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Key prefixes. Local IDs are zero-padded fixed-width decimals, so
// lexicographic key order inside a prefix equals numeric insert order and
// prefix iteration yields events oldest-first.
const (
	prefixPending = "pending:"
	prefixSynced  = "synced:"

	seqKey       = "seq:local_id"
	seqBandwidth = 128
)

// Errors.
var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrEmptyBatch is returned when Append is called with no events.
	ErrEmptyBatch = errors.New("event batch is empty")
)

// Store is the durable event store. All mutation goes through its
// transactional operations; callers never hold an event in memory as the
// basis for a later mutation, they re-read by local ID.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	cfg Config

	// inflight tracks local IDs handed out by ReadPending and not yet
	// resolved by MarkSynced, DropPending, or Release. It keeps two
	// overlapping ReadPending calls from returning the same event while
	// its transition is unresolved.
	inflight sync.Map

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store at the configured path. Failure here
// is fatal for the agent: it must not run without durability.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open local_id sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, cfg: cfg}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Dur("retention", cfg.Retention).
		Msg("event store opened")
	return s, nil
}

// Append inserts the whole batch in one transaction: either every event
// becomes visible with a freshly assigned local ID and Pending state, or
// none do. Returned IDs are in batch order.
func (s *Store) Append(ctx context.Context, events []event.Event) ([]uint64, error) {
	start := time.Now()
	defer func() { recordAppendLatency(time.Since(start).Seconds()) }()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Reserve IDs up front. The sequence is durable and never reuses a
	// value; a crash between reservation and commit leaks IDs, which is
	// harmless because only committed rows are visible.
	ids := make([]uint64, len(events))
	stored := make([]event.StoredEvent, len(events))
	now := time.Now().UTC()
	for i := range events {
		n, err := s.seq.Next()
		if err != nil {
			return nil, fmt.Errorf("next local_id: %w", err)
		}
		ids[i] = n + 1 // local IDs start at 1
		stored[i] = event.StoredEvent{
			Event:     events[i],
			LocalID:   ids[i],
			State:     event.SyncPending,
			CreatedAt: now,
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range stored {
			data, err := marshalStored(&stored[i])
			if err != nil {
				return err
			}
			if err := txn.Set(pendingKey(stored[i].LocalID), data); err != nil {
				return fmt.Errorf("set pending %d: %w", stored[i].LocalID, err)
			}
		}
		return nil
	})
	if err != nil {
		recordAppendFailure()
		return nil, fmt.Errorf("append batch: %w", err)
	}

	recordAppend(len(stored))
	return ids, nil
}

// ReadPending returns up to limit pending events ordered by local ID
// ascending, skipping events whose IDs are already checked out by a
// concurrent caller. The returned IDs stay checked out until MarkSynced,
// DropPending, or Release resolves them.
func (s *Store) ReadPending(ctx context.Context, limit int) ([]event.StoredEvent, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	var out []event.StoredEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var se event.StoredEvent
			if err := item.Value(func(val []byte) error {
				return unmarshalStored(val, &se)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("store: skipping unreadable pending entry")
				continue
			}
			if _, claimed := s.inflight.LoadOrStore(se.LocalID, time.Now()); claimed {
				continue
			}
			out = append(out, se)
		}
		return nil
	})
	if err != nil {
		// Release anything claimed before the error.
		for i := range out {
			s.inflight.Delete(out[i].LocalID)
		}
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}

// Release returns checked-out IDs to circulation without changing their
// state. The sync engine calls this after a failed upload so the next
// cycle re-reads the same events.
func (s *Store) Release(ids []uint64) {
	for _, id := range ids {
		s.inflight.Delete(id)
	}
}

// MarkSynced transitions the listed IDs from Pending to Synced and stamps
// SyncedAt. It is idempotent: IDs already synced or unknown (for example
// already reaped) are silently ignored, never an error.
func (s *Store) MarkSynced(ctx context.Context, ids []uint64) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	var marked int
	err := s.db.Update(func(txn *badger.Txn) error {
		marked = 0
		for _, id := range ids {
			item, err := txn.Get(pendingKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get pending %d: %w", id, err)
			}

			var se event.StoredEvent
			if err := item.Value(func(val []byte) error {
				return unmarshalStored(val, &se)
			}); err != nil {
				return fmt.Errorf("unmarshal pending %d: %w", id, err)
			}

			se.State = event.SyncSynced
			se.SyncedAt = &now

			data, err := marshalStored(&se)
			if err != nil {
				return err
			}
			if err := txn.Set(syncedKey(id), data); err != nil {
				return fmt.Errorf("set synced %d: %w", id, err)
			}
			if err := txn.Delete(pendingKey(id)); err != nil {
				return fmt.Errorf("delete pending %d: %w", id, err)
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Release(ids)
	recordMarkSynced(marked)
	return nil
}

// DropPending permanently deletes the listed pending IDs without syncing
// them. This is the permanent-rejection path: the collection service has
// explicitly refused these records, and retrying forever would poison the
// upload loop. Unknown IDs are ignored.
func (s *Store) DropPending(ctx context.Context, ids []uint64) (int64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var dropped int64
	err := s.db.Update(func(txn *badger.Txn) error {
		dropped = 0
		for _, id := range ids {
			// Delete writes a tombstone regardless, so existence
			// must be checked first for an accurate count.
			if _, err := txn.Get(pendingKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return fmt.Errorf("get pending %d: %w", id, err)
			}
			if err := txn.Delete(pendingKey(id)); err != nil {
				return fmt.Errorf("delete pending %d: %w", id, err)
			}
			dropped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.Release(ids)
	recordDropped(dropped)
	return dropped, nil
}

// ReapResult reports one retention sweep.
type ReapResult struct {
	// Count is the number of synced events deleted.
	Count int64

	// PayloadRefs lists the out-of-band payload references of reaped
	// events, so the caller can delete spool files.
	PayloadRefs []string
}

// ReapSyncedOlderThan permanently deletes synced events whose SyncedAt is
// older than age. Pending events are never touched regardless of age;
// durability takes priority over storage bounds.
func (s *Store) ReapSyncedOlderThan(ctx context.Context, age time.Duration) (ReapResult, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ReapResult{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-age)
	var result ReapResult

	err := s.db.Update(func(txn *badger.Txn) error {
		result = ReapResult{}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Collect first; badger does not allow deleting during iteration.
		var keys [][]byte
		prefix := []byte(prefixSynced)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var se event.StoredEvent
			if err := item.Value(func(val []byte) error {
				return unmarshalStored(val, &se)
			}); err != nil {
				continue
			}
			syncedAt := se.CreatedAt
			if se.SyncedAt != nil {
				syncedAt = *se.SyncedAt
			}
			if !syncedAt.Before(cutoff) {
				continue
			}
			key := make([]byte, len(item.Key()))
			copy(key, item.Key())
			keys = append(keys, key)
			if se.PayloadRef != "" {
				result.PayloadRefs = append(result.PayloadRefs, se.PayloadRef)
			}
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			result.Count++
		}
		return nil
	})
	if err != nil {
		return ReapResult{}, fmt.Errorf("reap synced: %w", err)
	}

	recordReaped(result.Count)
	return result, nil
}

// Stats contains store counters for the status endpoint and metrics.
type Stats struct {
	PendingCount int64
	SyncedCount  int64
	DBSizeBytes  int64
}

// Stats counts entries by prefix and reports database size.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return Stats{}
	}

	var st Stats
	if err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pendingPrefix := []byte(prefixPending)
		for it.Seek(pendingPrefix); it.ValidForPrefix(pendingPrefix); it.Next() {
			st.PendingCount++
		}
		syncedPrefix := []byte(prefixSynced)
		for it.Seek(syncedPrefix); it.ValidForPrefix(syncedPrefix); it.Next() {
			st.SyncedCount++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("store: stats count failed")
	}

	lsm, vlog := s.db.Size()
	st.DBSizeBytes = lsm + vlog

	updatePendingGauge(st.PendingCount)
	updateSyncedGauge(st.SyncedCount)
	updateDBSizeGauge(st.DBSizeBytes)
	return st
}

// PendingCount counts events awaiting sync, a cheaper call than Stats
// for the sync engine's backlog gauge.
func (s *Store) PendingCount() (int64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, ErrStoreClosed
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// RunGC triggers BadgerDB value log garbage collection until no further
// rewrite is possible.
func (s *Store) RunGC() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	for {
		err := s.db.RunValueLogGC(s.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log gc: %w", err)
		}
		recordGCRun()
	}
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Close releases the sequence and shuts the database down, bounded by the
// configured CloseTimeout so shutdown cannot hang indefinitely.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.cfg.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	// Release unallocated sequence numbers back before closing.
	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("store: sequence release failed")
	}

	done := make(chan error, 1)
	go func() { done <- s.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close badger: %w", err)
		}
		logging.Info().Msg("event store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badger close timeout after %v", timeout)
	}
}

func pendingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPending, id))
}

func syncedKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSynced, id))
}

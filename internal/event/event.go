// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package event defines the observation model shared by every component of
// the agent: capture sources produce Events, the durable store persists
// them as StoredEvents, and the sync engine ships them to the collection
// service as newline-delimited JSON.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of a single observation.
type Kind string

// Built-in event kinds. Plugins may define their own kind strings; the
// store and sync engine treat the kind as opaque.
const (
	KindWindowFocus      Kind = "window_focus"
	KindBrowserURL       Kind = "browser_url"
	KindConferenceStatus Kind = "conference_status"
	KindProcessStart     Kind = "process_start"
	KindProcessStop      Kind = "process_stop"
	KindScreenshot       Kind = "screenshot"
)

// Metadata is an open mapping of source-specific detail. Keys are unique,
// order is irrelevant.
type Metadata map[string]any

// Event is one immutable observation recorded by a capture source.
//
// EventID is assigned at construction and is the stable identity the
// collection service deduplicates on; a retried upload carries the same
// EventID, so at-least-once delivery from the agent becomes effective
// exactly-once end to end.
type Event struct {
	// EventID is a UUID assigned once at capture time.
	EventID string `json:"event_id"`

	// Kind tags the observation variant.
	Kind Kind `json:"kind"`

	// CapturedAt is the UTC observation time, set by the capture source.
	CapturedAt time.Time `json:"captured_at"`

	// Per-kind optional fields.
	ApplicationName string `json:"application_name,omitempty"`
	WindowTitle     string `json:"window_title,omitempty"`
	URL             string `json:"url,omitempty"`
	ProcessName     string `json:"process_name,omitempty"`
	ProcessID       string `json:"process_id,omitempty"`

	// DurationSeconds is set for kinds that represent a completed
	// interval (WindowFocus, ProcessStop).
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`

	// ProductivityScore is an optional annotation computed by a scoring
	// collaborator, never by the agent core.
	ProductivityScore *float64 `json:"productivity_score,omitempty"`

	// PayloadRef is an opaque reference to out-of-band binary content,
	// e.g. a screenshot file in the spool directory. Events never embed
	// large payloads inline.
	PayloadRef string `json:"payload_ref,omitempty"`

	// Metadata carries source-specific detail.
	Metadata Metadata `json:"metadata,omitempty"`
}

// New creates an Event of the given kind captured now, with a fresh
// EventID. CapturedAt is truncated to UTC.
func New(kind Kind) Event {
	return Event{
		EventID:    uuid.New().String(),
		Kind:       kind,
		CapturedAt: time.Now().UTC(),
	}
}

// SyncState is the delivery lifecycle state of a stored event.
type SyncState string

const (
	// SyncPending means the event has not yet been acknowledged by the
	// collection service.
	SyncPending SyncState = "pending"

	// SyncSynced means a batch containing this event was positively
	// acknowledged.
	SyncSynced SyncState = "synced"
)

// StoredEvent is an Event plus the local identity assigned by the durable
// store.
type StoredEvent struct {
	Event

	// LocalID is a monotonically increasing integer assigned on insert;
	// unique within one store, never reused.
	LocalID uint64 `json:"local_id"`

	// State starts Pending and transitions to Synced exactly once, on
	// positive acknowledgment of an uploaded batch containing LocalID.
	State SyncState `json:"sync_state"`

	// CreatedAt is when the store persisted the event (distinct from
	// CapturedAt, which the source sets).
	CreatedAt time.Time `json:"created_at"`

	// SyncedAt is set on the Pending -> Synced transition.
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// Interval returns d as a duration-seconds pointer for Event construction.
func Interval(d time.Duration) *int64 {
	s := int64(d / time.Second)
	return &s
}

// Package sessionlog implements the durable session event log (C2,
// spec.md §4.2): a per-session append-only store of recorded facts
// (events) plus an attestation manifest binding content-addressed
// snapshots to the segment that introduced them.
package sessionlog

import "encoding/json"

// Event is one recorded fact in a session's history. Payload carries the
// event-kind-specific fields (e.g. advance_recorded, loop_iter_ended) as
// raw JSON so the log itself never needs to know the full event schema.
type Event struct {
	EventIndex int             `json:"eventIndex"`
	Kind       string          `json:"kind"`
	DedupeKey  string          `json:"dedupeKey"`
	Payload    json.RawMessage `json:"payload"`
}

// SnapshotPin attests that a snapshot introduced by a specific event has
// been durably pinned in the content-addressed snapshot store.
type SnapshotPin struct {
	SnapshotRef      string `json:"snapshotRef"`
	EventIndex       int    `json:"eventIndex"`
	CreatedByEventID string `json:"createdByEventId"`
}

// AppendPlan is the caller-supplied unit of work for a single append
// operation: a contiguous run of events plus the snapshot pins those
// events introduce.
type AppendPlan struct {
	Events       []Event
	SnapshotPins []SnapshotPin
}

// manifestRecordKind is the closed set of manifest.jsonl record kinds.
type manifestRecordKind string

const (
	recordSegmentClosed  manifestRecordKind = "segment_closed"
	recordSnapshotPinned manifestRecordKind = "snapshot_pinned"
)

// manifestRecord is one line of manifest.jsonl. Exactly one of the
// kind-specific field groups is populated, selected by Kind.
type manifestRecord struct {
	Kind manifestRecordKind `json:"kind"`

	// segment_closed fields.
	SegmentPath string `json:"segmentPath,omitempty"`
	FirstIndex  int    `json:"firstIndex,omitempty"`
	LastIndex   int    `json:"lastIndex,omitempty"`
	ByteLength  int64  `json:"byteLength,omitempty"`
	SHA256      string `json:"sha256,omitempty"`

	// snapshot_pinned fields.
	SnapshotRef      string `json:"snapshotRef,omitempty"`
	EventIndex       int    `json:"eventIndex,omitempty"`
	CreatedByEventID string `json:"createdByEventId,omitempty"`
}

// Log is the replayed, verified result of Load: the total order of events
// and the set of snapshot refs known to be durably pinned.
type Log struct {
	Events         []Event
	PinnedSnapshots map[string]bool
	NextEventIndex int
}

// dedupeSet returns the set of dedupeKeys already present in the log, used
// to classify an incoming AppendPlan as fresh, a pure replay, or a
// conflict (spec.md §4.2 append-plan invariants).
func (l *Log) dedupeSet() map[string]bool {
	set := make(map[string]bool, len(l.Events))
	for _, e := range l.Events {
		set[e.DedupeKey] = true
	}
	return set
}

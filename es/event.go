// Package es provides core event sourcing interfaces and types.
package es

import (
	"time"

	"github.com/google/uuid"
)

// Event represents an immutable fact about a stream, before it is stored.
// Events are value objects without a position until persisted.
type Event struct {
	// OccurredAt is when the observation was made by its source
	OccurredAt time.Time

	// StreamKey identifies the stream (for example "system:31000142")
	StreamKey string

	// EventType identifies the type of event ("signature.appeared")
	EventType string

	// AttributedSource names who or what produced the observation
	AttributedSource string

	// Payload contains the event data, encoded by the producer
	Payload []byte

	// SchemaVersion is the version of the payload schema for EventType
	SchemaVersion int

	// EventID is the globally unique identity used for idempotent appends
	EventID uuid.UUID
}

// PersistedEvent represents an event that has been stored.
// GlobalSeq, StreamVersion and RecordedAt are assigned by the log on append.
type PersistedEvent struct {
	OccurredAt       time.Time
	RecordedAt       time.Time
	StreamKey        string
	EventType        string
	AttributedSource string
	Payload          []byte
	SchemaVersion    int

	// GlobalSeq is the position in the whole log. Strictly increasing, gapless.
	GlobalSeq int64

	// StreamVersion is the position inside StreamKey, starting at 1.
	StreamVersion int64

	EventID uuid.UUID
}

// Persist returns the stored form of e at the given positions.
func (e Event) Persist(globalSeq, streamVersion int64, recordedAt time.Time) PersistedEvent {
	return PersistedEvent{
		OccurredAt:       e.OccurredAt,
		RecordedAt:       recordedAt,
		StreamKey:        e.StreamKey,
		EventType:        e.EventType,
		AttributedSource: e.AttributedSource,
		Payload:          e.Payload,
		SchemaVersion:    e.SchemaVersion,
		GlobalSeq:        globalSeq,
		StreamVersion:    streamVersion,
		EventID:          e.EventID,
	}
}

// AppendResult describes the outcome of an append.
type AppendResult struct {
	// Events holds the newly stored events, in append order.
	Events []PersistedEvent

	// GlobalSeqs holds the global sequence numbers assigned to Events.
	GlobalSeqs []int64

	// Skipped holds event IDs that were already in the log (idempotent no-ops).
	Skipped []uuid.UUID
}

// FromVersion returns the stream version before the append.
// Only meaningful for single-stream appends.
func (r AppendResult) FromVersion() int64 {
	if len(r.Events) == 0 {
		return 0
	}
	return r.Events[0].StreamVersion - 1
}

// ToVersion returns the stream version after the append.
func (r AppendResult) ToVersion() int64 {
	if len(r.Events) == 0 {
		return 0
	}
	return r.Events[len(r.Events)-1].StreamVersion
}

// IsNoop reports whether nothing was written.
func (r AppendResult) IsNoop() bool {
	return len(r.Events) == 0
}

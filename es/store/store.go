// Package store provides event store abstractions shared by the SQL adapters.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/sigledger/es"
)

var (
	// ErrAppendConflict indicates the stream version did not match the
	// expected version, or another writer claimed the same position.
	// Callers re-read the stream and retry.
	ErrAppendConflict = errors.New("append conflict: stream version changed")

	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")

	// ErrInvalidEvent indicates an event without identity, type or stream key.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrMixedStreams indicates a version expectation on a batch that spans streams.
	ErrMixedStreams = errors.New("expected version requires a single-stream batch")

	// ErrLogHeadMissing indicates the schema was not migrated.
	ErrLogHeadMissing = errors.New("log head row missing: apply migrations first")
)

// EventStore defines the interface for appending events.
type EventStore interface {
	// Append appends events within the provided transaction.
	//
	// Events whose EventID is already stored are skipped and reported in
	// AppendResult.Skipped; the rest of the batch proceeds. When every event
	// is a duplicate nothing is written and no version check is made.
	//
	// The store assigns GlobalSeq (log-wide) and StreamVersion (per stream)
	// in batch order. expectedVersion is checked against the stream before
	// anything is written; Exact and NoStream require all events to share one
	// stream key. A mismatch returns ErrAppendConflict.
	//
	// Returns ErrNoEvents if events is empty.
	Append(ctx context.Context, tx es.DBTX, expectedVersion es.ExpectedVersion, events []es.Event) (es.AppendResult, error)
}

// EventReader defines the interface for reading events sequentially.
// All positions are exclusive lower bounds: fromSeq 0 reads from the start.
type EventReader interface {
	// ReadAll reads events with global_seq > fromSeq in global order.
	ReadAll(ctx context.Context, tx es.DBTX, fromSeq int64, limit int) ([]es.PersistedEvent, error)

	// ReadStream reads events of one stream with global_seq > fromSeq in global order.
	ReadStream(ctx context.Context, tx es.DBTX, streamKey string, fromSeq int64, limit int) ([]es.PersistedEvent, error)

	// ReadRecorded reads events after cursor in ingestion order
	// (recorded_at, then global_seq), stopping before until.
	ReadRecorded(ctx context.Context, tx es.DBTX, after RecordedCursor, until time.Time, limit int) ([]es.PersistedEvent, error)

	// StreamVersion returns the current version of a stream, 0 when it has no events.
	StreamVersion(ctx context.Context, tx es.DBTX, streamKey string) (int64, error)

	// LastGlobalSeq returns the highest global_seq in the log, 0 when empty.
	LastGlobalSeq(ctx context.Context, tx es.DBTX) (int64, error)
}

// CheckpointStore persists projection progress.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, tx es.DBTX, projectionName string) (int64, error)
	UpdateCheckpoint(ctx context.Context, tx es.DBTX, projectionName string, globalSeq int64) error
}

// Snapshot is a serialized stream projection as of StreamVersion.
type Snapshot struct {
	StreamKey     string
	StreamVersion int64
	Payload       []byte
	UpdatedAt     time.Time
}

// SnapshotStore persists one snapshot per stream. Snapshots are a cache
// over the log and may be deleted at any time.
type SnapshotStore interface {
	// LoadSnapshot returns the snapshot of streamKey, or false when none is stored.
	LoadSnapshot(ctx context.Context, tx es.DBTX, streamKey string) (Snapshot, bool, error)

	// SaveSnapshot stores snap unless a snapshot with a higher or equal
	// version is already stored.
	SaveSnapshot(ctx context.Context, tx es.DBTX, snap Snapshot) error

	// DeleteSnapshot removes the snapshot of streamKey. Missing is not an error.
	DeleteSnapshot(ctx context.Context, tx es.DBTX, streamKey string) error
}

// RecordedCursor is a keyset position in ingestion order.
type RecordedCursor struct {
	// RecordedAtMillis is the recorded_at of the last event seen, in unix milliseconds.
	RecordedAtMillis int64
	// GlobalSeq is the global_seq of the last event seen.
	GlobalSeq int64
}

// RecordedFrom returns the cursor positioned just before the first event
// recorded at or after since.
func RecordedFrom(since time.Time) RecordedCursor {
	return RecordedCursor{RecordedAtMillis: since.UnixMilli() - 1, GlobalSeq: math.MaxInt64}
}

// Advance returns the cursor positioned at e.
func (c RecordedCursor) Advance(e es.PersistedEvent) RecordedCursor {
	return RecordedCursor{RecordedAtMillis: e.RecordedAt.UnixMilli(), GlobalSeq: e.GlobalSeq}
}

// ValidateEvent checks the fields every stored event needs.
func ValidateEvent(e *es.Event) error {
	switch {
	case e.EventID == uuid.Nil:
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case e.StreamKey == "":
		return fmt.Errorf("%w: missing stream key", ErrInvalidEvent)
	case e.SchemaVersion < 1:
		return fmt.Errorf("%w: schema version must be >= 1", ErrInvalidEvent)
	}
	return nil
}

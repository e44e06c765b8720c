// Package eventlog exposes the signature event log to domain code: atomic
// appends and lazy, paged replays. SQL wraps any store.EventStore in a
// transaction per batch; Memory keeps everything in process.
package eventlog

import (
	"context"
	"iter"
	"time"

	"github.com/getpup/sigledger/es"
)

// DefaultPageSize is the number of events fetched per replay page.
const DefaultPageSize = 200

// Log is the append-only event log.
type Log interface {
	// Append stores events as one all-or-nothing batch.
	// See store.EventStore for idempotency and version semantics.
	Append(ctx context.Context, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error)

	// Replay yields the events of streamKey with global_seq > fromSeq, in order.
	// Replay(ctx, key, 0) yields the whole stream.
	Replay(ctx context.Context, streamKey string, fromSeq int64) iter.Seq2[es.PersistedEvent, error]

	// ReplayAll yields every event with global_seq > fromSeq, in order.
	ReplayAll(ctx context.Context, fromSeq int64) iter.Seq2[es.PersistedEvent, error]

	// Audit yields events recorded in [since, until) ordered by recorded_at
	// then global_seq.
	Audit(ctx context.Context, since, until time.Time) iter.Seq2[es.PersistedEvent, error]

	// StreamVersion returns the number of events in streamKey.
	StreamVersion(ctx context.Context, streamKey string) (int64, error)
}

// pageFunc reads the next page after cursor.
type pageFunc[C any] func(ctx context.Context, cursor C) ([]es.PersistedEvent, error)

// paged turns a page reader into a lazy sequence. Each page is a consistent
// prefix of the log because appends commit in sequence order.
func paged[C any](ctx context.Context, start C, next func(C, es.PersistedEvent) C, read pageFunc[C], pageSize int) iter.Seq2[es.PersistedEvent, error] {
	return func(yield func(es.PersistedEvent, error) bool) {
		cursor := start
		for {
			if err := ctx.Err(); err != nil {
				yield(es.PersistedEvent{}, err)
				return
			}
			page, err := read(ctx, cursor)
			if err != nil {
				yield(es.PersistedEvent{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				cursor = next(cursor, e)
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

func afterSeq(_ int64, e es.PersistedEvent) int64 {
	return e.GlobalSeq
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[es.PersistedEvent, error]) ([]es.PersistedEvent, error) {
	var out []es.PersistedEvent
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

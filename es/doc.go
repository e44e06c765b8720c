// Package es provides the event sourcing core of sigledger.
//
// # Overview
//
// This package defines the fundamental types shared by the storage adapters,
// the event log and the projections:
//   - Event / PersistedEvent: immutable facts about a stream
//   - ExpectedVersion: optimistic concurrency on a stream's version
//   - AppendResult: what an append stored and what it skipped as duplicate
//   - DBTX: database transaction abstraction
//   - Logger: optional logging hook
//
// # Ordering
//
// Every stored event carries two positions:
//   - global_seq: position in the whole log, strictly increasing and gapless
//   - stream_version: position inside its stream, starting at 1
//
// Appends take a single global lock (the log_head row) before assigning
// global_seq, so commit order equals sequence order and a reader paging
// through the log never observes a hole or half of a batch.
//
// # Idempotency
//
// EventID is unique across the log. Appending an event whose EventID is
// already stored is a no-op: the event is reported in AppendResult.Skipped
// and the rest of the batch proceeds.
//
// # Transaction Control
//
// Stores accept a DBTX instead of managing transactions, so the caller owns
// the transaction boundary. The es/eventlog package wraps a store with the
// transaction handling that makes every batch all-or-nothing.
//
// # Database Schema
//
// Generate or apply the schema with the es/migrations package:
//
//	go run github.com/getpup/sigledger/cmd/migrate-gen -adapter sqlite -output migrations
//
// Events are stored with:
//   - global_seq: primary key, assigned explicitly under the log_head lock
//   - event_id: unique identifier (UUID) used for deduplication
//   - stream_key, stream_version: unique pair for per-stream ordering
//   - occurred_at, recorded_at: unix milliseconds
//   - attributed_source, schema_version, payload
package es

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
)

// dedupeChunk bounds the number of bind parameters in one IN (...) lookup.
const dedupeChunk = 500

const eventColumns = `global_seq, event_id, event_type, schema_version, stream_key, stream_version,
			occurred_at, recorded_at, attributed_source, payload`

// Store is a SQL-backed event store implementation.
type Store struct {
	config  store.Config
	dialect Dialect
	now     func() time.Time
}

// New creates a store for the dialect.
func New(dialect Dialect, config store.Config) *Store {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		config:  config,
		dialect: dialect,
		now:     now,
	}
}

// Config returns the configuration the store was built with.
func (s *Store) Config() store.Config {
	return s.config
}

func (s *Store) logger() es.Logger {
	return es.OrNoOp(s.config.Logger)
}

// Append implements store.EventStore.
//
//nolint:gocyclo // validation, dedupe, version check and inserts read best as one sequence
func (s *Store) Append(ctx context.Context, tx es.DBTX, expectedVersion es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if len(events) == 0 {
		return es.AppendResult{}, store.ErrNoEvents
	}
	log := s.logger()
	log.Debug(ctx, "append starting",
		"dialect", s.dialect.Name,
		"event_count", len(events),
		"expected_version", expectedVersion.String())

	for i := range events {
		if err := store.ValidateEvent(&events[i]); err != nil {
			return es.AppendResult{}, fmt.Errorf("event %d: %w", i, err)
		}
	}
	if !expectedVersion.IsAny() && len(streamKeys(events)) > 1 {
		return es.AppendResult{}, store.ErrMixedStreams
	}

	lastSeq, err := s.lockLogHead(ctx, tx)
	if err != nil {
		return es.AppendResult{}, err
	}

	fresh, skipped, err := s.dedupe(ctx, tx, events)
	if err != nil {
		return es.AppendResult{}, err
	}
	for _, id := range skipped {
		log.Info(ctx, "idempotent append skipped", "event_id", id.String())
	}
	if len(fresh) == 0 {
		return es.AppendResult{Skipped: skipped}, nil
	}

	keys := streamKeys(fresh)
	versions := make(map[string]int64, len(keys))
	for _, key := range keys {
		v, verr := s.StreamVersion(ctx, tx, key)
		if verr != nil {
			return es.AppendResult{}, verr
		}
		versions[key] = v
	}

	if !expectedVersion.IsAny() {
		key := fresh[0].StreamKey
		if !expectedVersion.Satisfied(versions[key]) {
			log.Error(ctx, "expected version validation failed",
				"stream_key", key,
				"current_version", versions[key],
				"expected_version", expectedVersion.String())
			return es.AppendResult{}, store.ErrAppendConflict
		}
	}

	insertQuery := s.dialect.Rebind(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable, eventColumns))

	recordedAt := toMillis(s.now())
	persisted := make([]es.PersistedEvent, len(fresh))
	seqs := make([]int64, len(fresh))
	for i := range fresh {
		e := &fresh[i]
		lastSeq++
		versions[e.StreamKey]++
		version := versions[e.StreamKey]

		_, execErr := tx.ExecContext(ctx, insertQuery,
			lastSeq,
			e.EventID.String(),
			e.EventType,
			e.SchemaVersion,
			e.StreamKey,
			version,
			e.OccurredAt.UnixMilli(),
			recordedAt.UnixMilli(),
			e.AttributedSource,
			payloadOrEmpty(e.Payload),
		)
		if execErr != nil {
			if s.dialect.IsUniqueViolation(execErr) {
				log.Error(ctx, "append conflict on insert",
					"stream_key", e.StreamKey,
					"stream_version", version,
					"global_seq", lastSeq)
				return es.AppendResult{}, store.ErrAppendConflict
			}
			return es.AppendResult{}, fmt.Errorf("failed to insert event %d: %w", i, execErr)
		}

		seqs[i] = lastSeq
		persisted[i] = es.Event{
			OccurredAt:       toMillis(e.OccurredAt),
			StreamKey:        e.StreamKey,
			EventType:        e.EventType,
			AttributedSource: e.AttributedSource,
			Payload:          payloadOrEmpty(e.Payload),
			SchemaVersion:    e.SchemaVersion,
			EventID:          e.EventID,
		}.Persist(lastSeq, version, recordedAt)
	}

	headQuery := s.dialect.Rebind(fmt.Sprintf(s.dialect.UpsertStreamHead, s.config.StreamHeadsTable))
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, headQuery, key, versions[key], lastSeqOf(persisted, key), recordedAt.UnixMilli()); err != nil {
			return es.AppendResult{}, fmt.Errorf("failed to update stream head: %w", err)
		}
	}

	logHeadQuery := s.dialect.Rebind(fmt.Sprintf(`UPDATE %s SET last_global_seq = ? WHERE id = 1`, s.config.LogHeadTable))
	if _, err := tx.ExecContext(ctx, logHeadQuery, lastSeq); err != nil {
		return es.AppendResult{}, fmt.Errorf("failed to advance log head: %w", err)
	}

	log.Info(ctx, "events appended",
		"streams", keys,
		"event_count", len(persisted),
		"skipped", len(skipped),
		"seq_range", fmt.Sprintf("%d-%d", seqs[0], seqs[len(seqs)-1]))

	return es.AppendResult{
		Events:     persisted,
		GlobalSeqs: seqs,
		Skipped:    skipped,
	}, nil
}

// lockLogHead serializes appenders on the log head row and returns the
// current last global_seq.
func (s *Store) lockLogHead(ctx context.Context, tx es.DBTX) (int64, error) {
	touch := fmt.Sprintf(`UPDATE %s SET last_global_seq = last_global_seq WHERE id = 1`, s.config.LogHeadTable)
	if _, err := tx.ExecContext(ctx, touch); err != nil {
		return 0, fmt.Errorf("failed to lock log head: %w", err)
	}

	query := fmt.Sprintf(`SELECT last_global_seq FROM %s WHERE id = 1%s`, s.config.LogHeadTable, s.dialect.ForUpdate)
	var last int64
	if err := tx.QueryRowContext(ctx, query).Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrLogHeadMissing
		}
		return 0, fmt.Errorf("failed to read log head: %w", err)
	}
	return last, nil
}

// dedupe splits events into the ones not yet stored and the IDs already
// present, either in the log or earlier in the same batch.
func (s *Store) dedupe(ctx context.Context, tx es.DBTX, events []es.Event) ([]es.Event, []uuid.UUID, error) {
	existing := make(map[string]struct{})
	for start := 0; start < len(events); start += dedupeChunk {
		end := min(start+dedupeChunk, len(events))
		args := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			args = append(args, events[i].EventID.String())
		}
		query := s.dialect.Rebind(fmt.Sprintf(`SELECT event_id FROM %s WHERE event_id IN (%s)`,
			s.config.EventsTable, placeholders(len(args))))

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up event ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("failed to scan event id: %w", err)
			}
			existing[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("rows error: %w", err)
		}
	}

	fresh := make([]es.Event, 0, len(events))
	var skipped []uuid.UUID
	for _, e := range events {
		id := e.EventID.String()
		if _, dup := existing[id]; dup {
			skipped = append(skipped, e.EventID)
			continue
		}
		existing[id] = struct{}{}
		fresh = append(fresh, e)
	}
	return fresh, skipped, nil
}

// ReadAll implements store.EventReader.
func (s *Store) ReadAll(ctx context.Context, tx es.DBTX, fromSeq int64, limit int) ([]es.PersistedEvent, error) {
	s.logger().Debug(ctx, "reading events", "from_seq", fromSeq, "limit", limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE global_seq > ?
		ORDER BY global_seq ASC
		LIMIT ?
	`, eventColumns, s.config.EventsTable)
	return s.query(ctx, tx, query, fromSeq, limit)
}

// ReadStream implements store.EventReader.
func (s *Store) ReadStream(ctx context.Context, tx es.DBTX, streamKey string, fromSeq int64, limit int) ([]es.PersistedEvent, error) {
	s.logger().Debug(ctx, "reading stream", "stream_key", streamKey, "from_seq", fromSeq, "limit", limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE stream_key = ? AND global_seq > ?
		ORDER BY global_seq ASC
		LIMIT ?
	`, eventColumns, s.config.EventsTable)
	return s.query(ctx, tx, query, streamKey, fromSeq, limit)
}

// ReadRecorded implements store.EventReader.
func (s *Store) ReadRecorded(ctx context.Context, tx es.DBTX, after store.RecordedCursor, until time.Time, limit int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE (recorded_at > ? OR (recorded_at = ? AND global_seq > ?))
			AND recorded_at < ?
		ORDER BY recorded_at ASC, global_seq ASC
		LIMIT ?
	`, eventColumns, s.config.EventsTable)
	return s.query(ctx, tx, query,
		after.RecordedAtMillis, after.RecordedAtMillis, after.GlobalSeq,
		until.UnixMilli(), limit)
}

// StreamVersion implements store.EventReader.
func (s *Store) StreamVersion(ctx context.Context, tx es.DBTX, streamKey string) (int64, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`SELECT stream_version FROM %s WHERE stream_key = ?`, s.config.StreamHeadsTable))
	var version int64
	err := tx.QueryRowContext(ctx, query, streamKey).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stream version: %w", err)
	}
	return version, nil
}

// LastGlobalSeq implements store.EventReader.
func (s *Store) LastGlobalSeq(ctx context.Context, tx es.DBTX) (int64, error) {
	query := fmt.Sprintf(`SELECT last_global_seq FROM %s WHERE id = 1`, s.config.LogHeadTable)
	var last int64
	if err := tx.QueryRowContext(ctx, query).Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrLogHeadMissing
		}
		return 0, fmt.Errorf("failed to read log head: %w", err)
	}
	return last, nil
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, tx es.DBTX, projectionName string) (int64, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT last_global_seq
		FROM %s
		WHERE projection_name = ?
	`, s.config.CheckpointsTable))

	var checkpoint int64
	err := tx.QueryRowContext(ctx, query, projectionName).Scan(&checkpoint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return checkpoint, nil
}

// UpdateCheckpoint implements store.CheckpointStore.
func (s *Store) UpdateCheckpoint(ctx context.Context, tx es.DBTX, projectionName string, globalSeq int64) error {
	query := s.dialect.Rebind(fmt.Sprintf(s.dialect.UpsertCheckpoint, s.config.CheckpointsTable))
	_, err := tx.ExecContext(ctx, query, projectionName, globalSeq, s.now().UnixMilli())
	return err
}

// LoadSnapshot implements store.SnapshotStore.
func (s *Store) LoadSnapshot(ctx context.Context, tx es.DBTX, streamKey string) (store.Snapshot, bool, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT stream_version, payload, updated_at
		FROM %s
		WHERE stream_key = ?
	`, s.config.SnapshotsTable))

	snap := store.Snapshot{StreamKey: streamKey}
	var updatedAt int64
	err := tx.QueryRowContext(ctx, query, streamKey).Scan(&snap.StreamVersion, &snap.Payload, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Snapshot{}, false, nil
		}
		return store.Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return snap, true, nil
}

// SaveSnapshot implements store.SnapshotStore.
func (s *Store) SaveSnapshot(ctx context.Context, tx es.DBTX, snap store.Snapshot) error {
	query := s.dialect.Rebind(fmt.Sprintf(s.dialect.UpsertSnapshot, s.config.SnapshotsTable))
	_, err := tx.ExecContext(ctx, query,
		snap.StreamKey, snap.StreamVersion, payloadOrEmpty(snap.Payload), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot implements store.SnapshotStore.
func (s *Store) DeleteSnapshot(ctx context.Context, tx es.DBTX, streamKey string) error {
	query := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE stream_key = ?`, s.config.SnapshotsTable))
	if _, err := tx.ExecContext(ctx, query, streamKey); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, tx es.DBTX, query string, args ...interface{}) ([]es.PersistedEvent, error) {
	rows, err := tx.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []es.PersistedEvent
	for rows.Next() {
		var (
			e                    es.PersistedEvent
			eventID              string
			occurredAt, recorded int64
		)
		err := rows.Scan(
			&e.GlobalSeq,
			&eventID,
			&e.EventType,
			&e.SchemaVersion,
			&e.StreamKey,
			&e.StreamVersion,
			&occurredAt,
			&recorded,
			&e.AttributedSource,
			&e.Payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.EventID, err = uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event ID: %w", err)
		}
		e.OccurredAt = time.UnixMilli(occurredAt).UTC()
		e.RecordedAt = time.UnixMilli(recorded).UTC()

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	s.logger().Debug(ctx, "events read", "count", len(events))
	return events, nil
}

// streamKeys returns the distinct stream keys in first-seen order.
func streamKeys(events []es.Event) []string {
	seen := make(map[string]struct{}, 1)
	var keys []string
	for i := range events {
		if _, ok := seen[events[i].StreamKey]; ok {
			continue
		}
		seen[events[i].StreamKey] = struct{}{}
		keys = append(keys, events[i].StreamKey)
	}
	return keys
}

func lastSeqOf(events []es.PersistedEvent, key string) int64 {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].StreamKey == key {
			return events[i].GlobalSeq
		}
	}
	return 0
}

// toMillis truncates t to the precision stored in the log.
func toMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

func payloadOrEmpty(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}

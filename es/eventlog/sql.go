package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
)

// Store is the storage a SQL log needs.
type Store interface {
	store.EventStore
	store.EventReader
}

// SQLConfig configures a SQL log.
type SQLConfig struct {
	// PageSize is the number of events read per replay page.
	PageSize int
}

// DefaultSQLConfig returns the default configuration.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{PageSize: DefaultPageSize}
}

// SQL is a Log backed by a database and one of the SQL adapters.
type SQL struct {
	db     *sql.DB
	store  Store
	config SQLConfig
}

// NewSQL creates a SQL log.
func NewSQL(db *sql.DB, s Store, config SQLConfig) *SQL {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	return &SQL{db: db, store: s, config: config}
}

// Append implements Log. The batch runs in its own transaction.
func (l *SQL) Append(ctx context.Context, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return es.AppendResult{}, fmt.Errorf("begin append: %w", err)
	}
	//nolint:errcheck // Rollback after Commit is a no-op
	defer tx.Rollback()

	res, err := l.store.Append(ctx, tx, expected, events)
	if err != nil {
		return es.AppendResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return es.AppendResult{}, fmt.Errorf("commit append: %w", err)
	}
	return res, nil
}

// Replay implements Log.
func (l *SQL) Replay(ctx context.Context, streamKey string, fromSeq int64) iter.Seq2[es.PersistedEvent, error] {
	return paged(ctx, fromSeq, afterSeq, func(ctx context.Context, after int64) ([]es.PersistedEvent, error) {
		return l.store.ReadStream(ctx, l.db, streamKey, after, l.config.PageSize)
	}, l.config.PageSize)
}

// ReplayAll implements Log.
func (l *SQL) ReplayAll(ctx context.Context, fromSeq int64) iter.Seq2[es.PersistedEvent, error] {
	return paged(ctx, fromSeq, afterSeq, func(ctx context.Context, after int64) ([]es.PersistedEvent, error) {
		return l.store.ReadAll(ctx, l.db, after, l.config.PageSize)
	}, l.config.PageSize)
}

// Audit implements Log.
func (l *SQL) Audit(ctx context.Context, since, until time.Time) iter.Seq2[es.PersistedEvent, error] {
	return paged(ctx, store.RecordedFrom(since), store.RecordedCursor.Advance,
		func(ctx context.Context, after store.RecordedCursor) ([]es.PersistedEvent, error) {
			return l.store.ReadRecorded(ctx, l.db, after, until, l.config.PageSize)
		}, l.config.PageSize)
}

// StreamVersion implements Log.
func (l *SQL) StreamVersion(ctx context.Context, streamKey string) (int64, error) {
	return l.store.StreamVersion(ctx, l.db, streamKey)
}

// LastGlobalSeq returns the highest global_seq in the log.
func (l *SQL) LastGlobalSeq(ctx context.Context) (int64, error) {
	return l.store.LastGlobalSeq(ctx, l.db)
}

// Package sqlite provides a SQLite adapter for the signature event log.
// It uses the pure-Go modernc.org/sqlite driver, registered as "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/sigledger/es/adapters/internal/sqlstore"
	"github.com/getpup/sigledger/es/store"
)

// DriverName is the database/sql driver name registered by modernc.org/sqlite.
const DriverName = "sqlite"

var dialect = sqlstore.Dialect{
	Name: "sqlite",
	UpsertStreamHead: `
		INSERT INTO %s (stream_key, stream_version, last_global_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_key)
		DO UPDATE SET
			stream_version = excluded.stream_version,
			last_global_seq = excluded.last_global_seq,
			updated_at = excluded.updated_at
	`,
	UpsertCheckpoint: `
		INSERT INTO %s (projection_name, last_global_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (projection_name)
		DO UPDATE SET
			last_global_seq = excluded.last_global_seq,
			updated_at = excluded.updated_at
	`,
	UpsertSnapshot: `
		INSERT INTO %s (stream_key, stream_version, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_key)
		DO UPDATE SET
			stream_version = excluded.stream_version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE %[1]s.stream_version < excluded.stream_version
	`,
	IsUniqueViolation: IsUniqueViolation,
}

// Store is a SQLite-backed event store.
// It implements store.EventStore, store.EventReader, store.CheckpointStore
// and store.SnapshotStore.
type Store struct {
	*sqlstore.Store
}

// NewStore creates a new SQLite event store with the given configuration.
func NewStore(config store.Config) *Store {
	return &Store{Store: sqlstore.New(dialect, config)}
}

// Open opens a SQLite database at path tuned for the event log:
// WAL journal, a busy timeout and a single connection so writers queue
// in the pool instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// IsUniqueViolation checks if an error is a SQLite unique or primary key violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Package postgres provides a PostgreSQL adapter for the signature event log.
// It uses github.com/lib/pq, registered as "postgres".
package postgres

import (
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/getpup/sigledger/es/adapters/internal/sqlstore"
	"github.com/getpup/sigledger/es/store"
)

// DriverName is the database/sql driver name registered by lib/pq.
const DriverName = "postgres"

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var dialect = sqlstore.Dialect{
	Name:               "postgres",
	DollarPlaceholders: true,
	ForUpdate:          " FOR UPDATE",
	UpsertStreamHead: `
		INSERT INTO %s (stream_key, stream_version, last_global_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_key)
		DO UPDATE SET
			stream_version = EXCLUDED.stream_version,
			last_global_seq = EXCLUDED.last_global_seq,
			updated_at = EXCLUDED.updated_at
	`,
	UpsertCheckpoint: `
		INSERT INTO %s (projection_name, last_global_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (projection_name)
		DO UPDATE SET
			last_global_seq = EXCLUDED.last_global_seq,
			updated_at = EXCLUDED.updated_at
	`,
	UpsertSnapshot: `
		INSERT INTO %s (stream_key, stream_version, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_key)
		DO UPDATE SET
			stream_version = EXCLUDED.stream_version,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		WHERE %[1]s.stream_version < EXCLUDED.stream_version
	`,
	IsUniqueViolation: IsUniqueViolation,
}

// Store is a PostgreSQL-backed event store.
// It implements store.EventStore, store.EventReader, store.CheckpointStore
// and store.SnapshotStore.
type Store struct {
	*sqlstore.Store
}

// NewStore creates a new PostgreSQL event store with the given configuration.
func NewStore(config store.Config) *Store {
	return &Store{Store: sqlstore.New(dialect, config)}
}

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

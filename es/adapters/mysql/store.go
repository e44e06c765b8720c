// Package mysql provides a MySQL/MariaDB adapter for the signature event log.
// It uses github.com/go-sql-driver/mysql, registered as "mysql".
package mysql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/getpup/sigledger/es/adapters/internal/sqlstore"
	"github.com/getpup/sigledger/es/store"
)

// DriverName is the database/sql driver name registered by go-sql-driver/mysql.
const DriverName = "mysql"

// erDupEntry is ER_DUP_ENTRY.
const erDupEntry = 1062

var dialect = sqlstore.Dialect{
	Name:      "mysql",
	ForUpdate: " FOR UPDATE",
	UpsertStreamHead: `
		INSERT INTO %s (stream_key, stream_version, last_global_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			stream_version = VALUES(stream_version),
			last_global_seq = VALUES(last_global_seq),
			updated_at = VALUES(updated_at)
	`,
	UpsertCheckpoint: `
		INSERT INTO %s (projection_name, last_global_seq, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_global_seq = VALUES(last_global_seq),
			updated_at = VALUES(updated_at)
	`,
	// Assignments run left to right, so stream_version is compared last.
	UpsertSnapshot: `
		INSERT INTO %s (stream_key, stream_version, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload = IF(VALUES(stream_version) > stream_version, VALUES(payload), payload),
			updated_at = IF(VALUES(stream_version) > stream_version, VALUES(updated_at), updated_at),
			stream_version = GREATEST(stream_version, VALUES(stream_version))
	`,
	IsUniqueViolation: IsUniqueViolation,
}

// Store is a MySQL-backed event store.
// It implements store.EventStore, store.EventReader, store.CheckpointStore
// and store.SnapshotStore.
type Store struct {
	*sqlstore.Store
}

// NewStore creates a new MySQL event store with the given configuration.
func NewStore(config store.Config) *Store {
	return &Store{Store: sqlstore.New(dialect, config)}
}

// IsUniqueViolation checks if an error is a MySQL duplicate entry error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == erDupEntry
	}

	return strings.Contains(err.Error(), "Duplicate entry")
}

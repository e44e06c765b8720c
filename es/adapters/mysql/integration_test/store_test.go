// Package integration_test contains integration tests for the MySQL adapter.
// These tests require a running MySQL instance reachable through SIGLEDGER_MYSQL_DSN,
// for example "root:root@tcp(localhost:3306)/sigledger_test".
//
// Run with: go test -tags=integration ./es/adapters/mysql/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/es/adapters/mysql"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/es/store/storetest"
)

func newStore(t *testing.T, opts ...store.Option) (*sql.DB, storetest.Store) {
	t.Helper()
	dsn := os.Getenv("SIGLEDGER_MYSQL_DSN")
	if dsn == "" {
		t.Skip("SIGLEDGER_MYSQL_DSN not set")
	}
	ctx := context.Background()

	require.NoError(t, migrations.Apply(ctx, migrations.MySQL, dsn))

	db, err := sql.Open(mysql.DriverName, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`TRUNCATE TABLE signature_events`,
		`TRUNCATE TABLE stream_heads`,
		`TRUNCATE TABLE projection_checkpoints`,
		`TRUNCATE TABLE projection_snapshots`,
		`UPDATE log_head SET last_global_seq = 0 WHERE id = 1`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	return db, mysql.NewStore(store.NewConfig(opts...))
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, _ := newStore(t)

	insert := `INSERT INTO stream_heads (stream_key, stream_version, last_global_seq, updated_at) VALUES (?, 1, 1, 0)`
	_, err := db.ExecContext(ctx, insert, "s")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "s")
	require.Error(t, err)
	require.True(t, mysql.IsUniqueViolation(err))
}

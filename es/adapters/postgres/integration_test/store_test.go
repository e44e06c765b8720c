// Package integration_test contains integration tests for the Postgres adapter.
// A disposable PostgreSQL container is started with testcontainers-go.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/getpup/sigledger/es/adapters/postgres"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/es/store/storetest"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("sigledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		panic(err)
	}

	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}
	if err := migrations.Apply(ctx, migrations.Postgres, dsn); err != nil {
		panic(err)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newStore(t *testing.T, opts ...store.Option) (*sql.DB, storetest.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open(postgres.DriverName, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx, `
		TRUNCATE signature_events, stream_heads, projection_checkpoints, projection_snapshots;
		UPDATE log_head SET last_global_seq = 0 WHERE id = 1;
	`)
	require.NoError(t, err)

	return db, postgres.NewStore(store.NewConfig(opts...))
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, _ := newStore(t)

	insert := `INSERT INTO stream_heads (stream_key, stream_version, last_global_seq, updated_at) VALUES ($1, 1, 1, 0)`
	_, err := db.ExecContext(ctx, insert, "s")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "s")
	require.Error(t, err)
	require.True(t, postgres.IsUniqueViolation(err))
}

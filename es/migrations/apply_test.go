package migrations_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/getpup/sigledger/es/migrations"
)

func TestApply_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	require.NoError(t, migrations.Apply(ctx, migrations.SQLite, path))
	// Second run is a no-op.
	require.NoError(t, migrations.Apply(ctx, migrations.SQLite, path))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var last int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT last_global_seq FROM log_head WHERE id = 1`).Scan(&last))
	require.Zero(t, last)

	for _, table := range []string{"signature_events", "stream_heads", "projection_checkpoints", "projection_snapshots"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
		require.Equal(t, 1, n, "table %s", table)
	}
}

func TestApply_UnsupportedDialect(t *testing.T) {
	err := migrations.Apply(context.Background(), "oracle", "whatever")
	require.Error(t, err)
}

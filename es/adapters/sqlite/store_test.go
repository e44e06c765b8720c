package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/adapters/sqlite"
	"github.com/getpup/sigledger/es/logging"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/es/store/storetest"
)

func newStore(t *testing.T, opts ...store.Option) (*sql.DB, storetest.Store) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	require.NoError(t, migrations.Apply(ctx, migrations.SQLite, path))

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, sqlite.NewStore(store.NewConfig(opts...))
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, _ := newStore(t)

	_, err := db.ExecContext(ctx, `INSERT INTO stream_heads (stream_key, stream_version, last_global_seq, updated_at) VALUES ('s', 1, 1, 0)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO stream_heads (stream_key, stream_version, last_global_seq, updated_at) VALUES ('s', 2, 2, 0)`)
	require.Error(t, err)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"driver error", err, true},
		{"wrapped driver error", fmt.Errorf("insert: %w", err), true},
		{"unrelated", errors.New("disk I/O error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sqlite.IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAppend_MissingLogHead(t *testing.T) {
	ctx := context.Background()
	db, s := newStore(t)

	_, err := db.ExecContext(ctx, `DELETE FROM log_head`)
	require.NoError(t, err)

	_, err = s.LastGlobalSeq(ctx, db)
	require.ErrorIs(t, err, store.ErrLogHeadMissing)
}

func TestAppend_IdempotentSkipLogsInfo(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	db, s := newStore(t, store.WithLogger(logging.NewZap(zap.New(core))))

	e := storetest.Event("system:1", "signature.appeared")
	for range 2 {
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = s.Append(ctx, tx, es.Any(), []es.Event{e})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	skipped := logs.FilterMessage("idempotent append skipped").AllUntimed()
	require.Len(t, skipped, 1)
	require.Equal(t, zap.InfoLevel, skipped[0].Level)
	require.Equal(t, e.EventID.String(), skipped[0].ContextMap()["event_id"])
	require.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())
}

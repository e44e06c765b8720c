package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/adapters/sqlite"
	"github.com/getpup/sigledger/es/migrations"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/es/store/storetest"
)

type testLog interface {
	Log
	LastGlobalSeq(ctx context.Context) (int64, error)
}

func logs(t *testing.T) map[string]func(t *testing.T, opts ...store.Option) testLog {
	return map[string]func(t *testing.T, opts ...store.Option) testLog{
		"memory": func(t *testing.T, opts ...store.Option) testLog {
			m := NewMemory()
			m.pageSize = 2
			if now := store.NewConfig(opts...).Now; now != nil {
				m.now = now
			}
			return m
		},
		"sqlite": func(t *testing.T, opts ...store.Option) testLog {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "log.db")
			require.NoError(t, migrations.Apply(ctx, migrations.SQLite, path))
			db, err := sqlite.Open(ctx, path)
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return NewSQL(db, sqlite.NewStore(store.NewConfig(opts...)), SQLConfig{PageSize: 2})
		},
	}
}

func event(stream, eventType string) es.Event {
	return es.Event{
		OccurredAt:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		StreamKey:        stream,
		EventType:        eventType,
		AttributedSource: "import",
		Payload:          []byte(`{}`),
		SchemaVersion:    1,
		EventID:          uuid.New(),
	}
}

func TestLog(t *testing.T) {
	for name, newLog := range logs(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("replay pages lazily through a stream", func(t *testing.T) {
				ctx := context.Background()
				l := newLog(t)

				for i := 0; i < 3; i++ {
					_, err := l.Append(ctx, es.Any(), []es.Event{
						event("system:a", "signature.appeared"),
						event("system:b", "signature.appeared"),
					})
					require.NoError(t, err)
				}

				stream, err := Collect(l.Replay(ctx, "system:a", 0))
				require.NoError(t, err)
				require.Len(t, stream, 3)
				assert.Equal(t, []int64{1, 3, 5}, globalSeqs(stream))
				assert.Equal(t, int64(3), stream[2].StreamVersion)

				tail, err := Collect(l.Replay(ctx, "system:a", 3))
				require.NoError(t, err)
				assert.Equal(t, []int64{5}, globalSeqs(tail))

				all, err := Collect(l.ReplayAll(ctx, 0))
				require.NoError(t, err)
				assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, globalSeqs(all))
			})

			t.Run("breaking out of a replay stops reading", func(t *testing.T) {
				ctx := context.Background()
				l := newLog(t)
				for i := 0; i < 5; i++ {
					_, err := l.Append(ctx, es.Any(), []es.Event{event("system:a", "signature.appeared")})
					require.NoError(t, err)
				}

				var seen []int64
				for e, err := range l.ReplayAll(ctx, 0) {
					require.NoError(t, err)
					seen = append(seen, e.GlobalSeq)
					if len(seen) == 3 {
						break
					}
				}
				assert.Equal(t, []int64{1, 2, 3}, seen)
			})

			t.Run("cancelled context ends replay with an error", func(t *testing.T) {
				l := newLog(t)
				_, err := l.Append(context.Background(), es.Any(), []es.Event{event("system:a", "signature.appeared")})
				require.NoError(t, err)

				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err = Collect(l.Replay(ctx, "system:a", 0))
				assert.ErrorIs(t, err, context.Canceled)
			})

			t.Run("append is idempotent and versioned", func(t *testing.T) {
				ctx := context.Background()
				l := newLog(t)

				e := event("system:a", "signature.appeared")
				_, err := l.Append(ctx, es.Exact(0), []es.Event{e})
				require.NoError(t, err)

				res, err := l.Append(ctx, es.Exact(0), []es.Event{e})
				require.NoError(t, err)
				assert.True(t, res.IsNoop())
				assert.Equal(t, []uuid.UUID{e.EventID}, res.Skipped)

				_, err = l.Append(ctx, es.Exact(0), []es.Event{event("system:a", "signature.faded")})
				assert.ErrorIs(t, err, store.ErrAppendConflict)

				_, err = l.Append(ctx, es.Exact(1), []es.Event{event("system:a", "x"), event("system:b", "y")})
				assert.ErrorIs(t, err, store.ErrMixedStreams)

				v, err := l.StreamVersion(ctx, "system:a")
				require.NoError(t, err)
				assert.Equal(t, int64(1), v)
				last, err := l.LastGlobalSeq(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), last)
			})

			t.Run("failed batch writes nothing", func(t *testing.T) {
				ctx := context.Background()
				l := newLog(t)

				bad := event("system:a", "signature.appeared")
				bad.StreamKey = ""
				_, err := l.Append(ctx, es.Any(), []es.Event{event("system:a", "signature.appeared"), bad})
				require.ErrorIs(t, err, store.ErrInvalidEvent)

				all, err := Collect(l.ReplayAll(ctx, 0))
				require.NoError(t, err)
				assert.Empty(t, all)
			})

			t.Run("audit orders by ingestion time", func(t *testing.T) {
				ctx := context.Background()
				base := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
				clock := &storetest.Clock{At: base.Add(time.Second)}
				l := newLog(t, store.WithClock(clock.Now))

				first := event("system:b", "signature.appeared")
				_, err := l.Append(ctx, es.Any(), []es.Event{first})
				require.NoError(t, err)

				clock.Set(base.Add(2 * time.Second))
				second := event("system:a", "signature.appeared")
				third := event("system:a", "signature.updated")
				_, err = l.Append(ctx, es.Any(), []es.Event{second, third})
				require.NoError(t, err)

				clock.Set(base.Add(time.Hour))
				_, err = l.Append(ctx, es.Any(), []es.Event{event("system:a", "signature.faded")})
				require.NoError(t, err)

				got, err := Collect(l.Audit(ctx, base, base.Add(time.Minute)))
				require.NoError(t, err)
				require.Len(t, got, 3)
				assert.Equal(t, first.EventID, got[0].EventID)
				assert.Equal(t, second.EventID, got[1].EventID)
				assert.Equal(t, third.EventID, got[2].EventID)
				assert.Equal(t, base.Add(2*time.Second), got[1].RecordedAt)
			})
		})
	}
}

func globalSeqs(events []es.PersistedEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.GlobalSeq
	}
	return out
}

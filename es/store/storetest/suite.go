// Package storetest holds a conformance suite run by every SQL adapter.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
)

// Store is what an adapter must implement to run the suite.
type Store interface {
	store.EventStore
	store.EventReader
	store.CheckpointStore
	store.SnapshotStore
}

// Factory returns a database with an empty, migrated schema and a store on
// it, built with opts applied over the default configuration.
type Factory func(t *testing.T, opts ...store.Option) (*sql.DB, Store)

// Event builds a valid event for stream.
func Event(stream, eventType string) es.Event {
	return es.Event{
		OccurredAt:       time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
		StreamKey:        stream,
		EventType:        eventType,
		AttributedSource: "manual",
		Payload:          []byte(fmt.Sprintf(`{"type":%q}`, eventType)),
		SchemaVersion:    1,
		EventID:          uuid.New(),
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("append assigns gapless positions", func(t *testing.T) { testAppendPositions(t, newStore) })
	t.Run("duplicates are idempotent no-ops", func(t *testing.T) { testIdempotentAppend(t, newStore) })
	t.Run("expected version", func(t *testing.T) { testExpectedVersion(t, newStore) })
	t.Run("rollback leaves no trace", func(t *testing.T) { testRollback(t, newStore) })
	t.Run("read stream pages", func(t *testing.T) { testReadStream(t, newStore) })
	t.Run("read recorded order", func(t *testing.T) { testReadRecorded(t, newStore) })
	t.Run("checkpoints", func(t *testing.T) { testCheckpoints(t, newStore) })
	t.Run("snapshots keep the newest version", func(t *testing.T) { testSnapshots(t, newStore) })
	t.Run("invalid input", func(t *testing.T) { testInvalidInput(t, newStore) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrentAppends(t, newStore) })
}

func appendTx(ctx context.Context, t *testing.T, db *sql.DB, s Store, expected es.ExpectedVersion, events ...es.Event) (es.AppendResult, error) {
	t.Helper()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	res, err := s.Append(ctx, tx, expected, events)
	if err != nil {
		require.NoError(t, tx.Rollback())
		return res, err
	}
	require.NoError(t, tx.Commit())
	return res, nil
}

func testAppendPositions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	res, err := appendTx(ctx, t, db, s, es.NoStream(),
		Event("system:1", "signature.appeared"),
		Event("system:1", "signature.appeared"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.GlobalSeqs)
	assert.Equal(t, int64(0), res.FromVersion())
	assert.Equal(t, int64(2), res.ToVersion())

	res, err = appendTx(ctx, t, db, s, es.Any(),
		Event("system:2", "signature.appeared"),
		Event("system:1", "signature.faded"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, res.GlobalSeqs)
	assert.Equal(t, int64(1), res.Events[0].StreamVersion)
	assert.Equal(t, int64(3), res.Events[1].StreamVersion)

	all, err := s.ReadAll(ctx, db, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.GlobalSeq)
	}
	// What the store returned on append is what it hands back on read.
	assert.Equal(t, res.Events[1], all[3])

	v, err := s.StreamVersion(ctx, db, "system:1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	last, err := s.LastGlobalSeq(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func testIdempotentAppend(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	first := Event("system:1", "signature.appeared")
	_, err := appendTx(ctx, t, db, s, es.Exact(0), first)
	require.NoError(t, err)

	// All duplicates: no version check, nothing written.
	res, err := appendTx(ctx, t, db, s, es.Exact(0), first)
	require.NoError(t, err)
	assert.True(t, res.IsNoop())
	assert.Equal(t, []uuid.UUID{first.EventID}, res.Skipped)

	// Mixed: the duplicate is skipped, the rest proceeds.
	second := Event("system:1", "signature.updated")
	res, err = appendTx(ctx, t, db, s, es.Exact(1), first, second, second)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, second.EventID, res.Events[0].EventID)
	assert.ElementsMatch(t, []uuid.UUID{first.EventID, second.EventID}, res.Skipped)

	last, err := s.LastGlobalSeq(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func testExpectedVersion(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	_, err := appendTx(ctx, t, db, s, es.Exact(0), Event("system:1", "signature.appeared"))
	require.NoError(t, err)

	_, err = appendTx(ctx, t, db, s, es.Exact(0), Event("system:1", "signature.updated"))
	assert.ErrorIs(t, err, store.ErrAppendConflict)

	_, err = appendTx(ctx, t, db, s, es.NoStream(), Event("system:1", "signature.updated"))
	assert.ErrorIs(t, err, store.ErrAppendConflict)

	_, err = appendTx(ctx, t, db, s, es.Exact(2), Event("system:1", "signature.updated"))
	assert.ErrorIs(t, err, store.ErrAppendConflict)

	_, err = appendTx(ctx, t, db, s, es.Exact(1), Event("system:1", "signature.updated"))
	assert.NoError(t, err)

	_, err = appendTx(ctx, t, db, s, es.Exact(2),
		Event("system:1", "signature.updated"),
		Event("system:2", "signature.appeared"))
	assert.ErrorIs(t, err, store.ErrMixedStreams)
}

func testRollback(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, tx, es.Any(), []es.Event{
		Event("system:1", "signature.appeared"),
		Event("system:1", "signature.appeared"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	all, err := s.ReadAll(ctx, db, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, all)

	v, err := s.StreamVersion(ctx, db, "system:1")
	require.NoError(t, err)
	assert.Zero(t, v)

	// Positions are reused after a rollback, so the log stays gapless.
	res, err := appendTx(ctx, t, db, s, es.Any(), Event("system:1", "signature.appeared"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.GlobalSeqs)
}

func testReadStream(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	for i := 0; i < 5; i++ {
		_, err := appendTx(ctx, t, db, s, es.Any(),
			Event("system:1", "signature.appeared"),
			Event("system:2", "signature.appeared"))
		require.NoError(t, err)
	}

	page, err := s.ReadStream(ctx, db, "system:2", 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{2, 4, 6}, seqs(page))

	page, err = s.ReadStream(ctx, db, "system:2", page[len(page)-1].GlobalSeq, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 10}, seqs(page))
	assert.Equal(t, []int64{4, 5}, []int64{page[0].StreamVersion, page[1].StreamVersion})

	page, err = s.ReadStream(ctx, db, "system:3", 0, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testReadRecorded(t *testing.T, newStore Factory) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &Clock{At: base.Add(time.Minute)}
	db, s := newStore(t, store.WithClock(clock.Now))

	early := Event("system:1", "signature.appeared")
	_, err := appendTx(ctx, t, db, s, es.Any(), early)
	require.NoError(t, err)

	clock.Set(base.Add(2 * time.Minute))
	first, second := Event("system:2", "signature.appeared"), Event("system:1", "signature.updated")
	_, err = appendTx(ctx, t, db, s, es.Any(), first, second)
	require.NoError(t, err)

	clock.Set(base.Add(time.Hour))
	_, err = appendTx(ctx, t, db, s, es.Any(), Event("system:1", "signature.faded"))
	require.NoError(t, err)

	got, err := s.ReadRecorded(ctx, db, store.RecordedFrom(base), base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{early.EventID, first.EventID, second.EventID},
		[]uuid.UUID{got[0].EventID, got[1].EventID, got[2].EventID})
	assert.Equal(t, base.Add(time.Minute), got[0].RecordedAt)
	assert.Equal(t, got[1].RecordedAt, got[2].RecordedAt)

	rest, err := s.ReadRecorded(ctx, db, store.RecordedCursor{}.Advance(got[1]), base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, second.EventID, rest[0].EventID)
}

// Clock is a settable time source for store.WithClock.
type Clock struct {
	mu sync.Mutex
	At time.Time
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.At
}

// Set moves the clock to at.
func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.At = at
}

func testCheckpoints(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	cp, err := s.GetCheckpoint(ctx, db, "notify")
	require.NoError(t, err)
	assert.Zero(t, cp)

	require.NoError(t, s.UpdateCheckpoint(ctx, db, "notify", 7))
	require.NoError(t, s.UpdateCheckpoint(ctx, db, "notify", 9))

	cp, err = s.GetCheckpoint(ctx, db, "notify")
	require.NoError(t, err)
	assert.Equal(t, int64(9), cp)
}

func testSnapshots(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	_, ok, err := s.LoadSnapshot(ctx, db, "J100820")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSnapshot(ctx, db, store.Snapshot{StreamKey: "J100820", StreamVersion: 3, Payload: []byte(`{"v":3}`)}))
	require.NoError(t, s.SaveSnapshot(ctx, db, store.Snapshot{StreamKey: "J100820", StreamVersion: 2, Payload: []byte(`{"v":2}`)}))
	require.NoError(t, s.SaveSnapshot(ctx, db, store.Snapshot{StreamKey: "J100821", StreamVersion: 1, Payload: []byte(`{"v":1}`)}))

	snap, ok, err := s.LoadSnapshot(ctx, db, "J100820")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.StreamVersion)
	assert.Equal(t, []byte(`{"v":3}`), snap.Payload)
	assert.False(t, snap.UpdatedAt.IsZero())

	require.NoError(t, s.SaveSnapshot(ctx, db, store.Snapshot{StreamKey: "J100820", StreamVersion: 5, Payload: []byte(`{"v":5}`)}))
	snap, _, err = s.LoadSnapshot(ctx, db, "J100820")
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.StreamVersion)
	assert.Equal(t, []byte(`{"v":5}`), snap.Payload)

	require.NoError(t, s.DeleteSnapshot(ctx, db, "J100820"))
	require.NoError(t, s.DeleteSnapshot(ctx, db, "J100820"))
	_, ok, err = s.LoadSnapshot(ctx, db, "J100820")
	require.NoError(t, err)
	assert.False(t, ok)

	// After a delete any version may be stored again.
	require.NoError(t, s.SaveSnapshot(ctx, db, store.Snapshot{StreamKey: "J100820", StreamVersion: 1, Payload: []byte(`{"v":1}`)}))
	snap, ok, err = s.LoadSnapshot(ctx, db, "J100820")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.StreamVersion)

	other, ok, err := s.LoadSnapshot(ctx, db, "J100821")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "J100821", other.StreamKey)
}

func testInvalidInput(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	_, err := s.Append(ctx, db, es.Any(), nil)
	assert.ErrorIs(t, err, store.ErrNoEvents)

	noID := Event("system:1", "signature.appeared")
	noID.EventID = uuid.Nil
	_, err = s.Append(ctx, db, es.Any(), []es.Event{noID})
	assert.ErrorIs(t, err, store.ErrInvalidEvent)

	noStream := Event("", "signature.appeared")
	_, err = s.Append(ctx, db, es.Any(), []es.Event{noStream})
	assert.ErrorIs(t, err, store.ErrInvalidEvent)
}

func testConcurrentAppends(t *testing.T, newStore Factory) {
	ctx := context.Background()
	db, s := newStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				errs <- err
				return
			}
			stream := fmt.Sprintf("system:%d", i%2)
			if _, err := s.Append(ctx, tx, es.Any(), []es.Event{Event(stream, "signature.appeared"), Event(stream, "signature.appeared")}); err != nil {
				_ = tx.Rollback()
				errs <- err
				return
			}
			errs <- tx.Commit()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.ReadAll(ctx, db, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, writers*2)
	versions := map[string]int64{}
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.GlobalSeq)
		versions[e.StreamKey]++
		assert.Equal(t, versions[e.StreamKey], e.StreamVersion)
	}
	// Each batch is contiguous: commit order equals sequence order.
	for i := 0; i < len(all); i += 2 {
		assert.Equal(t, all[i].StreamKey, all[i+1].StreamKey)
	}
}

func seqs(events []es.PersistedEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.GlobalSeq
	}
	return out
}

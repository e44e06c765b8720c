package tracker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/eventlog"
	"github.com/getpup/sigledger/signature"
	"github.com/getpup/sigledger/tracker"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ledger reconciles snapshots against an in-memory log the way the engine
// does, without locking or retries.
type ledger struct {
	t   *testing.T
	key string
	log *eventlog.Memory
	n   int
}

func newLedger(t *testing.T, key string) *ledger {
	return &ledger{t: t, key: key, log: eventlog.NewMemory()}
}

func (l *ledger) submit(text string) tracker.Plan {
	l.t.Helper()
	records, err := signature.Parse(text)
	require.NoError(l.t, err)
	return l.submitRecords(records)
}

func (l *ledger) submitRecords(records []signature.Record) tracker.Plan {
	l.t.Helper()
	p := l.projection()
	plan := tracker.Diff(p, records)
	l.n++
	meta := tracker.Meta{
		StreamKey:    l.key,
		SubmissionID: fmt.Sprintf("sub-%d", l.n),
		OccurredAt:   t0.Add(time.Duration(l.n) * time.Minute),
		Source:       tracker.SourceManual,
		BaseVersion:  p.Version,
	}
	var events []es.Event
	for _, payload := range plan.Payloads {
		e, err := tracker.NewEvent(meta, payload)
		require.NoError(l.t, err)
		events = append(events, e)
	}
	if len(events) > 0 {
		_, err := l.log.Append(context.Background(), es.Exact(p.Version), events)
		require.NoError(l.t, err)
	}
	return plan
}

func (l *ledger) projection() *tracker.Projection {
	l.t.Helper()
	p, err := tracker.Fold(l.key, l.log.Replay(context.Background(), l.key, 0))
	require.NoError(l.t, err)
	return p
}

func types(plan tracker.Plan) []string {
	var out []string
	for _, p := range plan.Payloads {
		out = append(out, p.EventType()+":"+p.SignatureID())
	}
	return out
}

func TestThreeSnapshotScenario(t *testing.T) {
	l := newLedger(t, "S1")

	plan := l.submit("SIG-01\tWormhole\t\t\t10%\t5")
	require.Equal(t, []string{"signature.appeared:SIG-01"}, types(plan))
	appeared := plan.Payloads[0].(tracker.Appeared)
	assert.Equal(t, "Wormhole", appeared.Signature.Group)
	assert.Equal(t, signature.Percent(10), appeared.Signature.ScanPercent)
	assert.Equal(t, 1, appeared.Occurrence)

	plan = l.submit("SIG-01\tWormhole\tWormhole\tK162\t100%\t5")
	require.Equal(t, []string{"signature.resolved:SIG-01"}, types(plan))
	resolved := plan.Payloads[0].(tracker.Resolved)
	assert.Equal(t, signature.Record{
		ID: "SIG-01", Group: "Wormhole", SiteType: "Wormhole", Name: "K162", ScanPercent: signature.Percent(100),
	}, resolved.Signature)
	assert.Equal(t, []string{"site_type", "name", "scan_percent"}, resolved.Changes.Fields())

	plan = l.submit("")
	assert.True(t, plan.Empty())

	p := l.projection()
	entry, ok := p.Get("SIG-01")
	require.True(t, ok)
	assert.Equal(t, tracker.StatusResolved, entry.Status)
	assert.Equal(t, int64(2), p.Version)
}

func TestDiff(t *testing.T) {
	t.Run("unchanged snapshot emits nothing", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat\t\t\t20%")
		assert.True(t, l.submit("A\tCombat\t\t\t20%").Empty())
	})

	t.Run("empty columns keep known values", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tData\tData Site\tUnsecured Frontier Vault\t40%")
		assert.True(t, l.submit("A\tData\t\t\t").Empty())

		entry, _ := l.projection().Get("A")
		assert.Equal(t, "Unsecured Frontier Vault", entry.Record.Name)
	})

	t.Run("update lists changed fields", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCosmic Signature\t\t\t0%")
		plan := l.submit("A\tData\tData Site\t\t30%")
		require.Equal(t, []string{"signature.updated:A"}, types(plan))

		u := plan.Payloads[0].(tracker.Updated)
		assert.Equal(t, &tracker.Change[string]{From: "Cosmic Signature", To: "Data"}, u.Changes.Group)
		assert.Equal(t, &tracker.Change[string]{From: "", To: "Data Site"}, u.Changes.SiteType)
		assert.Nil(t, u.Changes.Name)
		assert.Empty(t, u.Anomalies)
	})

	t.Run("scan regression is flagged and kept", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat\t\t\t60%")
		plan := l.submit("A\tCombat\t\t\t40%")
		require.Len(t, plan.Payloads, 1)
		u := plan.Payloads[0].(tracker.Updated)
		assert.Equal(t, []string{tracker.AnomalyScanRegressed}, u.Anomalies)

		entry, _ := l.projection().Get("A")
		assert.Equal(t, signature.Percent(40), entry.Record.ScanPercent)
		assert.Equal(t, signature.Percent(60), entry.HighestScanPercent)
	})

	t.Run("full scan without site type stays active", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat\t\t\t10%")
		plan := l.submit("A\tCombat\t\t\t100%")
		assert.Equal(t, []string{"signature.updated:A"}, types(plan))
	})

	t.Run("first sighting already resolved", func(t *testing.T) {
		l := newLedger(t, "S")
		plan := l.submit("A\tWormhole\tWormhole\tK162\t100%")
		assert.Equal(t, []string{"signature.appeared:A", "signature.resolved:A"}, types(plan))
		entry, _ := l.projection().Get("A")
		assert.Equal(t, tracker.StatusResolved, entry.Status)
	})

	t.Run("missing ids fade in id order after snapshot order", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("C\tCombat\nB\tData\nA\tGas")
		plan := l.submit("D\tRelic\nB\tData")
		assert.Equal(t, []string{"signature.appeared:D", "signature.faded:A", "signature.faded:C"}, types(plan))
	})

	t.Run("faded id returns as a new occurrence", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat\t\t\t50%")
		l.submit("")
		plan := l.submit("A\tCombat")
		require.Equal(t, []string{"signature.appeared:A"}, types(plan))
		assert.Equal(t, 2, plan.Payloads[0].(tracker.Appeared).Occurrence)

		entry, _ := l.projection().Get("A")
		assert.Equal(t, tracker.StatusActive, entry.Status)
		assert.Nil(t, entry.Record.ScanPercent)
		assert.Nil(t, entry.HighestScanPercent)
	})

	t.Run("faded ids do not fade twice", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat")
		require.Len(t, l.submit("").Payloads, 1)
		assert.True(t, l.submit("").Empty())
	})

	t.Run("resolved id is suppressed", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tWormhole\tWormhole\tK162\t100%")
		plan := l.submit("A\tWormhole\tWormhole\tB274\t20%")
		assert.True(t, plan.Empty())
		assert.Equal(t, []string{"A"}, plan.Suppressed)
	})

	t.Run("diff does not modify the projection", func(t *testing.T) {
		l := newLedger(t, "S")
		l.submit("A\tCombat\t\t\t10%")
		p := l.projection()
		before := p.Clone()
		tracker.Diff(p, []signature.Record{{ID: "A", Group: "Data", ScanPercent: signature.Percent(90)}})
		assert.Empty(t, cmp.Diff(before, p))
	})
}

func TestProjectionApply(t *testing.T) {
	appeared, err := tracker.NewEvent(tracker.Meta{StreamKey: "S", SubmissionID: "x", OccurredAt: t0, Source: "sync"},
		tracker.Appeared{Signature: signature.Record{ID: "A", Group: "Combat"}, Occurrence: 1})
	require.NoError(t, err)

	t.Run("events at or before the last position are ignored", func(t *testing.T) {
		p := tracker.NewProjection("S")
		require.NoError(t, p.Apply(appeared.Persist(5, 1, t0)))
		snapshot := p.Clone()
		require.NoError(t, p.Apply(appeared.Persist(5, 1, t0)))
		require.NoError(t, p.Apply(appeared.Persist(3, 1, t0)))
		assert.Empty(t, cmp.Diff(snapshot, p))
		assert.Equal(t, "sync", p.LastSource)
	})

	t.Run("other streams are rejected", func(t *testing.T) {
		p := tracker.NewProjection("T")
		err := p.Apply(appeared.Persist(1, 1, t0))
		assert.ErrorIs(t, err, tracker.ErrStreamMismatch)
	})

	t.Run("unknown event types advance the position", func(t *testing.T) {
		p := tracker.NewProjection("S")
		e := es.Event{StreamKey: "S", EventType: "signature.bookmarked", SchemaVersion: 1, Payload: []byte(`{}`), OccurredAt: t0}
		require.NoError(t, p.Apply(e.Persist(9, 4, t0)))
		assert.Equal(t, int64(9), p.LastGlobalSeq)
		assert.Equal(t, int64(4), p.Version)
		assert.Empty(t, p.Signatures)
	})

	t.Run("unsupported schema version fails", func(t *testing.T) {
		p := tracker.NewProjection("S")
		e := appeared
		e.SchemaVersion = 2
		err := p.Apply(e.Persist(1, 1, t0))
		assert.ErrorIs(t, err, tracker.ErrUnsupportedSchemaVersion)
	})
}

func TestDecode(t *testing.T) {
	payload := tracker.Updated{
		ID: "A",
		Changes: tracker.Changes{
			ScanPercent: &tracker.Change[*int]{From: nil, To: signature.Percent(30)},
		},
	}
	e, err := tracker.NewEvent(tracker.Meta{StreamKey: "S", SubmissionID: "x", OccurredAt: t0}, payload)
	require.NoError(t, err)
	assert.Equal(t, tracker.EventUpdated, e.EventType)
	assert.Equal(t, tracker.SchemaVersion, e.SchemaVersion)
	assert.JSONEq(t, `{"signature_id":"A","changes":{"scan_percent":{"from":null,"to":30}}}`, string(e.Payload))

	got, err := tracker.Decode(e.Persist(1, 1, t0))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(tracker.Payload(payload), got))

	_, err = tracker.Decode(es.PersistedEvent{EventType: "other", SchemaVersion: 1})
	assert.ErrorIs(t, err, tracker.ErrUnknownEventType)

	bad := e.Persist(1, 1, t0)
	bad.Payload = json.RawMessage(`{"signature_id":`)
	_, err = tracker.Decode(bad)
	assert.Error(t, err)
}

func TestEventIDIsDeterministic(t *testing.T) {
	meta := tracker.Meta{StreamKey: "S", SubmissionID: "sub"}
	a := tracker.Appeared{Signature: signature.Record{ID: "A", Group: "Combat"}}
	r := tracker.Resolved{Signature: signature.Record{ID: "A"}}

	assert.Equal(t, tracker.EventID(meta, a), tracker.EventID(meta, a))
	assert.NotEqual(t, tracker.EventID(meta, a), tracker.EventID(meta, r))

	other := meta
	other.SubmissionID = "sub-2"
	assert.NotEqual(t, tracker.EventID(meta, a), tracker.EventID(other, a))
	other = meta
	other.StreamKey = "T"
	assert.NotEqual(t, tracker.EventID(meta, a), tracker.EventID(other, a))
	other = meta
	other.BaseVersion = 3
	assert.NotEqual(t, tracker.EventID(meta, a), tracker.EventID(other, a))
}

// Folding the same log twice gives equal projections, and a projection
// caught up incrementally equals a full rebuild.
func TestFoldIsDeterministic(t *testing.T) {
	faker := gofakeit.New(42)
	l := newLedger(t, "J100820")
	groups := []string{"Combat", "Data", "Relic", "Gas", "Wormhole"}
	ids := []string{"ABC-123", "DEF-456", "GHI-789", "JKL-012", "MNO-345", "PQR-678"}

	incremental := tracker.NewProjection(l.key)
	var seen int64
	for range 25 {
		var records []signature.Record
		for _, id := range ids {
			if !faker.Bool() {
				continue
			}
			rec := signature.Record{ID: id, Group: groups[faker.Number(0, len(groups)-1)]}
			if faker.Bool() {
				rec.ScanPercent = signature.Percent(faker.Number(0, 100))
			}
			if faker.Number(0, 3) == 0 {
				rec.SiteType = rec.Group
				rec.Name = faker.Word()
				rec.ScanPercent = signature.Percent(100)
			}
			records = append(records, rec)
		}
		l.submitRecords(records)
		require.NoError(t, incremental.ApplyAll(l.log.Replay(context.Background(), l.key, seen)))
		seen = incremental.LastGlobalSeq
	}

	first := l.projection()
	second := l.projection()
	assert.Empty(t, cmp.Diff(first, second))
	assert.Empty(t, cmp.Diff(first, incremental))

	for _, rec := range first.Resolved() {
		entry, _ := first.Get(rec.ID)
		assert.True(t, entry.Record.Resolved(), rec.ID)
	}
}

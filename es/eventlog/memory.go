package eventlog

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
)

// Memory is an in-process Log with the same semantics as SQL.
// The zero value is not usable; call NewMemory.
type Memory struct {
	mu       sync.RWMutex
	events   []es.PersistedEvent
	ids      map[uuid.UUID]struct{}
	versions map[string]int64
	pageSize int
	now      func() time.Time
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		ids:      make(map[uuid.UUID]struct{}),
		versions: make(map[string]int64),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
}

// Append implements Log.
func (m *Memory) Append(ctx context.Context, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if len(events) == 0 {
		return es.AppendResult{}, store.ErrNoEvents
	}
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, err
	}
	streams := make(map[string]struct{}, 1)
	for i := range events {
		if err := store.ValidateEvent(&events[i]); err != nil {
			return es.AppendResult{}, err
		}
		streams[events[i].StreamKey] = struct{}{}
	}
	if !expected.IsAny() && len(streams) > 1 {
		return es.AppendResult{}, store.ErrMixedStreams
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		fresh   []es.Event
		skipped []uuid.UUID
		inBatch = make(map[uuid.UUID]struct{}, len(events))
	)
	for _, e := range events {
		_, stored := m.ids[e.EventID]
		_, repeated := inBatch[e.EventID]
		if stored || repeated {
			skipped = append(skipped, e.EventID)
			continue
		}
		inBatch[e.EventID] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return es.AppendResult{Skipped: skipped}, nil
	}
	if !expected.IsAny() && !expected.Satisfied(m.versions[fresh[0].StreamKey]) {
		return es.AppendResult{}, store.ErrAppendConflict
	}

	recordedAt := millis(m.now())
	next := int64(len(m.events))
	versions := make(map[string]int64, len(streams))
	res := es.AppendResult{Skipped: skipped}
	for _, e := range fresh {
		if _, ok := versions[e.StreamKey]; !ok {
			versions[e.StreamKey] = m.versions[e.StreamKey]
		}
		versions[e.StreamKey]++
		next++

		e.OccurredAt = millis(e.OccurredAt)
		if e.Payload == nil {
			e.Payload = []byte{}
		}
		p := e.Persist(next, versions[e.StreamKey], recordedAt)
		res.Events = append(res.Events, p)
		res.GlobalSeqs = append(res.GlobalSeqs, next)
	}

	// Commit: nothing above touched shared state.
	m.events = append(m.events, res.Events...)
	for _, e := range res.Events {
		m.ids[e.EventID] = struct{}{}
	}
	for k, v := range versions {
		m.versions[k] = v
	}
	return res, nil
}

// Replay implements Log.
func (m *Memory) Replay(ctx context.Context, streamKey string, fromSeq int64) iter.Seq2[es.PersistedEvent, error] {
	return paged(ctx, fromSeq, afterSeq, func(_ context.Context, after int64) ([]es.PersistedEvent, error) {
		return m.page(after, func(e es.PersistedEvent) bool { return e.StreamKey == streamKey }), nil
	}, m.pageSize)
}

// ReplayAll implements Log.
func (m *Memory) ReplayAll(ctx context.Context, fromSeq int64) iter.Seq2[es.PersistedEvent, error] {
	return paged(ctx, fromSeq, afterSeq, func(_ context.Context, after int64) ([]es.PersistedEvent, error) {
		return m.page(after, func(es.PersistedEvent) bool { return true }), nil
	}, m.pageSize)
}

// Audit implements Log.
func (m *Memory) Audit(ctx context.Context, since, until time.Time) iter.Seq2[es.PersistedEvent, error] {
	return func(yield func(es.PersistedEvent, error) bool) {
		m.mu.RLock()
		var window []es.PersistedEvent
		for _, e := range m.events {
			if !e.RecordedAt.Before(since) && e.RecordedAt.Before(until) {
				window = append(window, e)
			}
		}
		m.mu.RUnlock()

		sort.SliceStable(window, func(i, j int) bool {
			if !window[i].RecordedAt.Equal(window[j].RecordedAt) {
				return window[i].RecordedAt.Before(window[j].RecordedAt)
			}
			return window[i].GlobalSeq < window[j].GlobalSeq
		})
		for _, e := range window {
			if err := ctx.Err(); err != nil {
				yield(es.PersistedEvent{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// StreamVersion implements Log.
func (m *Memory) StreamVersion(_ context.Context, streamKey string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[streamKey], nil
}

// LastGlobalSeq returns the highest global_seq in the log.
func (m *Memory) LastGlobalSeq(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}

// page returns up to pageSize matching events after seq.
// Global sequence numbers are 1-based slice positions.
func (m *Memory) page(after int64, match func(es.PersistedEvent) bool) []es.PersistedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []es.PersistedEvent
	for i := max(after, 0); i < int64(len(m.events)) && len(out) < m.pageSize; i++ {
		if match(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}

func millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

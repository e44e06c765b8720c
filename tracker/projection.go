package tracker

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/signature"
)

// Status is the lifecycle state of a signature within a stream.
type Status string

const (
	StatusActive   Status = "active"
	StatusFaded    Status = "faded"
	StatusResolved Status = "resolved"
)

// ErrStreamMismatch is returned when an event of another stream is applied.
var ErrStreamMismatch = errors.New("event belongs to another stream")

// Entry is the folded state of one signature id.
type Entry struct {
	Record     signature.Record `json:"record"`
	Status     Status           `json:"status"`
	Occurrence int              `json:"occurrence"`

	// HighestScanPercent is the best scan seen during the current occurrence.
	HighestScanPercent *int `json:"highest_scan_percent,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastSource  string    `json:"last_source,omitempty"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Record = e.Record.Clone()
	c.HighestScanPercent = clonePercent(e.HighestScanPercent)
	return &c
}

func (e *Entry) observe(r signature.Record, at time.Time, source string) {
	e.Record = r.Clone()
	if p, ok := r.Scan(); ok && (e.HighestScanPercent == nil || p > *e.HighestScanPercent) {
		e.HighestScanPercent = signature.Percent(p)
	}
	if at.After(e.LastSeenAt) {
		e.LastSeenAt = at
	}
	e.LastSource = source
}

// Projection is the current view of one stream, folded from its events.
type Projection struct {
	StreamKey string `json:"stream_key"`

	// Version is the stream_version of the last applied event.
	Version int64 `json:"version"`

	// LastGlobalSeq is the global_seq of the last applied event.
	LastGlobalSeq int64 `json:"last_global_seq"`

	LastObservedAt time.Time         `json:"last_observed_at"`
	LastSource     string            `json:"last_source,omitempty"`
	Signatures     map[string]*Entry `json:"signatures"`
}

// NewProjection returns the empty projection of streamKey.
func NewProjection(streamKey string) *Projection {
	return &Projection{StreamKey: streamKey, Signatures: make(map[string]*Entry)}
}

// Fold builds the projection of streamKey from a replay.
func Fold(streamKey string, events iter.Seq2[es.PersistedEvent, error]) (*Projection, error) {
	p := NewProjection(streamKey)
	if err := p.ApplyAll(events); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyAll applies every event of seq, stopping at the first error.
func (p *Projection) ApplyAll(events iter.Seq2[es.PersistedEvent, error]) error {
	for e, err := range events {
		if err != nil {
			return err
		}
		if err := p.Apply(e); err != nil {
			return err
		}
	}
	return nil
}

// Apply folds one event into p. Events at or before LastGlobalSeq are
// ignored, so re-applying a replay is harmless. Unknown event types only
// advance the position.
func (p *Projection) Apply(e es.PersistedEvent) error {
	if e.StreamKey != p.StreamKey {
		return fmt.Errorf("%w: %q into %q", ErrStreamMismatch, e.StreamKey, p.StreamKey)
	}
	if e.GlobalSeq <= p.LastGlobalSeq {
		return nil
	}
	payload, err := Decode(e)
	switch {
	case errors.Is(err, ErrUnknownEventType):
	case err != nil:
		return err
	default:
		p.apply(e, payload)
	}

	p.Version = e.StreamVersion
	p.LastGlobalSeq = e.GlobalSeq
	if e.OccurredAt.After(p.LastObservedAt) {
		p.LastObservedAt = e.OccurredAt
	}
	p.LastSource = e.AttributedSource
	return nil
}

func (p *Projection) apply(e es.PersistedEvent, payload Payload) {
	if p.Signatures == nil {
		p.Signatures = make(map[string]*Entry)
	}
	entry := p.Signatures[payload.SignatureID()]

	switch v := payload.(type) {
	case Appeared:
		if entry != nil && entry.Status == StatusResolved {
			return
		}
		entry = &Entry{
			Status:      StatusActive,
			Occurrence:  v.Occurrence,
			FirstSeenAt: e.OccurredAt,
		}
		entry.observe(v.Signature, e.OccurredAt, e.AttributedSource)
		p.Signatures[v.Signature.ID] = entry

	case Updated:
		if entry == nil || entry.Status != StatusActive {
			return
		}
		entry.observe(v.Changes.ApplyTo(entry.Record), e.OccurredAt, e.AttributedSource)

	case Faded:
		if entry == nil || entry.Status != StatusActive {
			return
		}
		entry.Status = StatusFaded

	case Resolved:
		switch {
		case entry == nil:
			entry = &Entry{Occurrence: 1, FirstSeenAt: e.OccurredAt}
			p.Signatures[v.Signature.ID] = entry
		case entry.Status == StatusResolved:
			return
		}
		entry.Status = StatusResolved
		entry.observe(v.Signature, e.OccurredAt, e.AttributedSource)
	}
}

// Get returns the entry for id.
func (p *Projection) Get(id string) (*Entry, bool) {
	e, ok := p.Signatures[id]
	return e, ok
}

// IDs returns the signature ids in lexical order.
func (p *Projection) IDs() []string {
	return slices.Sorted(maps.Keys(p.Signatures))
}

// Active returns the records of active signatures in id order.
func (p *Projection) Active() []signature.Record {
	return p.withStatus(StatusActive)
}

// Resolved returns the records of resolved signatures in id order.
func (p *Projection) Resolved() []signature.Record {
	return p.withStatus(StatusResolved)
}

func (p *Projection) withStatus(s Status) []signature.Record {
	var out []signature.Record
	for _, id := range p.IDs() {
		if e := p.Signatures[id]; e.Status == s {
			out = append(out, e.Record.Clone())
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p *Projection) Clone() *Projection {
	c := *p
	c.Signatures = make(map[string]*Entry, len(p.Signatures))
	for id, e := range p.Signatures {
		c.Signatures[id] = e.clone()
	}
	return &c
}

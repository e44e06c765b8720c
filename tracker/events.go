// Package tracker holds the signature domain: event payloads, the
// projection folded from a stream and the snapshot diff that produces new
// events.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/signature"
)

// Event types.
const (
	EventAppeared = "signature.appeared"
	EventUpdated  = "signature.updated"
	EventFaded    = "signature.faded"
	EventResolved = "signature.resolved"
)

// SchemaVersion is the payload schema version written for every event type.
const SchemaVersion = 1

// Well-known attribution sources. Any non-empty string is accepted.
const (
	SourceManual = "manual"
	SourceImport = "import"
	SourceSync   = "sync"
	SourceESI    = "esi"
)

// AnomalyScanRegressed flags an update whose scan percent went down.
const AnomalyScanRegressed = "scan_percent_decreased"

var (
	// ErrUnsupportedSchemaVersion indicates a known event type with a payload
	// version this build cannot read.
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")

	// ErrUnknownEventType indicates an event type outside this package.
	ErrUnknownEventType = errors.New("unknown event type")
)

// eventNamespace scopes deterministic event IDs.
var eventNamespace = uuid.MustParse("6f1c7a52-2d0b-4a8e-9a57-3c1f9b2e8d41")

// Payload is the body of a signature event.
type Payload interface {
	EventType() string
	SignatureID() string
}

// Change is a before/after pair for one field.
type Change[T any] struct {
	From T `json:"from"`
	To   T `json:"to"`
}

// Changes lists the fields that differ between two observations.
type Changes struct {
	Group       *Change[string] `json:"group,omitempty"`
	SiteType    *Change[string] `json:"site_type,omitempty"`
	Name        *Change[string] `json:"name,omitempty"`
	ScanPercent *Change[*int]   `json:"scan_percent,omitempty"`
}

// Empty reports whether no field changed.
func (c Changes) Empty() bool {
	return c.Group == nil && c.SiteType == nil && c.Name == nil && c.ScanPercent == nil
}

// Fields returns the names of the changed fields in column order.
func (c Changes) Fields() []string {
	var out []string
	if c.Group != nil {
		out = append(out, "group")
	}
	if c.SiteType != nil {
		out = append(out, "site_type")
	}
	if c.Name != nil {
		out = append(out, "name")
	}
	if c.ScanPercent != nil {
		out = append(out, "scan_percent")
	}
	return out
}

// ApplyTo returns r with the changes applied.
func (c Changes) ApplyTo(r signature.Record) signature.Record {
	r = r.Clone()
	if c.Group != nil {
		r.Group = c.Group.To
	}
	if c.SiteType != nil {
		r.SiteType = c.SiteType.To
	}
	if c.Name != nil {
		r.Name = c.Name.To
	}
	if c.ScanPercent != nil {
		r.ScanPercent = clonePercent(c.ScanPercent.To)
	}
	return r
}

// Appeared records the start of an occurrence of a signature in a stream.
type Appeared struct {
	Signature signature.Record `json:"signature"`
	// Occurrence counts appearances of the id in the stream, starting at 1.
	Occurrence int `json:"occurrence"`
}

// Updated records changed fields of an active signature.
type Updated struct {
	ID        string   `json:"signature_id"`
	Changes   Changes  `json:"changes"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// Faded records that an active signature was missing from a snapshot.
type Faded struct {
	ID   string           `json:"signature_id"`
	Last signature.Record `json:"last"`
}

// Resolved records that a signature is fully identified. Terminal.
type Resolved struct {
	Signature signature.Record `json:"signature"`
	Changes   Changes          `json:"changes"`
	Anomalies []string         `json:"anomalies,omitempty"`
}

func (Appeared) EventType() string { return EventAppeared }
func (Updated) EventType() string  { return EventUpdated }
func (Faded) EventType() string    { return EventFaded }
func (Resolved) EventType() string { return EventResolved }

func (p Appeared) SignatureID() string { return p.Signature.ID }
func (p Updated) SignatureID() string  { return p.ID }
func (p Faded) SignatureID() string    { return p.ID }
func (p Resolved) SignatureID() string { return p.Signature.ID }

// Meta carries what an event needs besides its payload.
type Meta struct {
	StreamKey    string
	SubmissionID string
	OccurredAt   time.Time
	Source       string

	// BaseVersion is the stream version the events were computed against.
	// It keeps a repeated snapshot, seen again after the stream moved on,
	// from colliding with its first submission.
	BaseVersion int64
}

// EventID derives the identity of an event from the submission that
// produced it, so resubmitting the same snapshot yields the same IDs.
func EventID(meta Meta, p Payload) uuid.UUID {
	name := fmt.Sprintf("%s\x00%s\x00%d\x00%s\x00%s", meta.SubmissionID, meta.StreamKey, meta.BaseVersion, p.SignatureID(), p.EventType())
	return uuid.NewSHA1(eventNamespace, []byte(name))
}

// NewEvent encodes p as an event for meta.StreamKey.
func NewEvent(meta Meta, p Payload) (es.Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return es.Event{}, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return es.Event{
		OccurredAt:       meta.OccurredAt,
		StreamKey:        meta.StreamKey,
		EventType:        p.EventType(),
		AttributedSource: meta.Source,
		Payload:          body,
		SchemaVersion:    SchemaVersion,
		EventID:          EventID(meta, p),
	}, nil
}

// Decode returns the typed payload of e.
// Unknown event types return ErrUnknownEventType.
func Decode(e es.PersistedEvent) (Payload, error) {
	var p Payload
	switch e.EventType {
	case EventAppeared:
		p = &Appeared{}
	case EventUpdated:
		p = &Updated{}
	case EventFaded:
		p = &Faded{}
	case EventResolved:
		p = &Resolved{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, e.EventType)
	}
	if e.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedSchemaVersion, e.EventType, e.SchemaVersion)
	}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s at global_seq %d: %w", e.EventType, e.GlobalSeq, err)
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Appeared:
		return *v
	case *Updated:
		return *v
	case *Faded:
		return *v
	case *Resolved:
		return *v
	}
	return p
}

func clonePercent(p *int) *int {
	if p == nil {
		return nil
	}
	return signature.Percent(*p)
}

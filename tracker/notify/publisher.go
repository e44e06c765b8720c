// Package notify forwards appended signature events to NATS so downstream
// consumers can follow the log without polling it.
//
// The Publisher is a projection: run it under a checkpointed processor and
// every event is published at least once, in global order. Subscribers can
// drop repeats by the Nats-Msg-Id header, which carries the event id.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/projection"
	"github.com/getpup/sigledger/metrics"
	"github.com/getpup/sigledger/tracker"
)

// DefaultSubjectPrefix is the first subject token of published events.
const DefaultSubjectPrefix = "sigledger.events"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

var _ Conn = (*nats.Conn)(nil)

// Envelope is the JSON body of a published message.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	SchemaVersion    int             `json:"schema_version"`
	StreamKey        string          `json:"stream_key"`
	StreamVersion    int64           `json:"stream_version"`
	GlobalSeq        int64           `json:"global_seq"`
	OccurredAt       time.Time       `json:"occurred_at"`
	RecordedAt       time.Time       `json:"recorded_at"`
	AttributedSource string          `json:"attributed_source,omitempty"`
	Payload          json.RawMessage `json:"payload"`
}

// NewEnvelope wraps e for publishing.
func NewEnvelope(e es.PersistedEvent) Envelope {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		EventID:          e.EventID.String(),
		EventType:        e.EventType,
		SchemaVersion:    e.SchemaVersion,
		StreamKey:        e.StreamKey,
		StreamVersion:    e.StreamVersion,
		GlobalSeq:        e.GlobalSeq,
		OccurredAt:       e.OccurredAt,
		RecordedAt:       e.RecordedAt,
		AttributedSource: e.AttributedSource,
		Payload:          payload,
	}
}

// Config configures a Publisher.
type Config struct {
	// SubjectPrefix defaults to DefaultSubjectPrefix.
	SubjectPrefix string

	// Name is the checkpoint name. Defaults to "notify.nats".
	Name string

	Logger  es.Logger
	Metrics *metrics.Metrics
}

// Publisher publishes signature events to "<prefix>.<stream key>".
type Publisher struct {
	conn    Conn
	prefix  string
	name    string
	logger  es.Logger
	metrics *metrics.Metrics
}

var _ projection.ScopedProjection = (*Publisher)(nil)

// NewPublisher creates a Publisher on conn.
func NewPublisher(conn Conn, config Config) *Publisher {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultSubjectPrefix
	}
	if config.Name == "" {
		config.Name = "notify.nats"
	}
	return &Publisher{
		conn:    conn,
		prefix:  strings.TrimSuffix(config.SubjectPrefix, "."),
		name:    config.Name,
		logger:  es.OrNoOp(config.Logger),
		metrics: config.Metrics,
	}
}

func (p *Publisher) Name() string {
	return p.name
}

// EventTypes limits publishing to signature events.
func (p *Publisher) EventTypes() []string {
	return []string{tracker.EventAppeared, tracker.EventUpdated, tracker.EventFaded, tracker.EventResolved}
}

// Handle publishes one event. A failed publish stops the batch so the
// checkpoint does not move past it.
func (p *Publisher) Handle(ctx context.Context, _ es.DBTX, e es.PersistedEvent) error {
	body, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := nats.NewMsg(p.Subject(e.StreamKey))
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, e.EventID.String())
	msg.Header.Set("Sigledger-Event-Type", e.EventType)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish global_seq %d: %w", e.GlobalSeq, err)
	}
	p.metrics.Published()
	p.logger.Debug(ctx, "event published", "subject", msg.Subject, "global_seq", e.GlobalSeq)
	return nil
}

// Subject returns the subject events of streamKey are published on.
// Characters with meaning in subjects are replaced by underscores.
func (p *Publisher) Subject(streamKey string) string {
	return p.prefix + "." + subjectToken.Replace(streamKey)
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "\t", "_", "*", "_", ">", "_")

// Package reconcile turns scanner snapshots into appended signature events.
//
// For each submission the engine takes the stream's lock, reads the current
// projection, diffs the snapshot against it and appends the resulting batch
// with the projection's version as the expected version. A concurrent writer
// outside this process surfaces as store.ErrAppendConflict; the engine then
// drops its cached projection and recomputes, a bounded number of times.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/es/store"
	"github.com/getpup/sigledger/metrics"
	"github.com/getpup/sigledger/signature"
	"github.com/getpup/sigledger/tracker"
)

// DefaultMaxRetries bounds recomputation after append conflicts.
const DefaultMaxRetries = 3

var (
	// ErrRetriesExhausted is returned when every attempt hit an append conflict.
	ErrRetriesExhausted = errors.New("reconcile: retries exhausted")

	// ErrMissingStreamKey is returned for a snapshot without a stream key.
	ErrMissingStreamKey = errors.New("reconcile: missing stream key")
)

// IsRetryable reports whether resubmitting the same snapshot may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetriesExhausted) || errors.Is(err, store.ErrAppendConflict)
}

const tracerName = "github.com/getpup/sigledger/tracker/reconcile"

// Appender is the write side of the event log.
type Appender interface {
	Append(ctx context.Context, expected es.ExpectedVersion, events []es.Event) (es.AppendResult, error)
}

// Projections serves and updates current projections.
type Projections interface {
	Current(ctx context.Context, streamKey string) (*tracker.Projection, error)
	Advance(ctx context.Context, p *tracker.Projection, events []es.PersistedEvent) (*tracker.Projection, error)
	Invalidate(ctx context.Context, streamKey string) error
}

// Snapshot is one observation of a stream.
type Snapshot struct {
	StreamKey string
	Records   []signature.Record

	// OccurredAt is when the source took the snapshot. Defaults to now.
	OccurredAt time.Time

	// Source attributes the observation. Defaults to tracker.SourceManual.
	Source string

	// SubmissionID identifies this submission for idempotent retries.
	// Derived from the snapshot content when empty.
	SubmissionID string
}

// Result describes what a submission did.
type Result struct {
	StreamKey    string
	SubmissionID string

	// Appended are the events stored by this submission, in order.
	Appended []es.PersistedEvent

	// Skipped are event ids that were already in the log.
	Skipped []uuid.UUID

	// Suppressed are resolved ids observed again.
	Suppressed []string

	// Attempts counts diff and append rounds, 1 without conflicts.
	Attempts int

	// Projection is the stream's projection after the submission.
	Projection *tracker.Projection
}

// Noop reports whether the submission stored nothing.
func (r *Result) Noop() bool {
	return len(r.Appended) == 0
}

// Config configures an Engine.
type Config struct {
	// MaxRetries is the number of recomputations after append conflicts.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// Parse configures SubmitRaw.
	Parse signature.Options

	Logger  es.Logger
	Metrics *metrics.Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Engine reconciles snapshots into the log.
type Engine struct {
	log         Appender
	projections Projections
	locks       *streamLocks
	maxRetries  int
	parse       signature.Options
	logger      es.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

// New creates an Engine appending to log.
func New(log Appender, projections Projections, config Config) *Engine {
	maxRetries := config.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Engine{
		log:         log,
		projections: projections,
		locks:       newStreamLocks(),
		maxRetries:  maxRetries,
		parse:       config.Parse,
		logger:      es.OrNoOp(config.Logger),
		metrics:     config.Metrics,
		tracer:      tp.Tracer(tracerName),
		now:         now,
	}
}

// SubmitRaw parses text and submits it as snap.Records.
func (e *Engine) SubmitRaw(ctx context.Context, snap Snapshot, text string) (*Result, error) {
	records, err := signature.ParseWith(text, e.parse)
	if err != nil {
		var perr *signature.ParseError
		kind := "unknown"
		if errors.As(err, &perr) {
			kind = strings.TrimPrefix(perr.Kind.Error(), signature.ErrParse.Error()+": ")
		}
		e.metrics.ParseError(kind)
		e.logger.Warn(ctx, "snapshot rejected", "stream_key", snap.StreamKey, "error", err)
		return nil, err
	}
	snap.Records = records
	return e.Submit(ctx, snap)
}

// Submit reconciles snap against the current projection of its stream and
// appends the resulting events as one batch. Submissions for one stream are
// serialized; different streams proceed in parallel.
func (e *Engine) Submit(ctx context.Context, snap Snapshot) (res *Result, err error) {
	if snap.StreamKey == "" {
		return nil, ErrMissingStreamKey
	}
	start := e.now()
	if snap.SubmissionID == "" {
		snap.SubmissionID = SubmissionID(snap)
	}
	if snap.OccurredAt.IsZero() {
		snap.OccurredAt = start
	}
	if snap.Source == "" {
		snap.Source = tracker.SourceManual
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.Submit", trace.WithAttributes(
		attribute.String("sigledger.stream_key", snap.StreamKey),
		attribute.String("sigledger.source", snap.Source),
		attribute.String("sigledger.submission_id", snap.SubmissionID),
		attribute.Int("sigledger.records", len(snap.Records)),
	))
	defer func() {
		e.finish(ctx, span, start, res, err)
	}()

	unlock, err := e.locks.lock(ctx, snap.StreamKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &Result{StreamKey: snap.StreamKey, SubmissionID: snap.SubmissionID}
	for {
		res.Attempts++
		done, err := e.attempt(ctx, snap, res)
		if done || err != nil {
			return res, err
		}
		if res.Attempts > e.maxRetries {
			return res, fmt.Errorf("%w for %s after %d attempts: %w", ErrRetriesExhausted, snap.StreamKey, res.Attempts, store.ErrAppendConflict)
		}
	}
}

// attempt runs one diff and append round. It returns false without error
// after an append conflict.
func (e *Engine) attempt(ctx context.Context, snap Snapshot, res *Result) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := e.projections.Current(ctx, snap.StreamKey)
	if err != nil {
		return false, fmt.Errorf("load projection %s: %w", snap.StreamKey, err)
	}

	plan := tracker.Diff(p, snap.Records)
	res.Suppressed = plan.Suppressed
	res.Projection = p
	if plan.Empty() {
		return true, nil
	}

	meta := tracker.Meta{
		StreamKey:    snap.StreamKey,
		SubmissionID: snap.SubmissionID,
		OccurredAt:   snap.OccurredAt,
		Source:       snap.Source,
		BaseVersion:  p.Version,
	}
	events := make([]es.Event, 0, len(plan.Payloads))
	for _, payload := range plan.Payloads {
		ev, err := tracker.NewEvent(meta, payload)
		if err != nil {
			return false, err
		}
		events = append(events, ev)
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	appended, err := e.log.Append(ctx, es.Exact(p.Version), events)
	if errors.Is(err, store.ErrAppendConflict) {
		e.metrics.Conflict()
		e.logger.Warn(ctx, "append conflict, recomputing",
			"stream_key", snap.StreamKey, "expected_version", p.Version, "attempt", res.Attempts)
		if err := e.projections.Invalidate(ctx, snap.StreamKey); err != nil {
			e.logger.Warn(ctx, "projection invalidation failed", "stream_key", snap.StreamKey, "error", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append %s: %w", snap.StreamKey, err)
	}

	res.Appended = appended.Events
	res.Skipped = appended.Skipped
	if len(appended.Events) == 0 {
		// Another writer stored these exact events first.
		if err := e.projections.Invalidate(ctx, snap.StreamKey); err != nil {
			e.logger.Warn(ctx, "projection invalidation failed", "stream_key", snap.StreamKey, "error", err)
		}
		res.Projection, err = e.projections.Current(ctx, snap.StreamKey)
		return true, err
	}
	res.Projection, err = e.projections.Advance(ctx, p, appended.Events)
	if err != nil {
		return true, fmt.Errorf("advance projection %s: %w", snap.StreamKey, err)
	}
	return true, nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, start time.Time, res *Result, err error) {
	defer span.End()
	took := e.now().Sub(start)

	outcome := metrics.OutcomeAppended
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCanceled
	case IsRetryable(err):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeError
	case res.Noop():
		outcome = metrics.OutcomeNoop
	}
	e.metrics.Submission(outcome, took)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, "submission failed", "error", err, "outcome", outcome)
		return
	}

	counts := make(map[string]int)
	for _, ev := range res.Appended {
		counts[ev.EventType]++
	}
	for eventType, n := range counts {
		e.metrics.Appended(eventType, n)
	}
	e.metrics.Skipped(len(res.Skipped))

	span.SetAttributes(
		attribute.Int("sigledger.appended", len(res.Appended)),
		attribute.Int("sigledger.attempts", res.Attempts),
	)
	if len(res.Skipped) > 0 {
		e.logger.Info(ctx, "idempotent no-op", "stream_key", res.StreamKey, "skipped", len(res.Skipped))
	}
	e.logger.Info(ctx, "snapshot reconciled",
		"stream_key", res.StreamKey,
		"submission_id", res.SubmissionID,
		"appended", len(res.Appended),
		"suppressed", len(res.Suppressed),
		"attempts", res.Attempts,
		"version", res.Projection.Version,
		"took", took)
}

// SubmissionID derives a stable id from the parts of snap the caller set,
// so an identical resubmission maps to the same event ids.
func SubmissionID(snap Snapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", snap.StreamKey, snap.Source)
	if !snap.OccurredAt.IsZero() {
		fmt.Fprintf(h, "%d", snap.OccurredAt.UnixMilli())
	}
	for _, r := range snap.Records {
		fmt.Fprintf(h, "\x00%s\t%s\t%s\t%s\t%s", r.ID, r.Group, r.SiteType, r.Name, r.ScanString())
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

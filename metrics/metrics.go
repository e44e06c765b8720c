// Package metrics holds the Prometheus collectors of sigledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeAppended   = "appended"
	OutcomeNoop       = "noop"
	OutcomeParseError = "parse_error"
	OutcomeConflict   = "conflict"
	OutcomeError      = "error"
	OutcomeCanceled   = "canceled"
)

// Metrics groups the collectors registered on one registerer.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	EventsAppended     *prometheus.CounterVec
	IdempotentNoops    prometheus.Counter
	AppendConflicts    prometheus.Counter
	ParseErrors        *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	EventsPublished    prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps tests independent of the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigledger_submissions_total",
				Help: "Snapshot submissions by outcome",
			},
			[]string{"outcome"},
		),
		SubmissionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sigledger_submission_duration_seconds",
				Help:    "Time from submission to append, including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventsAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigledger_events_appended_total",
				Help: "Events appended to the log by type",
			},
			[]string{"event_type"},
		),
		IdempotentNoops: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sigledger_idempotent_noops_total",
				Help: "Events skipped because their event_id was already stored",
			},
		),
		AppendConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sigledger_append_conflicts_total",
				Help: "Appends rejected by the expected version check",
			},
		),
		ParseErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigledger_parse_errors_total",
				Help: "Snapshots rejected by the parser by error kind",
			},
			[]string{"kind"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigledger_projection_cache_lookups_total",
				Help: "Projection cache lookups by result",
			},
			[]string{"result"},
		),
		EventsPublished: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sigledger_events_published_total",
				Help: "Events published to NATS",
			},
		),
	}
}

// Submission records the outcome and duration of one submission.
func (m *Metrics) Submission(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
	m.SubmissionDuration.Observe(took.Seconds())
}

// Appended counts stored events of one type.
func (m *Metrics) Appended(eventType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsAppended.WithLabelValues(eventType).Add(float64(n))
}

// Skipped counts idempotent no-ops.
func (m *Metrics) Skipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.IdempotentNoops.Add(float64(n))
}

// Conflict counts one expected version conflict.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.AppendConflicts.Inc()
}

// ParseError counts one rejected snapshot.
func (m *Metrics) ParseError(kind string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(kind).Inc()
}

// CacheLookup counts a projection cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Published counts one event sent to NATS.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

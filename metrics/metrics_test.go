package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/sigledger/metrics"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Submission(metrics.OutcomeAppended, 20*time.Millisecond)
	m.Submission(metrics.OutcomeNoop, time.Millisecond)
	m.Submission(metrics.OutcomeAppended, time.Millisecond)
	m.Appended("signature.appeared", 3)
	m.Appended("signature.faded", 0)
	m.Skipped(2)
	m.Conflict()
	m.ParseError("invalid scan percent")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Published()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues(metrics.OutcomeAppended)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsAppended.WithLabelValues("signature.appeared")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IdempotentNoops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppendConflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished))

	err := testutil.CollectAndCompare(m.EventsAppended, strings.NewReader(`
# HELP sigledger_events_appended_total Events appended to the log by type
# TYPE sigledger_events_appended_total counter
sigledger_events_appended_total{event_type="signature.appeared"} 3
`))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "sigledger_submission_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Submission(metrics.OutcomeError, time.Second)
		m.Appended("x", 1)
		m.Skipped(1)
		m.Conflict()
		m.ParseError("x")
		m.CacheLookup(true)
		m.Published()
	})
}

func TestNewWithoutRegisterer(t *testing.T) {
	// Two instances must not collide on a shared registry.
	metrics.New(nil)
	metrics.New(nil)
}

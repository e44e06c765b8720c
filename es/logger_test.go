package es_test

import (
	"context"
	"testing"

	"github.com/getpup/sigledger/es"
)

type countingLogger struct {
	calls   map[string]int
	lastMsg string
}

func (m *countingLogger) record(level, msg string) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[level]++
	m.lastMsg = msg
}

func (m *countingLogger) Debug(_ context.Context, msg string, _ ...interface{}) {
	m.record("debug", msg)
}
func (m *countingLogger) Info(_ context.Context, msg string, _ ...interface{}) { m.record("info", msg) }
func (m *countingLogger) Warn(_ context.Context, msg string, _ ...interface{}) { m.record("warn", msg) }
func (m *countingLogger) Error(_ context.Context, msg string, _ ...interface{}) {
	m.record("error", msg)
}

func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Warn(ctx, "warn message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestOrNoOp(t *testing.T) {
	if _, ok := es.OrNoOp(nil).(es.NoOpLogger); !ok {
		t.Errorf("OrNoOp(nil) = %T, want es.NoOpLogger", es.OrNoOp(nil))
	}

	custom := &countingLogger{}
	got := es.OrNoOp(custom)
	got.Warn(context.Background(), "idempotent append skipped")
	if custom.calls["warn"] != 1 {
		t.Errorf("warn calls = %d, want 1", custom.calls["warn"])
	}
	if custom.lastMsg != "idempotent append skipped" {
		t.Errorf("last message = %q", custom.lastMsg)
	}
}

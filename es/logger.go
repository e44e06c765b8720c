package es

import "context"

// Logger is the logging surface used throughout the module.
// A nil Logger anywhere in a config means "do not log".
// Adapters for concrete logging libraries live in es/logging.
type Logger interface {
	// Debug logs verbose operational details (page reads, cache hits).
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events during normal execution.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Warn logs recoverable anomalies: idempotent no-ops, retries, degraded caches.
	Warn(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Warn implements Logger.
func (NoOpLogger) Warn(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}

// OrNoOp returns l, or NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

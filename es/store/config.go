package store

import (
	"time"

	"github.com/getpup/sigledger/es"
)

// Config contains configuration shared by the SQL event stores.
// Configuration is immutable after construction.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled.
	Logger es.Logger

	// EventsTable is the name of the events table
	EventsTable string

	// StreamHeadsTable tracks the current version of every stream
	StreamHeadsTable string

	// LogHeadTable holds the single row used as the global append lock
	LogHeadTable string

	// CheckpointsTable is the name of the projection checkpoints table
	CheckpointsTable string

	// SnapshotsTable holds cached stream projections
	SnapshotsTable string

	// Now stamps recorded_at on append. Nil means time.Now.
	Now func() time.Time
}

// Default table names. The embedded migrations use these.
const (
	DefaultEventsTable      = "signature_events"
	DefaultStreamHeadsTable = "stream_heads"
	DefaultLogHeadTable     = "log_head"
	DefaultCheckpointsTable = "projection_checkpoints"
	DefaultSnapshotsTable   = "projection_snapshots"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		EventsTable:      DefaultEventsTable,
		StreamHeadsTable: DefaultStreamHeadsTable,
		LogHeadTable:     DefaultLogHeadTable,
		CheckpointsTable: DefaultCheckpointsTable,
		SnapshotsTable:   DefaultSnapshotsTable,
	}
}

// Option is a functional option for configuring a store.
type Option func(*Config)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) Option {
	return func(c *Config) {
		c.EventsTable = tableName
	}
}

// WithStreamHeadsTable sets a custom stream heads table name.
func WithStreamHeadsTable(tableName string) Option {
	return func(c *Config) {
		c.StreamHeadsTable = tableName
	}
}

// WithLogHeadTable sets a custom log head table name.
func WithLogHeadTable(tableName string) Option {
	return func(c *Config) {
		c.LogHeadTable = tableName
	}
}

// WithCheckpointsTable sets a custom projection checkpoints table name.
func WithCheckpointsTable(tableName string) Option {
	return func(c *Config) {
		c.CheckpointsTable = tableName
	}
}

// WithSnapshotsTable sets a custom projection snapshots table name.
func WithSnapshotsTable(tableName string) Option {
	return func(c *Config) {
		c.SnapshotsTable = tableName
	}
}

// WithClock sets the time source for recorded_at.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// NewConfig starts from DefaultConfig and applies opts.
//
// Example:
//
//	config := store.NewConfig(
//	    store.WithLogger(myLogger),
//	    store.WithEventsTable("custom_events"),
//	)
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

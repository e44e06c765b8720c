// Package sigledger is the entry point documentation of the signature
// ledger. The functionality lives in subpackages:
//
//	signature          - scanner snapshot parsing
//	tracker            - signature events, projection fold and snapshot diff
//	tracker/reconcile  - submission engine (per-stream locking, retries)
//	tracker/projstore  - cached projections (memory, Redis)
//	tracker/notify     - NATS publisher projection
//	es                 - core event types
//	es/store           - event store abstractions
//	es/eventlog        - append/replay API over a store
//	es/adapters/...    - SQLite, PostgreSQL and MySQL stores
//	es/projection      - checkpointed processing of the global log
//	es/migrations      - embedded schema and migration generation
//
// Quick Start:
//
//  1. Create the schema:
//     migrations.Apply(ctx, migrations.SQLite, "sigledger.db")
//
//  2. Build a log and an engine:
//     db, _ := sqlite.Open(ctx, "sigledger.db")
//     log := eventlog.NewSQL(db, sqlite.NewStore(store.DefaultConfig()), eventlog.DefaultSQLConfig())
//     engine := reconcile.New(log, projstore.New(log, projstore.Config{}), reconcile.Config{})
//
//  3. Submit snapshots:
//     res, err := engine.SubmitRaw(ctx, reconcile.Snapshot{StreamKey: "J100820"}, clipboard)
//
// See the examples directory for a complete program.
package sigledger

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}

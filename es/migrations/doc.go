// Package migrations provides the SQL schema of the signature event log:
// embedded migrations applied with golang-migrate, and a generator that
// writes the same schema with custom table names.
//
// The schema has two migrations: the log itself (events, stream heads, the
// log head lock row and projection checkpoints) and the projection
// snapshots table used by the SQL projection cache.
//
// Apply the embedded schema at startup:
//
//	if err := migrations.Apply(ctx, migrations.SQLite, "events.db"); err != nil {
//	    return err
//	}
//
// Or generate a migration file with custom table names for your own tooling:
//
//	go run github.com/getpup/sigledger/cmd/migrate-gen -adapter postgres -output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/getpup/sigledger/cmd/migrate-gen -adapter sqlite -output ../../migrations
package migrations

// Command migrate-gen writes the signature log schema as a single SQL file,
// for deployments that manage migrations with their own tooling.
//
// Usage:
//
//	go run github.com/getpup/sigledger/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/sigledger/cmd/migrate-gen -adapter sqlite -events-table sig_events
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/sigledger/cmd/migrate-gen -adapter mysql -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/sigledger/es/migrations"
)

func main() {
	defaults := migrations.DefaultConfig()
	var (
		adapter          = flag.String("adapter", migrations.Postgres, "Database adapter: postgres, mysql, or sqlite")
		outputFolder     = flag.String("output", defaults.OutputFolder, "Output folder for migration file")
		outputFilename   = flag.String("filename", "", "Output filename (default: timestamp-based)")
		eventsTable      = flag.String("events-table", defaults.EventsTable, "Name of events table")
		streamHeadsTable = flag.String("stream-heads-table", defaults.StreamHeadsTable, "Name of stream version table")
		logHeadTable     = flag.String("log-head-table", defaults.LogHeadTable, "Name of global sequence table")
		checkpointsTable = flag.String("checkpoints-table", defaults.CheckpointsTable, "Name of checkpoints table")
		snapshotsTable   = flag.String("snapshots-table", defaults.SnapshotsTable, "Name of projection snapshots table")
	)

	flag.Parse()

	config := defaults
	config.OutputFolder = *outputFolder
	config.EventsTable = *eventsTable
	config.StreamHeadsTable = *streamHeadsTable
	config.LogHeadTable = *logHeadTable
	config.CheckpointsTable = *checkpointsTable
	config.SnapshotsTable = *snapshotsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case migrations.Postgres:
		err = migrations.GeneratePostgres(&config)
	case migrations.MySQL:
		err = migrations.GenerateMySQL(&config)
	case migrations.SQLite:
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}

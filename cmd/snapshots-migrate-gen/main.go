// Command snapshots-migrate-gen writes the projection snapshots table as a
// single SQL file. Use it to add the SQL projection cache to a database
// whose log schema was generated by migrate-gen before snapshots existed.
//
// Usage:
//
//	go run github.com/getpup/sigledger/cmd/snapshots-migrate-gen -adapter postgres -output migrations
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/sigledger/cmd/snapshots-migrate-gen -adapter sqlite -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/sigledger/es/migrations"
)

func main() {
	defaults := migrations.DefaultSnapshotsConfig()
	var (
		adapter        = flag.String("adapter", migrations.Postgres, "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", defaults.OutputFolder, "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		snapshotsTable = flag.String("snapshots-table", defaults.SnapshotsTable, "Name of snapshots table")
	)

	flag.Parse()

	config := defaults
	config.OutputFolder = *outputFolder
	config.SnapshotsTable = *snapshotsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.GenerateSnapshots(*adapter, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating snapshots migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s snapshots migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}

package migrations

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpup/sigledger/es/store"
)

//go:embed sql
var schemaFS embed.FS

// Dialects supported by the generator and Apply.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
	MySQL    = "mysql"
)

const (
	initMigration      = "000001_signature_log"
	snapshotsMigration = "000002_projection_snapshots"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EventsTable is the name of the events table
	EventsTable string

	// StreamHeadsTable is the name of the stream version tracking table
	StreamHeadsTable string

	// LogHeadTable is the name of the single-row global lock table
	LogHeadTable string

	// CheckpointsTable is the name of the projection checkpoints table
	CheckpointsTable string

	// SnapshotsTable is the name of the projection snapshots table
	SnapshotsTable string
}

// DefaultConfig returns the default configuration.
// The table names match store.DefaultConfig.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_signature_log.sql", timestamp),
		EventsTable:      store.DefaultEventsTable,
		StreamHeadsTable: store.DefaultStreamHeadsTable,
		LogHeadTable:     store.DefaultLogHeadTable,
		CheckpointsTable: store.DefaultCheckpointsTable,
		SnapshotsTable:   store.DefaultSnapshotsTable,
	}
}

// SnapshotsConfig configures generation of the snapshots migration alone,
// for databases created before the snapshot cache existed.
type SnapshotsConfig struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SnapshotsTable is the name of the projection snapshots table
	SnapshotsTable string
}

// DefaultSnapshotsConfig returns the default snapshots configuration.
func DefaultSnapshotsConfig() SnapshotsConfig {
	timestamp := time.Now().Format("20060102150405")
	return SnapshotsConfig{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_add_projection_snapshots.sql", timestamp),
		SnapshotsTable: store.DefaultSnapshotsTable,
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return generate(Postgres, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return generate(SQLite, config)
}

// GenerateMySQL generates a MySQL migration file.
func GenerateMySQL(config *Config) error {
	return generate(MySQL, config)
}

// Render returns the full schema for dialect with config's table names.
func Render(dialect string, config *Config) (string, error) {
	// Table names are distinct and never substrings of one another, so a
	// single pass replacement is unambiguous.
	replacer := strings.NewReplacer(
		store.DefaultEventsTable, orDefault(config.EventsTable, store.DefaultEventsTable),
		store.DefaultStreamHeadsTable, orDefault(config.StreamHeadsTable, store.DefaultStreamHeadsTable),
		store.DefaultLogHeadTable, orDefault(config.LogHeadTable, store.DefaultLogHeadTable),
		store.DefaultCheckpointsTable, orDefault(config.CheckpointsTable, store.DefaultCheckpointsTable),
		store.DefaultSnapshotsTable, orDefault(config.SnapshotsTable, store.DefaultSnapshotsTable),
	)
	var b strings.Builder
	for i, name := range []string{initMigration, snapshotsMigration} {
		body, err := renderFile(dialect, name, replacer)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(body)
	}
	return b.String(), nil
}

// RenderSnapshots returns only the projection snapshots table for dialect.
func RenderSnapshots(dialect string, config *SnapshotsConfig) (string, error) {
	replacer := strings.NewReplacer(
		store.DefaultSnapshotsTable, orDefault(config.SnapshotsTable, store.DefaultSnapshotsTable),
	)
	return renderFile(dialect, snapshotsMigration, replacer)
}

// GenerateSnapshots writes the projection snapshots migration for dialect.
func GenerateSnapshots(dialect string, config *SnapshotsConfig) error {
	body, err := RenderSnapshots(dialect, config)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("-- Projection Snapshots Migration (%s)", dialect)
	return write(config.OutputFolder, config.OutputFilename, header, body)
}

func renderFile(dialect, name string, replacer *strings.Replacer) (string, error) {
	raw, err := schemaFS.ReadFile(path.Join("sql", dialect, name+".up.sql"))
	if err != nil {
		return "", fmt.Errorf("unsupported dialect %q: %w", dialect, err)
	}
	return replacer.Replace(string(raw)), nil
}

func generate(dialect string, config *Config) error {
	body, err := Render(dialect, config)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("-- Signature Event Log Migration (%s)", dialect)
	return write(config.OutputFolder, config.OutputFilename, header, body)
}

func write(folder, filename, header, body string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	sql := fmt.Sprintf("%s\n-- Generated: %s\n\n%s", header, time.Now().Format(time.RFC3339), body)

	outputPath := filepath.Join(folder, filename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

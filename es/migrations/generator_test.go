package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerate_DefaultTables(t *testing.T) {
	generators := map[string]func(*Config) error{
		SQLite:   GenerateSQLite,
		Postgres: GeneratePostgres,
		MySQL:    GenerateMySQL,
	}

	for dialect, generate := range generators {
		t.Run(dialect, func(t *testing.T) {
			config := DefaultConfig()
			config.OutputFolder = t.TempDir()
			config.OutputFilename = "init.sql"

			if err := generate(&config); err != nil {
				t.Fatalf("generate %s failed: %v", dialect, err)
			}

			content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
			if err != nil {
				t.Fatalf("Failed to read generated file: %v", err)
			}
			sql := string(content)

			requiredStrings := []string{
				"CREATE TABLE IF NOT EXISTS signature_events",
				"event_id",
				"stream_version",
				"recorded_at",
				"attributed_source",
				"CREATE TABLE IF NOT EXISTS stream_heads",
				"CREATE TABLE IF NOT EXISTS log_head",
				"CREATE TABLE IF NOT EXISTS projection_checkpoints",
				"idx_signature_events_recorded",
				"CREATE TABLE IF NOT EXISTS projection_snapshots",
			}
			for _, required := range requiredStrings {
				if !strings.Contains(sql, required) {
					t.Errorf("Generated SQL missing required string: %s", required)
				}
			}
			if !strings.HasPrefix(sql, "-- Signature Event Log Migration ("+dialect+")") {
				t.Errorf("missing header, got %q", strings.SplitN(sql, "\n", 2)[0])
			}
		})
	}
}

func TestGenerate_CustomTableNames(t *testing.T) {
	config := Config{
		OutputFolder:     t.TempDir(),
		OutputFilename:   "custom.sql",
		EventsTable:      "wormhole_events",
		StreamHeadsTable: "wormhole_heads",
		LogHeadTable:     "wormhole_log_lock",
		CheckpointsTable: "wormhole_checkpoints",
		SnapshotsTable:   "wormhole_snapshots",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	sql := string(content)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS wormhole_events",
		"CREATE TABLE IF NOT EXISTS wormhole_heads",
		"CREATE TABLE IF NOT EXISTS wormhole_log_lock",
		"INSERT INTO wormhole_log_lock",
		"CREATE TABLE IF NOT EXISTS wormhole_checkpoints",
		"ON wormhole_events (stream_key, global_seq)",
		"CREATE TABLE IF NOT EXISTS wormhole_snapshots",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("Generated SQL missing %q", want)
		}
	}
	for _, stale := range []string{"signature_events", "stream_heads", "projection_checkpoints", "projection_snapshots", " log_head "} {
		if strings.Contains(sql, stale) {
			t.Errorf("Generated SQL still references default table %q", stale)
		}
	}
}

func TestGenerateSnapshots(t *testing.T) {
	for _, dialect := range []string{SQLite, Postgres, MySQL} {
		t.Run(dialect, func(t *testing.T) {
			config := DefaultSnapshotsConfig()
			config.OutputFolder = t.TempDir()
			config.OutputFilename = "snapshots.sql"
			config.SnapshotsTable = "wormhole_snapshots"

			if err := GenerateSnapshots(dialect, &config); err != nil {
				t.Fatalf("GenerateSnapshots(%s) failed: %v", dialect, err)
			}
			content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
			if err != nil {
				t.Fatalf("Failed to read generated file: %v", err)
			}
			sql := string(content)

			if !strings.HasPrefix(sql, "-- Projection Snapshots Migration ("+dialect+")") {
				t.Errorf("missing header, got %q", strings.SplitN(sql, "\n", 2)[0])
			}
			if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS wormhole_snapshots") {
				t.Error("Generated SQL missing snapshots table")
			}
			if strings.Contains(sql, "signature_events") {
				t.Error("snapshots migration must not contain the log schema")
			}
		})
	}
}

func TestRender_UnsupportedDialect(t *testing.T) {
	config := DefaultConfig()
	if _, err := Render("oracle", &config); err == nil {
		t.Fatal("Render(oracle) succeeded, want error")
	}
}

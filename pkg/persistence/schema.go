// Package persistence stores sessions and their step trace in SQLite.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version written by this build.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations brings the database to CurrentSchemaVersion.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	for version := currentVersion + 1; version <= CurrentSchemaVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the per-step model latency column.
func migrateToVersion2(db *sql.DB) error {
	if _, err := db.Exec("ALTER TABLE steps ADD COLUMN model_duration_ms INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("failed to add model_duration_ms: %w", err)
	}
	return nil
}

func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL CHECK (status IN ('active','completed','time_limit','interrupted','failed','crashed')),
			model TEXT NOT NULL DEFAULT '',
			work_dir TEXT NOT NULL DEFAULT '',
			task TEXT NOT NULL DEFAULT '',
			config_json TEXT NOT NULL DEFAULT '{}',
			state_json TEXT,
			step_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS steps (
			session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			step_index INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			model_duration_ms INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			message_json TEXT NOT NULL,
			tools_json TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			PRIMARY KEY (session_id, step_index)
		)`,

		`CREATE TABLE IF NOT EXISTS edits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			path TEXT NOT NULL,
			patch TEXT NOT NULL,
			lines_added INTEGER NOT NULL,
			lines_removed INTEGER NOT NULL,
			FOREIGN KEY (session_id, step_index) REFERENCES steps(session_id, step_index) ON DELETE CASCADE
		)`,
	}
	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)",
		"CREATE INDEX IF NOT EXISTS idx_edits_session ON edits(session_id, step_index)",
		"CREATE INDEX IF NOT EXISTS idx_edits_path ON edits(path)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the schema version recorded in db, or 0 for a
// fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

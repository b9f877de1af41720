package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
//
//	1: tenants, conversations, messages, notes, plans, execution logs
//	2: conversation summaries
//	3: agent records, record chunks, modification requests
const CurrentSchemaVersion = 3

//nolint:gochecknoglobals // DDL shared between fresh creation and migrations
var (
	baseTables = []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0,
			system_prompt TEXT NOT NULL DEFAULT '',
			enabled_features TEXT NOT NULL DEFAULT '[]',
			pipeline_version TEXT NOT NULL DEFAULT '',
			billing_active INTEGER NOT NULL DEFAULT 1,
			sheet_id TEXT NOT NULL DEFAULT '',
			whatsapp_number TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','handoff_requested','human_joined')),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			handoff_requested_at TEXT,
			human_joined_at TEXT
		)`,

		// seq breaks ties between messages created in the same instant.
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user','assistant','human_agent')),
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			patient_ref TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','reviewed','archived')),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS plans (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			request TEXT NOT NULL,
			steps TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 0,
			missing_info TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS execution_logs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			success INTEGER NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			verified INTEGER,
			attempt INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,
	}

	baseIndices = []string{
		"CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_external ON conversations(tenant_id, channel, external_id) WHERE external_id <> ''",
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(tenant_id, conversation_id, created_at, seq)",
		"CREATE INDEX IF NOT EXISTS idx_notes_tenant ON notes(tenant_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notes_conversation ON notes(tenant_id, conversation_id)",
		"CREATE INDEX IF NOT EXISTS idx_plans_conversation ON plans(tenant_id, conversation_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_execution_logs_conversation ON execution_logs(tenant_id, conversation_id, seq)",
	}

	summaryDDL = []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL CHECK (scope IN ('shared','user')),
			summary TEXT NOT NULL,
			topics TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_summaries_tenant ON summaries(tenant_id, created_at)",
	}

	recordDDL = []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS record_chunks (
			record_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (record_id, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS modification_requests (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('edit','delete')),
			proposed_title TEXT NOT NULL DEFAULT '',
			proposed_content TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_record_chunks_tenant ON record_chunks(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_modification_requests_tenant ON modification_requests(tenant_id, status)",
	}
)

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Empty database: create fresh schema
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return execAll(db, summaryDDL)
	case 3:
		return execAll(db, recordDDL)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func execAll(db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", stmt, err)
		}
	}
	return nil
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	for _, group := range [][]string{baseTables, baseIndices, summaryDDL, recordDDL} {
		if err := execAll(db, group); err != nil {
			return err
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
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
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

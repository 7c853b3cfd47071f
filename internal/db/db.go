package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/skillminer/internal/config"
	_ "modernc.org/sqlite"
)

// FileName is the index database file inside the base directory.
const FileName = "index.db"

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite session index at baseDir/index.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.skillminer.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
}

// migrate applies schema migrations based on user_version.
// All timestamps are unix milliseconds.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: conversations and skill invocations
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS conversations (
		  id            TEXT PRIMARY KEY,
		  source_path   TEXT NOT NULL,
		  project       TEXT NOT NULL DEFAULT '',
		  cwd           TEXT NOT NULL DEFAULT '',
		  git_branch    TEXT NOT NULL DEFAULT '',
		  started_at    INTEGER,
		  ended_at      INTEGER,
		  message_count INTEGER NOT NULL,
		  summary_json  TEXT NOT NULL,
		  source_mtime  INTEGER NOT NULL DEFAULT 0,
		  source_size   INTEGER NOT NULL DEFAULT 0,
		  indexed_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_started
		ON conversations(started_at, message_count)
		WHERE started_at IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_conversations_source
		ON conversations(source_path);

		CREATE TABLE IF NOT EXISTS invocations (
		  conversation_id TEXT NOT NULL,
		  seq             INTEGER NOT NULL,
		  skill           TEXT NOT NULL,
		  fired_at        INTEGER NOT NULL,
		  productive      INTEGER NOT NULL,
		  trigger_text    TEXT,
		  PRIMARY KEY (conversation_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_fired
		ON invocations(fired_at);

		CREATE INDEX IF NOT EXISTS idx_invocations_skill
		ON invocations(skill, fired_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: mining run history
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS mining_runs (
		  id            TEXT PRIMARY KEY,
		  command       TEXT NOT NULL,
		  started_at    INTEGER NOT NULL,
		  finished_at   INTEGER NOT NULL,
		  windows       INTEGER NOT NULL,
		  conversations INTEGER NOT NULL,
		  committed     INTEGER NOT NULL,
		  failed        INTEGER NOT NULL,
		  stop_reason   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mining_runs_started
		ON mining_runs(started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

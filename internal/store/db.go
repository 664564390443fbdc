// Package store provides SQLite-backed persistence for the orchestration
// core: the active usage window, archived window history, cache entries,
// and the router's performance table.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps an SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the default database location under the user's
// data directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "stratum", "stratum.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Windows},
		{2, migrationV2CacheEntries},
		{3, migrationV3Performance},
		{4, migrationV4Settings},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Windows = `
CREATE TABLE IF NOT EXISTS usage_windows (
	id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	total_messages INTEGER NOT NULL DEFAULT 0,
	total_input_tokens INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0,
	heavy_messages INTEGER NOT NULL DEFAULT 0,
	standard_messages INTEGER NOT NULL DEFAULT 0,
	heavy_cost_units REAL NOT NULL DEFAULT 0,
	standard_cost_units REAL NOT NULL DEFAULT 0,
	throttle_activated INTEGER NOT NULL DEFAULT 0,
	archived_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_usage_windows_active ON usage_windows(is_active);
`

const migrationV2CacheEntries = `
CREATE TABLE IF NOT EXISTS cache_entries (
	layer TEXT NOT NULL,
	task_type TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	ttl_seconds INTEGER NOT NULL,
	model_used TEXT,
	cached_response TEXT,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed TEXT,
	prefix_hash TEXT,
	input_hash TEXT,
	embedding TEXT,
	avg_similarity REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (layer, task_type, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_layer ON cache_entries(layer);
`

const migrationV3Performance = `
CREATE TABLE IF NOT EXISTS performance_history (
	key TEXT PRIMARY KEY,
	success_rate REAL NOT NULL
);
`

const migrationV4Settings = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Transaction runs the given function within a transaction.
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage. Second precision
// keeps lexicographic and chronological ordering aligned.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Package appstore is the demo application's own persistence layer: it
// remembers which lines a user pinned and which search patterns they ran,
// per file, across runs of the cmd/logviewer demo. It sits outside the
// engine proper — nothing in internal/engine or internal/search imports
// it — the same separation the teacher draws between its TUI's statedb
// and the agent sessions it persists.
package appstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema. Bump when adding
// migrations.
const SchemaVersion = 1

// Store wraps a SQLite database holding one demo user's marks and search
// history across files.
type Store struct {
	db *sql.DB
}

// PatternEntry is one row of search-pattern history.
type PatternEntry struct {
	Pattern        string
	CaseSensitive  bool
	Inverse        bool
	BooleanCombine bool
	PlainText      bool
	UsedAt         time.Time
	UseCount       int
}

// Open creates or opens a SQLite database at dbPath with WAL mode and a
// busy timeout, mirroring the teacher's statedb.Open.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("appstore: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("appstore: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("appstore: %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use (testing, inspection).
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates tables if they don't exist.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("appstore: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("appstore: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS marks (
			file_path   TEXT NOT NULL,
			line_number INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (file_path, line_number)
		)
	`); err != nil {
		return fmt.Errorf("appstore: create marks: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pattern_history (
			pattern         TEXT NOT NULL,
			case_sensitive  INTEGER NOT NULL DEFAULT 0,
			inverse         INTEGER NOT NULL DEFAULT 0,
			boolean_combine INTEGER NOT NULL DEFAULT 0,
			plain_text      INTEGER NOT NULL DEFAULT 0,
			used_at         INTEGER NOT NULL,
			use_count       INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (pattern, case_sensitive, inverse, boolean_combine, plain_text)
		)
	`); err != nil {
		return fmt.Errorf("appstore: create pattern_history: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("appstore: set schema version: %w", err)
	}

	return tx.Commit()
}

// SaveMarks replaces the full set of pinned lines for path in a single
// transaction, the same "clear and re-insert" shape the teacher's
// SaveGroups uses for a small, fully-owned row set.
func (s *Store) SaveMarks(path string, lines []uint64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM marks WHERE file_path = ?", path); err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO marks (file_path, line_number, created_at) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, ln := range lines {
		if _, err := stmt.Exec(path, ln, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadMarks returns the pinned line numbers for path, ascending.
func (s *Store) LoadMarks(path string) ([]uint64, error) {
	rows, err := s.db.Query(
		"SELECT line_number FROM marks WHERE file_path = ? ORDER BY line_number", path,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uint64
	for rows.Next() {
		var ln uint64
		if err := rows.Scan(&ln); err != nil {
			return nil, err
		}
		result = append(result, ln)
	}
	return result, rows.Err()
}

// ClearMarks removes every pinned line for path.
func (s *Store) ClearMarks(path string) error {
	_, err := s.db.Exec("DELETE FROM marks WHERE file_path = ?", path)
	return err
}

// RecordPattern upserts a search-pattern run into the history, bumping
// use_count and used_at when the exact (pattern, flags) tuple already
// exists so a fuzzy picker can rank by recency and frequency.
func (s *Store) RecordPattern(e PatternEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO pattern_history (
			pattern, case_sensitive, inverse, boolean_combine, plain_text, used_at, use_count
		) VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (pattern, case_sensitive, inverse, boolean_combine, plain_text)
		DO UPDATE SET used_at = excluded.used_at, use_count = use_count + 1
	`,
		e.Pattern, boolToInt(e.CaseSensitive), boolToInt(e.Inverse),
		boolToInt(e.BooleanCombine), boolToInt(e.PlainText), time.Now().UnixNano(),
	)
	return err
}

// RecentPatterns returns up to limit history entries, most recently used
// first — the candidate set cmd/logviewer's fuzzy picker filters.
func (s *Store) RecentPatterns(limit int) ([]PatternEntry, error) {
	rows, err := s.db.Query(`
		SELECT pattern, case_sensitive, inverse, boolean_combine, plain_text, used_at, use_count
		FROM pattern_history ORDER BY used_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PatternEntry
	for rows.Next() {
		var e PatternEntry
		var cs, inv, bc, pt int
		var usedUnix int64
		if err := rows.Scan(&e.Pattern, &cs, &inv, &bc, &pt, &usedUnix, &e.UseCount); err != nil {
			return nil, err
		}
		e.CaseSensitive, e.Inverse, e.BooleanCombine, e.PlainText = cs != 0, inv != 0, bc != 0, pt != 0
		e.UsedAt = time.Unix(0, usedUnix)
		result = append(result, e)
	}
	return result, rows.Err()
}

// SetMeta sets a key-value pair in the metadata table.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

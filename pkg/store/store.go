// Package store persists orders, dining tables, and resident profiles in
// SQLite. All timestamps are stored as RFC3339 UTC strings; list-valued
// columns are stored as JSON.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/voiceplate/voiceplate/pkg/logging"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and initializes the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc's driver is not safe for concurrent writes over multiple
	// connections; a single connection serializes them.
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logging.NewComponentLogger(logger, "store")}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initDB() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			table_id TEXT,
			seat_id TEXT,
			resident_id TEXT,
			resident_hint TEXT,
			items TEXT NOT NULL,
			dietary_notes TEXT,
			raw_transcript TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_table_id ON orders(table_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)`,
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			seats INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS residents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			table_id TEXT,
			seat_id TEXT,
			dietary_restrictions TEXT,
			texture_preferences TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_residents_table_id ON residents(table_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

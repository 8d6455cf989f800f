package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voiceplate/voiceplate/pkg/errorsx"
)

// DiningTable is a physical table in the dining room.
type DiningTable struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seats int    `json:"seats"`
}

// UpsertTable creates or replaces a dining table definition.
func (s *Store) UpsertTable(ctx context.Context, t DiningTable) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dining_tables (id, name, seats) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, seats = excluded.seats`,
		t.ID, t.Name, t.Seats)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to upsert table: %w", err), errorsx.ReasonStoreQuery)
	}
	return nil
}

// GetTable returns one dining table, ErrNotFound when absent.
func (s *Store) GetTable(ctx context.Context, id string) (DiningTable, error) {
	var t DiningTable
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, seats FROM dining_tables WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Seats)
	if err == sql.ErrNoRows {
		return DiningTable{}, ErrNotFound
	}
	if err != nil {
		return DiningTable{}, errorsx.Wrap(fmt.Errorf("failed to query table: %w", err), errorsx.ReasonStoreQuery)
	}
	return t, nil
}

// ListTables returns every dining table ordered by ID.
func (s *Store) ListTables(ctx context.Context) ([]DiningTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, seats FROM dining_tables ORDER BY id`)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("failed to query tables: %w", err), errorsx.ReasonStoreQuery)
	}
	defer rows.Close()

	var out []DiningTable
	for rows.Next() {
		var t DiningTable
		if err := rows.Scan(&t.ID, &t.Name, &t.Seats); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("failed to scan table: %w", err), errorsx.ReasonStoreQuery)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTable removes a dining table definition.
func (s *Store) DeleteTable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dining_tables WHERE id = ?`, id)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to delete table: %w", err), errorsx.ReasonStoreQuery)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

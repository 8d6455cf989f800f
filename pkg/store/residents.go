package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/order"
)

// Resident is a diner with recorded seating and dietary preferences.
type Resident struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	TableID             string   `json:"table_id,omitempty"`
	SeatID              string   `json:"seat_id,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	TexturePreferences  []string `json:"texture_preferences,omitempty"`
}

// UpsertResident creates or replaces a resident record.
func (s *Store) UpsertResident(ctx context.Context, r Resident) error {
	restrictions, err := json.Marshal(r.DietaryRestrictions)
	if err != nil {
		return fmt.Errorf("failed to encode restrictions: %w", err)
	}
	prefs, err := json.Marshal(r.TexturePreferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO residents (id, name, table_id, seat_id, dietary_restrictions, texture_preferences)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			table_id = excluded.table_id,
			seat_id = excluded.seat_id,
			dietary_restrictions = excluded.dietary_restrictions,
			texture_preferences = excluded.texture_preferences`,
		r.ID, r.Name, r.TableID, r.SeatID, string(restrictions), string(prefs))
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to upsert resident: %w", err), errorsx.ReasonStoreQuery)
	}
	return nil
}

// GetResident returns one resident, ErrNotFound when absent.
func (s *Store) GetResident(ctx context.Context, id string) (Resident, error) {
	row := s.db.QueryRowContext(ctx, residentSelect+` WHERE id = ?`, id)
	r, err := scanResident(row)
	if err == sql.ErrNoRows {
		return Resident{}, ErrNotFound
	}
	if err != nil {
		return Resident{}, errorsx.Wrap(fmt.Errorf("failed to query resident: %w", err), errorsx.ReasonStoreQuery)
	}
	return r, nil
}

// ListResidents returns residents, optionally limited to one table.
func (s *Store) ListResidents(ctx context.Context, tableID string) ([]Resident, error) {
	q := residentSelect
	var args []any
	if tableID != "" {
		q += ` WHERE table_id = ?`
		args = append(args, tableID)
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("failed to query residents: %w", err), errorsx.ReasonStoreQuery)
	}
	defer rows.Close()

	var out []Resident
	for rows.Next() {
		r, err := scanResident(rows)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("failed to scan resident: %w", err), errorsx.ReasonStoreQuery)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResident removes a resident record.
func (s *Store) DeleteResident(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM residents WHERE id = ?`, id)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to delete resident: %w", err), errorsx.ReasonStoreQuery)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetResidentProfile adapts a stored resident into the extractor's
// context-merge shape. Missing residents yield (nil, nil) so callers can
// extract without context.
func (s *Store) GetResidentProfile(ctx context.Context, id string) (*order.ResidentProfile, error) {
	if id == "" {
		return nil, nil
	}
	r, err := s.GetResident(ctx, id)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order.ResidentProfile{
		ID:                  r.ID,
		Name:                r.Name,
		DietaryRestrictions: r.DietaryRestrictions,
		TexturePreferences:  r.TexturePreferences,
	}, nil
}

const residentSelect = `SELECT id, name, table_id, seat_id, dietary_restrictions, texture_preferences FROM residents`

func scanResident(row rowScanner) (Resident, error) {
	var r Resident
	var restrictions, prefs sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.TableID, &r.SeatID, &restrictions, &prefs); err != nil {
		return Resident{}, err
	}
	if restrictions.Valid && restrictions.String != "" {
		if err := json.Unmarshal([]byte(restrictions.String), &r.DietaryRestrictions); err != nil {
			return Resident{}, fmt.Errorf("failed to decode restrictions: %w", err)
		}
	}
	if prefs.Valid && prefs.String != "" {
		if err := json.Unmarshal([]byte(prefs.String), &r.TexturePreferences); err != nil {
			return Resident{}, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}
	return r, nil
}

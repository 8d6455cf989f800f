package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/order"
)

// CreateOrder persists a newly assembled order.
func (s *Store) CreateOrder(ctx context.Context, rec order.Record) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	notes, err := json.Marshal(rec.DietaryNotes)
	if err != nil {
		return fmt.Errorf("failed to encode dietary notes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders
		(id, table_id, seat_id, resident_id, resident_hint, items, dietary_notes, raw_transcript, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TableID,
		rec.SeatID,
		rec.ResidentID,
		rec.ResidentHint,
		string(items),
		string(notes),
		rec.RawTranscript,
		string(rec.Status),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to insert order: %w", err), errorsx.ReasonStoreQuery)
	}

	s.logger.Info("order_stored",
		slog.String("order_id", rec.ID),
		slog.String("table_id", rec.TableID))
	return nil
}

// GetOrder returns one order by ID, ErrNotFound when absent.
func (s *Store) GetOrder(ctx context.Context, id string) (order.Record, error) {
	row := s.db.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, id)
	rec, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return order.Record{}, ErrNotFound
	}
	if err != nil {
		return order.Record{}, errorsx.Wrap(fmt.Errorf("failed to query order: %w", err), errorsx.ReasonStoreQuery)
	}
	return rec, nil
}

// OrderFilter narrows ListOrders; zero values mean no constraint.
type OrderFilter struct {
	TableID string
	Status  order.Status
	Limit   int
}

// ListOrders returns orders newest-first.
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]order.Record, error) {
	q := orderSelect + ` WHERE 1=1`
	var args []any
	if f.TableID != "" {
		q += ` AND table_id = ?`
		args = append(args, f.TableID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("failed to query orders: %w", err), errorsx.ReasonStoreQuery)
	}
	defer rows.Close()

	var out []order.Record
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("failed to scan order: %w", err), errorsx.ReasonStoreQuery)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateOrderStatus applies a lifecycle transition and returns the updated
// record. Completion stamps completed_at. Illegal transitions return
// ErrInvalidTransition without touching the row.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, next order.Status) (order.Record, error) {
	if !next.Valid() {
		return order.Record{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	rec, err := s.GetOrder(ctx, id)
	if err != nil {
		return order.Record{}, err
	}
	if !rec.Status.CanTransitionTo(next) {
		return order.Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}

	now := time.Now().UTC()
	var completedAt any
	if next == order.StatusCompleted {
		completedAt = now.Format(time.RFC3339Nano)
		rec.CompletedAt = &now
	}

	// The UPDATE is conditional on the status just read, so two concurrent
	// transitions cannot both win; the loser re-reads and reports the
	// transition that actually happened.
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at) WHERE id = ? AND status = ?`,
		string(next), now.Format(time.RFC3339Nano), completedAt, id, string(rec.Status))
	if err != nil {
		return order.Record{}, errorsx.Wrap(fmt.Errorf("failed to update order status: %w", err), errorsx.ReasonStoreQuery)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		cur, err := s.GetOrder(ctx, id)
		if err != nil {
			return order.Record{}, err
		}
		return order.Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
	}

	rec.Status = next
	rec.UpdatedAt = now
	s.logger.Info("order_status_updated",
		slog.String("order_id", id),
		slog.String("status", string(next)))
	return rec, nil
}

const orderSelect = `SELECT id, table_id, seat_id, resident_id, resident_hint, items, dietary_notes, raw_transcript, status, created_at, updated_at, completed_at FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Record, error) {
	var rec order.Record
	var items, notes, status, createdAt, updatedAt string
	var completedAt sql.NullString

	if err := row.Scan(
		&rec.ID,
		&rec.TableID,
		&rec.SeatID,
		&rec.ResidentID,
		&rec.ResidentHint,
		&items,
		&notes,
		&rec.RawTranscript,
		&status,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return order.Record{}, err
	}

	if err := json.Unmarshal([]byte(items), &rec.Items); err != nil {
		return order.Record{}, fmt.Errorf("failed to decode items: %w", err)
	}
	if notes != "" {
		if err := json.Unmarshal([]byte(notes), &rec.DietaryNotes); err != nil {
			return order.Record{}, fmt.Errorf("failed to decode dietary notes: %w", err)
		}
	}
	rec.Status = order.Status(status)

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return order.Record{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return order.Record{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return order.Record{}, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		rec.CompletedAt = &t
	}
	return rec, nil
}

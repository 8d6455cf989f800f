package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voiceplate/voiceplate/pkg/order"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(id string) order.Record {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return order.Record{
		ID:      id,
		TableID: "7",
		SeatID:  "B",
		Items: []order.LineItem{
			{Name: "Steak", Quantity: 1, Texture: "medium rare"},
			{Name: "Chicken Salad", Quantity: 1},
		},
		DietaryNotes:  []string{"sauce on the side"},
		RawTranscript: "one steak medium rare and one chicken salad",
		Status:        order.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleOrder("ord-1")
	if err := s.CreateOrder(ctx, want); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.TableID != "7" || len(got.Items) != 2 || got.Items[0].Texture != "medium rare" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Status != order.StatusPending || got.CompletedAt != nil {
		t.Fatalf("unexpected status fields: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetOrder(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleOrder("ord-a")
	b := sampleOrder("ord-b")
	b.TableID = "3"
	b.CreatedAt = b.CreatedAt.Add(time.Minute)
	for _, rec := range []order.Record{a, b} {
		if err := s.CreateOrder(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.ListOrders(ctx, OrderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "ord-b" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	byTable, err := s.ListOrders(ctx, OrderFilter{TableID: "3"})
	if err != nil {
		t.Fatalf("list by table: %v", err)
	}
	if len(byTable) != 1 || byTable[0].ID != "ord-b" {
		t.Fatalf("unexpected table filter result: %+v", byTable)
	}
}

func TestUpdateOrderStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateOrder(ctx, sampleOrder("ord-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := s.UpdateOrderStatus(ctx, "ord-1", order.StatusInProgress)
	if err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if rec.Status != order.StatusInProgress || rec.CompletedAt != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	rec, err = s.UpdateOrderStatus(ctx, "ord-1", order.StatusCompleted)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if rec.CompletedAt == nil {
		t.Fatalf("expected completed_at stamped")
	}

	stored, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != order.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("completion not persisted: %+v", stored)
	}
}

func TestUpdateOrderStatusRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateOrder(ctx, sampleOrder("ord-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.UpdateOrderStatus(ctx, "ord-1", order.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := s.UpdateOrderStatus(ctx, "ord-1", order.StatusInProgress)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConcurrentStatusTransitionsHaveOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateOrder(ctx, sampleOrder("ord-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpdateOrderStatus(ctx, "ord-1", order.StatusInProgress)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}

	stored, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != order.StatusInProgress {
		t.Fatalf("unexpected final status: %s", stored.Status)
	}
}

func TestTableCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTable(ctx, DiningTable{ID: "7", Name: "Window 7", Seats: 4}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertTable(ctx, DiningTable{ID: "7", Name: "Window 7", Seats: 6}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.GetTable(ctx, "7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Seats != 6 {
		t.Fatalf("expected upsert to replace, got %+v", got)
	}

	if err := s.DeleteTable(ctx, "7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTable(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestResidentProfileLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := Resident{
		ID:                  "res-1",
		Name:                "Mrs. Smith",
		TableID:             "7",
		DietaryRestrictions: []string{"low sodium"},
		TexturePreferences:  []string{"pureed"},
	}
	if err := s.UpsertResident(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	profile, err := s.GetResidentProfile(ctx, "res-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile == nil || profile.Name != "Mrs. Smith" || len(profile.DietaryRestrictions) != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	missing, err := s.GetResidentProfile(ctx, "res-404")
	if err != nil || missing != nil {
		t.Fatalf("expected nil profile for unknown resident, got %+v, %v", missing, err)
	}

	byTable, err := s.ListResidents(ctx, "7")
	if err != nil || len(byTable) != 1 {
		t.Fatalf("unexpected list result: %+v, %v", byTable, err)
	}
}

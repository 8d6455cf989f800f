package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voiceplate/voiceplate/pkg/notify"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	notifier := notify.New(notify.Config{}, nil)
	router := NewRouter(Config{}, st, notifier, "", nil, nil)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(func() {
		srv.Close()
		notifier.Close()
		st.Close()
	})
	return srv, st
}

func seedOrder(t *testing.T, st *store.Store, id string) order.Record {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	rec := order.Record{
		ID:            id,
		TableID:       "7",
		Items:         []order.LineItem{{Name: "Steak", Quantity: 1, Texture: "medium rare"}},
		DietaryNotes:  []string{"no salt"},
		RawTranscript: "one steak medium rare no salt",
		Status:        order.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.CreateOrder(context.Background(), rec); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetOrderAndTicket(t *testing.T) {
	srv, st := newTestServer(t)
	seedOrder(t, st, "ord-1")

	resp, err := http.Get(srv.URL + "/api/v1/orders/ord-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	defer resp.Body.Close()
	var rec order.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "ord-1" || rec.TableID != "7" {
		t.Fatalf("unexpected order: %+v", rec)
	}

	ticketResp, err := http.Get(srv.URL + "/api/v1/orders/ord-1/ticket")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	defer ticketResp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(ticketResp.Body); err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	want := "Table 7: 1 medium rare Steak -- no salt"
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("ticket mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/orders/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	srv, st := newTestServer(t)
	seedOrder(t, st, "ord-1")

	body := strings.NewReader(`{"status":"in_progress"}`)
	resp, err := http.Post(srv.URL+"/api/v1/orders/ord-1/status", "application/json", body)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rec order.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Status != order.StatusInProgress {
		t.Fatalf("unexpected status: %s", rec.Status)
	}

	// Backwards transition is rejected with 409.
	body = strings.NewReader(`{"status":"pending"}`)
	resp2, err := http.Post(srv.URL+"/api/v1/orders/ord-1/status", "application/json", body)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp2.StatusCode)
	}
}

func TestTableLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"id":"7","name":"Window 7","seats":4}`)
	resp, err := http.Post(srv.URL+"/api/v1/tables", "application/json", body)
	if err != nil {
		t.Fatalf("post table: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/api/v1/tables")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer listResp.Body.Close()
	var tables []store.DiningTable
	if err := json.NewDecoder(listResp.Body).Decode(&tables); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "Window 7" {
		t.Fatalf("unexpected tables: %+v", tables)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/tables/7", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete table: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}
}

func TestResidentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"id":"","name":""}`)
	resp, err := http.Post(srv.URL+"/api/v1/residents", "application/json", body)
	if err != nil {
		t.Fatalf("post resident: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/notify"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/store"
)

type Handler struct {
	store    *store.Store
	notifier *notify.Publisher
	logger   *slog.Logger
}

func NewHandler(st *store.Store, notifier *notify.Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:    st,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "api_handler"),
	}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	f := store.OrderFilter{
		TableID: r.URL.Query().Get("table_id"),
		Status:  order.Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	recs, err := h.store.ListOrders(r.Context(), f)
	if err != nil {
		h.serverError(w, "list orders", err)
		return
	}
	if recs == nil {
		recs = []order.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.serverError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetOrderTicket(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.serverError(w, "get order", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(order.FormatForKitchen(rec) + "\n"))
}

type statusRequest struct {
	Status order.Status `json:"status"`
}

// UpdateOrderStatus applies a lifecycle transition and fans the change out
// to the kitchen displays.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.store.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.serverError(w, "update order status", err)
		return
	}

	// Publish failure must not fail the transition that already happened.
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.notifier.PublishStatusChange(pubCtx, rec); err != nil {
		h.logger.Warn("status_publish_failed",
			slog.String("order_id", rec.ID),
			slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		h.serverError(w, "list tables", err)
		return
	}
	if tables == nil {
		tables = []store.DiningTable{}
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *Handler) UpsertTable(w http.ResponseWriter, r *http.Request) {
	var t store.DiningTable
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(t.ID) == "" {
		writeError(w, http.StatusBadRequest, "table id is required")
		return
	}
	if err := h.store.UpsertTable(r.Context(), t); err != nil {
		h.serverError(w, "upsert table", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTable(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "table not found")
		return
	}
	if err != nil {
		h.serverError(w, "get table", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteTable(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "table not found")
		return
	}
	if err != nil {
		h.serverError(w, "delete table", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListResidents(w http.ResponseWriter, r *http.Request) {
	residents, err := h.store.ListResidents(r.Context(), r.URL.Query().Get("table_id"))
	if err != nil {
		h.serverError(w, "list residents", err)
		return
	}
	if residents == nil {
		residents = []store.Resident{}
	}
	writeJSON(w, http.StatusOK, residents)
}

func (h *Handler) UpsertResident(w http.ResponseWriter, r *http.Request) {
	var res store.Resident
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(res.ID) == "" || strings.TrimSpace(res.Name) == "" {
		writeError(w, http.StatusBadRequest, "resident id and name are required")
		return
	}
	if err := h.store.UpsertResident(r.Context(), res); err != nil {
		h.serverError(w, "upsert resident", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetResident(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetResident(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resident not found")
		return
	}
	if err != nil {
		h.serverError(w, "get resident", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DeleteResident(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteResident(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "resident not found")
		return
	}
	if err != nil {
		h.serverError(w, "delete resident", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serverError(w http.ResponseWriter, action string, err error) {
	h.logger.Error("request_failed",
		slog.String("action", action),
		slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

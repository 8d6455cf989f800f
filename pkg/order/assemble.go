package order

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/metrics"
)

// Status is the order lifecycle. Transitions only move forward except for
// cancellation, which is allowed from any non-terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCompleted || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// RoutingContext is what the caller's connection already knows about who is
// speaking and where they sit. It always wins over anything heard in the
// transcript.
type RoutingContext struct {
	TableID    string `json:"table_id,omitempty"`
	SeatID     string `json:"seat_id,omitempty"`
	ResidentID string `json:"resident_id,omitempty"`
}

// Record is a persisted order.
type Record struct {
	ID            string     `json:"id"`
	TableID       string     `json:"table_id,omitempty"`
	SeatID        string     `json:"seat_id,omitempty"`
	ResidentID    string     `json:"resident_id,omitempty"`
	ResidentHint  string     `json:"resident_hint,omitempty"`
	Items         []LineItem `json:"items"`
	DietaryNotes  []string   `json:"dietary_notes,omitempty"`
	RawTranscript string     `json:"raw_transcript"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AssemblerConfig tunes routing validation.
type AssemblerConfig struct {
	// RequireTable rejects orders that carry no table from either the
	// routing context or the transcript.
	RequireTable bool `mapstructure:"require_table"`
}

// Assembler turns a StructuredOrder plus routing context into a Record
// ready for persistence. Clock and ID generation are injectable for tests.
type Assembler struct {
	cfg    AssemblerConfig
	logger *slog.Logger
	obs    metrics.Observer
	now    func() time.Time
	newID  func() string
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "order_assembler"),
		obs:    metrics.NoopObserver{},
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

func (a *Assembler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logging.NewComponentLogger(logger, "order_assembler")
	}
}

func (a *Assembler) SetObserver(obs metrics.Observer) {
	if obs != nil {
		a.obs = obs
	}
}

// Assemble validates routing and builds a pending Record. The routing
// context's table wins over a table number heard in the transcript.
func (a *Assembler) Assemble(so StructuredOrder, route RoutingContext) (Record, error) {
	if so.Unparseable || len(so.Items) == 0 {
		a.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventOrderUnparseable, Time: a.now()})
		return Record{}, errorsx.Wrap(
			fmt.Errorf("no items recognized in transcript"),
			errorsx.ReasonOrderUnparseable)
	}

	tableID := route.TableID
	if tableID == "" && so.TableNumber > 0 {
		tableID = strconv.Itoa(so.TableNumber)
	}
	if tableID == "" && a.cfg.RequireTable {
		a.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventAssemblyRejected, Time: a.now()})
		return Record{}, errorsx.Wrap(
			fmt.Errorf("order has no table assignment"),
			errorsx.ReasonOrderRouting)
	}

	now := a.now().UTC()
	rec := Record{
		ID:            a.newID(),
		TableID:       tableID,
		SeatID:        route.SeatID,
		ResidentID:    route.ResidentID,
		ResidentHint:  so.ResidentHint,
		Items:         so.Items,
		DietaryNotes:  so.DietaryNotes,
		RawTranscript: so.RawTranscript,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	a.logger.Info("order_assembled",
		slog.String("order_id", rec.ID),
		slog.String("table_id", rec.TableID),
		slog.Int("items", len(rec.Items)))
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventOrderCreated,
		Time: now,
		Tags: map[string]string{"table_id": rec.TableID},
	})
	return rec, nil
}

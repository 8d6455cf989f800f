package voiceplate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voiceplate/voiceplate/pkg/asr/mock"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/frames"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/store"
)

type captureSink struct {
	mu  sync.Mutex
	evs []events.TranscriptEvent
}

func (c *captureSink) OnEvent(ev events.TranscriptEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *captureSink) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.evs {
		if ev.Message != "" {
			out = append(out, ev.Message)
		}
	}
	return out
}

func testEngine(t *testing.T) (*Engine, *mock.Controller) {
	t.Helper()
	cfg := Config{
		Store: StoreConfig{Path: ":memory:"},
		Session: SessionConfig{
			MaxReconnectAttempts: 2,
			BackoffBaseMS:        5,
			BackoffMaxMS:         20,
			ConnectTimeoutMS:     1000,
			BufferFrames:         16,
		},
	}
	ctrl := mock.NewController()
	e, err := NewEngineWithFactory(cfg, nil, ctrl.Factory)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, ctrl
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFinalTranscriptBecomesStoredOrder(t *testing.T) {
	e, ctrl := testEngine(t)
	sink := &captureSink{}

	if err := e.OpenStream("caller-1", order.RoutingContext{TableID: "7"}, sink); err != nil {
		t.Fatalf("open stream: %v", err)
	}
	waitFor(t, "backend connected", func() bool { return ctrl.Starts() == 1 })

	ctrl.Last().Emit(events.TranscriptEvent{
		Type:    events.TypeTranscript,
		Text:    "one steak medium rare and one chicken salad",
		IsFinal: true,
	})

	var recs []order.Record
	waitFor(t, "order stored", func() bool {
		var err error
		recs, err = e.Store().ListOrders(context.Background(), store.OrderFilter{})
		return err == nil && len(recs) == 1
	})

	rec := recs[0]
	if rec.TableID != "7" {
		t.Fatalf("expected routing table, got %q", rec.TableID)
	}
	if len(rec.Items) != 2 || rec.Items[0].Name != "Steak" {
		t.Fatalf("unexpected items: %+v", rec.Items)
	}
	if rec.Status != order.StatusPending {
		t.Fatalf("expected pending order, got %s", rec.Status)
	}

	waitFor(t, "caller confirmation", func() bool {
		for _, msg := range sink.messages() {
			if strings.HasPrefix(msg, "order received:") {
				return true
			}
		}
		return false
	})
}

func TestSmallTalkDoesNotCreateOrder(t *testing.T) {
	e, ctrl := testEngine(t)
	sink := &captureSink{}

	if err := e.OpenStream("caller-1", order.RoutingContext{}, sink); err != nil {
		t.Fatalf("open stream: %v", err)
	}
	waitFor(t, "backend connected", func() bool { return ctrl.Starts() == 1 })

	ctrl.Last().Emit(events.TranscriptEvent{
		Type:    events.TypeTranscript,
		Text:    "good morning how are you today",
		IsFinal: true,
	})

	waitFor(t, "repeat prompt", func() bool {
		for _, msg := range sink.messages() {
			if strings.Contains(msg, "please repeat") {
				return true
			}
		}
		return false
	})

	recs, err := e.Store().ListOrders(context.Background(), store.OrderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no orders, got %+v", recs)
	}
}

func TestInterimTranscriptsIgnoredByPipeline(t *testing.T) {
	e, ctrl := testEngine(t)
	sink := &captureSink{}

	if err := e.OpenStream("caller-1", order.RoutingContext{}, sink); err != nil {
		t.Fatalf("open stream: %v", err)
	}
	waitFor(t, "backend connected", func() bool { return ctrl.Starts() == 1 })

	ctrl.Last().Emit(events.TranscriptEvent{
		Type:    events.TypeTranscript,
		Text:    "one steak",
		IsFinal: false,
	})
	time.Sleep(30 * time.Millisecond)

	recs, err := e.Store().ListOrders(context.Background(), store.OrderFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("interim transcript must not create orders, got %+v", recs)
	}
}

func TestPushAudioRequiresOpenStream(t *testing.T) {
	e, _ := testEngine(t)

	frame := frames.NewAudioFrame("caller-1", 1, []byte("pcm"), 16000, 1, nil)
	if err := e.PushAudio("caller-1", frame); err == nil {
		t.Fatalf("expected error without an open stream")
	}
}

func TestResidentContextAppliedToOrder(t *testing.T) {
	e, ctrl := testEngine(t)
	sink := &captureSink{}

	err := e.Store().UpsertResident(context.Background(), store.Resident{
		ID:                  "res-1",
		Name:                "Mrs. Smith",
		DietaryRestrictions: []string{"low sodium"},
		TexturePreferences:  []string{"pureed"},
	})
	if err != nil {
		t.Fatalf("seed resident: %v", err)
	}

	route := order.RoutingContext{TableID: "3", ResidentID: "res-1"}
	if err := e.OpenStream("caller-1", route, sink); err != nil {
		t.Fatalf("open stream: %v", err)
	}
	waitFor(t, "backend connected", func() bool { return ctrl.Starts() == 1 })

	ctrl.Last().Emit(events.TranscriptEvent{
		Type:    events.TypeTranscript,
		Text:    "one chicken",
		IsFinal: true,
	})

	var recs []order.Record
	waitFor(t, "order stored", func() bool {
		var err error
		recs, err = e.Store().ListOrders(context.Background(), store.OrderFilter{})
		return err == nil && len(recs) == 1
	})

	rec := recs[0]
	if rec.ResidentID != "res-1" {
		t.Fatalf("expected resident attached, got %+v", rec)
	}
	if rec.Items[0].Texture != "pureed" {
		t.Fatalf("expected texture preference applied, got %+v", rec.Items[0])
	}
	found := false
	for _, note := range rec.DietaryNotes {
		if note == "low sodium" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected restriction merged, got %v", rec.DietaryNotes)
	}
}

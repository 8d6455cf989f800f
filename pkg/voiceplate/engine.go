// Package voiceplate wires the voice-order pipeline together: caller audio
// in, transcripts back to the caller, structured orders into the store and
// out to the kitchen.
package voiceplate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/asr/deepgram"
	"github.com/voiceplate/voiceplate/pkg/configutil"
	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/frames"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/metrics"
	"github.com/voiceplate/voiceplate/pkg/notify"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/redact"
	"github.com/voiceplate/voiceplate/pkg/session"
	"github.com/voiceplate/voiceplate/pkg/store"
)

// Engine composes the session registry, the order pipeline, storage, and
// the notifier. It implements the transport's Intake so caller streams flow
// straight into sessions.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	obs       metrics.Observer
	eventsLog *os.File

	registry  *session.Registry
	extractor *order.Extractor
	assembler *order.Assembler
	store     *store.Store
	notifier  *notify.Publisher

	mu     sync.Mutex
	routes map[string]order.RoutingContext
}

func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	factory, err := buildFactory(cfg.ASR)
	if err != nil {
		return nil, err
	}
	return NewEngineWithFactory(cfg, logger, factory)
}

// NewEngineWithFactory accepts a custom transcriber factory; tests and
// embedders use it to swap the ASR vendor out.
func NewEngineWithFactory(cfg Config, logger *slog.Logger, factory asr.Factory) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	extractor, err := order.NewExtractor(cfg.Vocabulary)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "engine"),
		obs:       metrics.NoopObserver{},
		extractor: extractor,
		assembler: order.NewAssembler(cfg.Orders),
		store:     st,
		notifier:  notify.New(cfg.Notify, logger),
		routes:    make(map[string]order.RoutingContext),
	}

	if cfg.Observability.EventsPath != "" {
		f, err := os.OpenFile(cfg.Observability.EventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open events log: %w", err)
		}
		e.eventsLog = f
		e.obs = metrics.NewJSONLObserver(f)
	}

	e.registry = session.NewRegistry(cfg.Session.build(), factory)
	e.registry.SetLogger(logger)
	e.registry.SetObserver(e.obs)
	e.assembler.SetLogger(logger)
	e.assembler.SetObserver(e.obs)
	e.notifier.SetObserver(e.obs)
	return e, nil
}

func buildFactory(vendor VendorConfig) (asr.Factory, error) {
	switch strings.ToLower(strings.TrimSpace(vendor.Provider)) {
	case "deepgram":
		var base asr.Config
		if err := configutil.DecodeSettings(vendor.Settings, &base); err != nil {
			return nil, fmt.Errorf("decode asr settings: %w", err)
		}
		return func(cfg asr.Config) asr.LiveTranscriber {
			merged := base
			merged.CallerID = cfg.CallerID
			merged.SessionID = cfg.SessionID
			return deepgram.New(merged)
		}, nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q", vendor.Provider)
	}
}

func (e *Engine) Store() *store.Store         { return e.store }
func (e *Engine) Notifier() *notify.Publisher { return e.notifier }
func (e *Engine) Observer() metrics.Observer  { return e.obs }

// OpenStream attaches a caller to a live session. Every session event goes
// back to the caller's sink; final transcripts additionally feed the order
// pipeline.
func (e *Engine) OpenStream(callerID string, route order.RoutingContext, sink events.Sink) error {
	e.mu.Lock()
	e.routes[callerID] = route
	e.mu.Unlock()

	wrapped := events.SinkFunc(func(ev events.TranscriptEvent) {
		sink.OnEvent(ev)
		if ev.Type == events.TypeTranscript && ev.IsFinal && strings.TrimSpace(ev.Text) != "" {
			go e.handleFinalTranscript(callerID, ev, sink)
		}
	})
	sess := e.registry.GetOrCreate(callerID, wrapped)
	return sess.Open()
}

// PushAudio forwards one frame to the caller's session.
func (e *Engine) PushAudio(callerID string, frame frames.AudioFrame) error {
	sess, ok := e.registry.Get(callerID)
	if !ok {
		return errorsx.Wrap(fmt.Errorf("no open stream for caller"), errorsx.ReasonTransportSend)
	}
	return sess.SendAudio(frame)
}

// CloseStream tears the caller's session down and forgets their routing.
func (e *Engine) CloseStream(callerID string) {
	e.registry.Remove(callerID)
	e.mu.Lock()
	delete(e.routes, callerID)
	e.mu.Unlock()
}

func (e *Engine) route(callerID string) order.RoutingContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routes[callerID]
}

func (e *Engine) handleFinalTranscript(callerID string, ev events.TranscriptEvent, sink events.Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	route := e.route(callerID)
	resident, err := e.store.GetResidentProfile(ctx, route.ResidentID)
	if err != nil {
		e.logger.Warn("resident_lookup_failed",
			slog.String("caller_id", callerID),
			slog.String("resident_id", route.ResidentID),
			slog.Any("error", err))
	}

	so := e.extractor.ExtractWithResident(ev.Text, resident)
	rec, err := e.assembler.Assemble(so, route)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonOrderUnparseable) {
			e.logger.Info("transcript_not_an_order",
				slog.String("caller_id", callerID),
				slog.String("text", redact.Text(ev.Text)))
			sink.OnEvent(events.TranscriptEvent{
				Type:     events.TypeMetadata,
				CallerID: callerID,
				Message:  "order not recognized, please repeat",
			})
			return
		}
		e.logger.Warn("order_rejected",
			slog.String("caller_id", callerID),
			slog.Any("error", err))
		sink.OnEvent(events.TranscriptEvent{
			Type:     events.TypeMetadata,
			CallerID: callerID,
			Message:  err.Error(),
		})
		return
	}

	if err := e.store.CreateOrder(ctx, rec); err != nil {
		e.logger.Error("order_store_failed",
			slog.String("order_id", rec.ID),
			slog.Any("error", err))
		return
	}
	if err := e.notifier.PublishOrderCreated(ctx, rec); err != nil {
		e.logger.Warn("order_publish_failed",
			slog.String("order_id", rec.ID),
			slog.Any("error", err))
	}

	sink.OnEvent(events.TranscriptEvent{
		Type:     events.TypeMetadata,
		CallerID: callerID,
		Message:  "order received: " + order.FormatForKitchen(rec),
	})
}

// Close shuts the whole pipeline down.
func (e *Engine) Close() {
	e.registry.CloseAll()
	if err := e.notifier.Close(); err != nil {
		e.logger.Warn("notifier_close_error", slog.Any("error", err))
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("store_close_error", slog.Any("error", err))
	}
	if e.eventsLog != nil {
		_ = e.eventsLog.Close()
	}
}

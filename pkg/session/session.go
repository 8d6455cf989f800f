package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/frames"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/metrics"
	"github.com/voiceplate/voiceplate/pkg/redact"
	"github.com/voiceplate/voiceplate/pkg/resilience"
)

var (
	ErrClosed     = errors.New("session is closed")
	ErrFailed     = errors.New("speech service unavailable for this session")
	ErrEmptyAudio = errors.New("empty audio frame")
)

// Config bounds one session's reconnect and buffering behavior.
type Config struct {
	CallerID             string
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	ConnectTimeout       time.Duration
	BufferFrames         int
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.BufferFrames <= 0 {
		c.BufferFrames = 256
	}
	return c
}

// Session owns one logical streaming connection to the ASR backend for one
// caller. Transient backend failures are hidden behind bounded reconnects;
// the registered sink sees every backend event in arrival order.
//
// All state mutation happens either under mu or inside the single run loop
// goroutine, so audio-send and event-receive can proceed concurrently.
type Session struct {
	id      string
	cfg     Config
	factory asr.Factory
	sink    events.Sink
	backoff resilience.Backoff
	logger  *slog.Logger
	obs     metrics.Observer

	mu           sync.Mutex
	state        State
	attempts     int
	buf          *pendingBuffer
	tr           asr.LiveTranscriber
	lastOpenedAt time.Time
	shedTotal    int
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}

	// wake tells the control loop there is buffered audio to flush.
	wake chan struct{}

	sinkMu sync.Mutex
}

func New(cfg Config, factory asr.Factory, sink events.Sink) *Session {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = events.LogSink{Logger: slog.Default()}
	}
	return &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		factory: factory,
		sink:    sink,
		backoff: resilience.NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		logger:  logging.NewComponentLogger(slog.Default(), "session"),
		obs:     metrics.NoopObserver{},
		state:   StateIdle,
		buf:     newPendingBuffer(cfg.BufferFrames),
		wake:    make(chan struct{}, 1),
	}
}

func (s *Session) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "session")
	}
}

func (s *Session) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) CallerID() string { return s.cfg.CallerID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShedFrames reports how many buffered frames were dropped by the overflow
// policy over the session's lifetime.
func (s *Session) ShedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shedTotal
}

// Open begins connecting to the backend. Calling it while the session is
// already Open, Connecting, or Reconnecting is a no-op. A Failed session may
// be reopened with a fresh reconnect budget; a Closed one may not.
func (s *Session) Open() error {
	s.mu.Lock()
	switch s.state {
	case StateOpen, StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return nil
	case StateClosed:
		s.mu.Unlock()
		return errorsx.Wrap(ErrClosed, errorsx.ReasonSessionClosed)
	}
	s.attempts = 0
	s.setStateLocked(StateConnecting, "open requested")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	ctx, done := s.ctx, s.done
	s.mu.Unlock()

	go s.run(ctx, done)
	return nil
}

// SendAudio accepts one PCM frame. Frames are always enqueued into the
// bounded pending buffer (oldest shed first) and drained to the backend by
// the control loop, so the caller never blocks on network I/O. Failed and
// Closed sessions reject frames with an explicit error.
func (s *Session) SendAudio(frame frames.AudioFrame) error {
	if frame.Len() == 0 {
		return errorsx.Wrap(ErrEmptyAudio, errorsx.ReasonInvalidAudio)
	}
	s.mu.Lock()
	switch s.state {
	case StateFailed:
		s.mu.Unlock()
		return errorsx.Wrap(ErrFailed, errorsx.ReasonSessionFailed)
	case StateClosed:
		s.mu.Unlock()
		return errorsx.Wrap(ErrClosed, errorsx.ReasonSessionClosed)
	}
	s.bufferLocked(frame)
	open := s.state == StateOpen
	s.mu.Unlock()

	if open {
		s.signalWake()
	}
	return nil
}

// signalWake nudges the control loop; a pending signal already covers any
// number of buffered frames.
func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close cancels any pending connect timeout or reconnect backoff, tears the
// backend connection down best-effort, and discards buffered audio.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateClosed, "close requested")
	cancel := s.cancel
	tr := s.tr
	s.tr = nil
	s.buf.Discard()
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		// Teardown errors are logged, not surfaced; the session is being
		// discarded anyway.
		if err := tr.Close(); err != nil {
			s.logger.Debug("asr_teardown_error",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
		}
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.logger.Warn("session_loop_close_timeout", slog.String("session_id", s.id))
		}
	}
	s.forward(events.TranscriptEvent{Type: events.TypeClosed})
}

// run is the session control loop: connect, pump events, and on loss either
// schedule a bounded backoff reconnect or fail terminally.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		tr := s.factory(asr.Config{CallerID: s.cfg.CallerID, SessionID: s.id})
		err := s.connect(ctx, tr)
		if err == nil {
			s.onOpen(tr)
			reason := s.pump(ctx, tr)
			_ = tr.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Info("asr_connection_lost",
				slog.String("session_id", s.id),
				slog.String("reason", reason))
		} else {
			_ = tr.Close()
			if ctx.Err() != nil {
				return
			}
			if errorsx.HasReason(err, errorsx.ReasonASRConfig) {
				// Never retried; surfaced immediately.
				s.fail(err.Error())
				return
			}
			s.logger.Warn("asr_connect_attempt_failed",
				slog.String("session_id", s.id),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		if attempt > s.cfg.MaxReconnectAttempts {
			s.mu.Unlock()
			s.fail(fmt.Sprintf("reconnect budget exhausted after %d attempts", s.cfg.MaxReconnectAttempts))
			return
		}
		s.setStateLocked(StateReconnecting, "backend connection lost")
		s.mu.Unlock()

		s.record(metrics.EventReconnectAttempt)
		delay := s.backoff.Delay(attempt)
		s.logger.Info("session_reconnect_scheduled",
			slog.String("session_id", s.id),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(StateConnecting, "reconnecting")
		s.mu.Unlock()
	}
}

// connect starts the transcriber under the configured connect timeout.
func (s *Session) connect(ctx context.Context, tr asr.LiveTranscriber) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Start(cctx) }()

	select {
	case err := <-errCh:
		return err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errorsx.Wrapf(errorsx.ReasonASRTimeout,
			"connect timed out after %s", s.cfg.ConnectTimeout)
	}
}

// onOpen flushes buffered audio in original submission order, then marks
// the session Open and resets the reconnect counter. Marking Open only
// after the flush keeps pre-connect audio ahead of anything the caller
// sends once State reports Open.
func (s *Session) onOpen(tr asr.LiveTranscriber) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = tr.Close()
		return
	}
	s.tr = tr
	s.mu.Unlock()

	s.flushPending(tr)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.lastOpenedAt = time.Now()
	s.setStateLocked(StateOpen, "backend ready")
	s.mu.Unlock()
	s.record(metrics.EventSessionOpened)
}

// flushPending drains the buffer and writes it to the backend with the
// mutex released, so a stalled backend socket never blocks SendAudio or
// Close. A failed write requeues the remainder ahead of newer frames.
func (s *Session) flushPending(tr asr.LiveTranscriber) {
	s.mu.Lock()
	pending := s.buf.Drain()
	s.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	for i, fr := range pending {
		if err := tr.SendAudio(fr.RawPayload()); err != nil {
			// Transient: keep the frames so the reconnect flush replays them.
			s.logger.Warn("asr_send_failed_buffering",
				slog.String("session_id", s.id),
				slog.String("reason_code", string(errorsx.ReasonASRSend)),
				slog.Int("remaining", len(pending)-i),
				slog.String("error", err.Error()))
			s.mu.Lock()
			s.buf.Requeue(pending[i:])
			s.mu.Unlock()
			return
		}
		frames.ReleaseAudioFrame(fr)
	}
}

// pump consumes backend events until the connection ends. Per-attempt
// backend errors are logged and trigger the reconnect path; only terminal
// exhaustion is surfaced to the sink.
func (s *Session) pump(ctx context.Context, tr asr.LiveTranscriber) string {
	for {
		select {
		case <-ctx.Done():
			return "session closed"
		case <-s.wake:
			s.flushPending(tr)
		case ev, ok := <-tr.Events():
			if !ok {
				return "event channel closed"
			}
			switch ev.Type {
			case events.TypeError:
				s.logger.Warn("asr_backend_error",
					slog.String("session_id", s.id),
					slog.String("message", ev.Message))
				return "backend error"
			case events.TypeClosed:
				return "backend closed connection"
			case events.TypeTranscript:
				if ev.IsFinal {
					s.record(metrics.EventFinalTranscript)
					s.logger.Info("stt_final",
						slog.String("session_id", s.id),
						slog.String("text", redact.Text(ev.Text)))
				}
				s.forward(ev)
			default:
				s.forward(ev)
			}
		}
	}
}

func (s *Session) fail(msg string) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFailed, msg)
	s.buf.Discard()
	s.mu.Unlock()

	s.record(metrics.EventSessionFailed)
	s.logger.Error("session_failed",
		slog.String("session_id", s.id),
		slog.String("caller_id", s.cfg.CallerID),
		slog.String("detail", msg))
	// Exactly one terminal error event; the message is distinct so clients
	// can offer a retry action.
	s.forward(events.TranscriptEvent{
		Type:    events.TypeError,
		Message: "speech service unavailable: " + msg,
	})
}

func (s *Session) bufferLocked(frame frames.AudioFrame) {
	if shed := s.buf.Add(frame); shed > 0 {
		s.shedTotal += shed
		s.obs.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventFramesShed,
			Time:  time.Now(),
			Value: float64(shed),
			Tags:  map[string]string{frames.MetaSessionID: s.id, frames.MetaCallerID: s.cfg.CallerID},
		})
		s.logger.Debug("pending_audio_shed",
			slog.String("session_id", s.id),
			slog.Int("frames", shed))
	}
}

func (s *Session) setStateLocked(to State, reason string) {
	if s.state == to {
		return
	}
	if !transitionValid(s.state, to) {
		s.logger.Error("invalid_session_transition",
			slog.String("session_id", s.id),
			slog.String("from", s.state.String()),
			slog.String("to", to.String()))
		return
	}
	s.logger.Debug("session_transition",
		slog.String("session_id", s.id),
		slog.String("from", s.state.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	s.state = to
}

// forward delivers one event to the sink. The mutex keeps delivery order
// stable when the control loop and Close race at shutdown.
func (s *Session) forward(ev events.TranscriptEvent) {
	ev.SessionID = s.id
	if ev.CallerID == "" {
		ev.CallerID = s.cfg.CallerID
	}
	s.sinkMu.Lock()
	s.sink.OnEvent(ev)
	s.sinkMu.Unlock()
}

func (s *Session) record(name string) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{frames.MetaSessionID: s.id, frames.MetaCallerID: s.cfg.CallerID},
	})
}

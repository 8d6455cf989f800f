package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/asr/mock"
	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/frames"
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

func (c *captureSink) byType(t events.Type) []events.TranscriptEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.TranscriptEvent
	for _, ev := range c.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *captureSink) all() []events.TranscriptEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.TranscriptEvent, len(c.evs))
	copy(out, c.evs)
	return out
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

func testConfig() Config {
	return Config{
		CallerID:             "caller-1",
		MaxReconnectAttempts: 2,
		BackoffBase:          5 * time.Millisecond,
		BackoffMax:           20 * time.Millisecond,
		ConnectTimeout:       time.Second,
		BufferFrames:         16,
	}
}

func audioFrame(payload string) frames.AudioFrame {
	return frames.NewAudioFrame("caller-1", time.Now().UnixNano(), []byte(payload), 16000, 1, nil)
}

func TestOpenIdempotent(t *testing.T) {
	ctrl := mock.NewController()
	sink := &captureSink{}
	sess := New(testConfig(), ctrl.Factory, sink)
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	if err := sess.Open(); err != nil {
		t.Fatalf("second open error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := ctrl.Starts(); got != 1 {
		t.Fatalf("expected a single backend connection, got %d", got)
	}
}

func TestBufferedAudioFlushedInOrder(t *testing.T) {
	ctrl := mock.NewController()
	sess := New(testConfig(), ctrl.Factory, &captureSink{})
	defer sess.Close()

	for _, payload := range []string{"one", "two", "three"} {
		if err := sess.SendAudio(audioFrame(payload)); err != nil {
			t.Fatalf("send while idle: %v", err)
		}
	}
	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	got := ctrl.Last().Audio()
	if len(got) != 3 {
		t.Fatalf("expected 3 flushed chunks, got %d", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(got[i]) != want {
			t.Fatalf("chunk %d: expected %q, got %q", i, want, got[i])
		}
	}
}

func TestBufferShedsOldestOnOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.BufferFrames = 2
	ctrl := mock.NewController()
	sess := New(cfg, ctrl.Factory, &captureSink{})
	defer sess.Close()

	for _, payload := range []string{"one", "two", "three"} {
		if err := sess.SendAudio(audioFrame(payload)); err != nil {
			t.Fatalf("send while idle: %v", err)
		}
	}
	if sess.ShedFrames() != 1 {
		t.Fatalf("expected 1 shed frame, got %d", sess.ShedFrames())
	}

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	got := ctrl.Last().Audio()
	if len(got) != 2 || string(got[0]) != "two" || string(got[1]) != "three" {
		t.Fatalf("expected newest frames kept, got %v", got)
	}
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	ctrl := mock.NewController()
	ctrl.FailStarts(100, nil)
	sink := &captureSink{}
	sess := New(testConfig(), ctrl.Factory, sink)
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session failed", func() bool { return sess.State() == StateFailed })

	// Initial attempt plus exactly MaxReconnectAttempts retries.
	if got := ctrl.Starts(); got != 3 {
		t.Fatalf("expected 3 connect attempts, got %d", got)
	}
	time.Sleep(30 * time.Millisecond)
	if got := ctrl.Starts(); got != 3 {
		t.Fatalf("expected no further attempts after failure, got %d", got)
	}

	errs := sink.byType(events.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one terminal error event, got %d", len(errs))
	}
	if errs[0].Message == "" {
		t.Fatalf("expected a distinct failure message")
	}

	err := sess.SendAudio(audioFrame("late"))
	if !errorsx.HasReason(err, errorsx.ReasonSessionFailed) {
		t.Fatalf("expected session_failed send error, got %v", err)
	}
}

func TestBackendErrorTriggersReconnect(t *testing.T) {
	ctrl := mock.NewController()
	sink := &captureSink{}
	sess := New(testConfig(), ctrl.Factory, sink)
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	ctrl.Last().Emit(events.TranscriptEvent{Type: events.TypeError, Message: "1011: timeout"})
	waitFor(t, "reconnected", func() bool {
		return ctrl.Starts() == 2 && sess.State() == StateOpen
	})

	// Transient backend errors are retried, not surfaced.
	if errs := sink.byType(events.TypeError); len(errs) != 0 {
		t.Fatalf("expected no error events surfaced, got %d", len(errs))
	}
}

func TestConfigErrorIsFatal(t *testing.T) {
	ctrl := mock.NewController()
	ctrl.FailStarts(100, errorsx.Wrap(errors.New("api key missing"), errorsx.ReasonASRConfig))
	sink := &captureSink{}
	sess := New(testConfig(), ctrl.Factory, sink)
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session failed", func() bool { return sess.State() == StateFailed })

	if got := ctrl.Starts(); got != 1 {
		t.Fatalf("expected config errors not to be retried, got %d attempts", got)
	}
}

func TestCloseCancelsPendingBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = 10 * time.Second
	ctrl := mock.NewController()
	ctrl.FailStarts(100, nil)
	sink := &captureSink{}
	sess := New(cfg, ctrl.Factory, sink)

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "reconnect pending", func() bool { return sess.State() == StateReconnecting })

	start := time.Now()
	sess.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close blocked on backoff for %v", elapsed)
	}
	if sess.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", sess.State())
	}

	attempts := ctrl.Starts()
	time.Sleep(30 * time.Millisecond)
	if ctrl.Starts() != attempts {
		t.Fatalf("reconnect attempt raced past close")
	}
	if closed := sink.byType(events.TypeClosed); len(closed) != 1 {
		t.Fatalf("expected one closed event, got %d", len(closed))
	}

	err := sess.SendAudio(audioFrame("late"))
	if !errorsx.HasReason(err, errorsx.ReasonSessionClosed) {
		t.Fatalf("expected session_closed send error, got %v", err)
	}
}

func TestEventsForwardedInArrivalOrder(t *testing.T) {
	ctrl := mock.NewController()
	sink := &captureSink{}
	sess := New(testConfig(), ctrl.Factory, sink)
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	tr := ctrl.Last()
	tr.Emit(events.TranscriptEvent{Type: events.TypeSpeechStarted})
	tr.Emit(events.TranscriptEvent{Type: events.TypeTranscript, Text: "two sou", IsFinal: false})
	tr.Emit(events.TranscriptEvent{Type: events.TypeTranscript, Text: "two soups", IsFinal: true, Confidence: 0.9})
	tr.Emit(events.TranscriptEvent{Type: events.TypeUtteranceEnd})

	waitFor(t, "events forwarded", func() bool { return len(sink.all()) >= 5 })

	got := sink.all()
	wantTypes := []events.Type{
		events.TypeOpen,
		events.TypeSpeechStarted,
		events.TypeTranscript,
		events.TypeTranscript,
		events.TypeUtteranceEnd,
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got[i].Type)
		}
	}
	if !got[3].IsFinal || got[3].Text != "two soups" {
		t.Fatalf("expected final transcript preserved, got %+v", got[3])
	}
	if got[2].IsFinal {
		t.Fatalf("interim transcript flagged final")
	}
}

func TestAudioSentWhileOpenReachesBackendInOrder(t *testing.T) {
	ctrl := mock.NewController()
	sess := New(testConfig(), ctrl.Factory, &captureSink{})
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	for _, payload := range []string{"alpha", "beta"} {
		if err := sess.SendAudio(audioFrame(payload)); err != nil {
			t.Fatalf("send while open: %v", err)
		}
	}
	waitFor(t, "audio delivered", func() bool { return len(ctrl.Last().Audio()) == 2 })

	got := ctrl.Last().Audio()
	if string(got[0]) != "alpha" || string(got[1]) != "beta" {
		t.Fatalf("audio out of order: %q %q", got[0], got[1])
	}
}

// stalledTranscriber accepts the connection but never completes an audio
// write until released, standing in for a wedged backend socket.
type stalledTranscriber struct {
	release chan struct{}
	out     chan events.TranscriptEvent
}

func (s *stalledTranscriber) Name() string { return "stalled" }

func (s *stalledTranscriber) Start(context.Context) error {
	s.out <- events.TranscriptEvent{Type: events.TypeOpen}
	return nil
}

func (s *stalledTranscriber) SendAudio([]byte) error {
	<-s.release
	return nil
}

func (s *stalledTranscriber) Events() <-chan events.TranscriptEvent { return s.out }

func (s *stalledTranscriber) Close() error { return nil }

func TestSendAudioNeverBlocksOnBackendWrite(t *testing.T) {
	tr := &stalledTranscriber{
		release: make(chan struct{}),
		out:     make(chan events.TranscriptEvent, 4),
	}
	sess := New(testConfig(), func(asr.Config) asr.LiveTranscriber { return tr }, &captureSink{})

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := sess.SendAudio(audioFrame("chunk")); err != nil {
			t.Fatalf("send while backend stalled: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("SendAudio blocked on backend write for %v", elapsed)
	}

	close(tr.release)
	start = time.Now()
	sess.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close blocked for %v", elapsed)
	}
}

func TestEmptyAudioRejectedWithoutStateChange(t *testing.T) {
	ctrl := mock.NewController()
	sess := New(testConfig(), ctrl.Factory, &captureSink{})
	defer sess.Close()

	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	err := sess.SendAudio(frames.NewAudioFrame("caller-1", 1, nil, 16000, 1, nil))
	if !errorsx.HasReason(err, errorsx.ReasonInvalidAudio) {
		t.Fatalf("expected invalid_audio error, got %v", err)
	}
	if sess.State() != StateOpen {
		t.Fatalf("validation error must not affect session state")
	}
}

package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// LiveTranscriber streams caller audio to Deepgram's realtime websocket API
// and normalizes SDK callbacks into TranscriptEvents.
type LiveTranscriber struct {
	cfg        asr.Config
	dgClient   *client.WSCallback
	out        chan events.TranscriptEvent
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	metaLogged bool
	logger     *slog.Logger
}

func New(cfg asr.Config) *LiveTranscriber {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}

	baseLogger := slog.Default()
	logger := logging.NewComponentLogger(baseLogger, "deepgram_asr")

	return &LiveTranscriber{
		cfg:    cfg,
		out:    make(chan events.TranscriptEvent, 256),
		logger: logger,
	}
}

func (t *LiveTranscriber) Name() string { return "deepgram_streaming" }

func (t *LiveTranscriber) Start(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return errorsx.Wrap(errors.New("deepgram api key is empty"), errorsx.ReasonASRConfig)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	// Audio is streamed through a pipe; the SDK reads the other end.
	t.pipeReader, t.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.Model,
		Language:       t.cfg.Language,
		Encoding:       t.cfg.Encoding,
		SampleRate:     t.cfg.SampleRate,
		Channels:       t.cfg.Channels,
		InterimResults: t.cfg.Interim,
		VadEvents:      t.cfg.VADEvents,
		SmartFormat:    true,
	}

	t.logger.Info("initializing deepgram connection",
		slog.String("session_id", t.cfg.SessionID),
		slog.String("caller_id", t.cfg.CallerID),
		slog.String("model", t.cfg.Model),
		slog.Int("sample_rate", t.cfg.SampleRate))

	cb := &callback{parent: t}

	dgClient, err := client.NewWSUsingCallback(t.ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		t.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", t.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonASRConnect)
	}
	t.dgClient = dgClient

	if connected := t.dgClient.Connect(); !connected {
		t.logger.Error("deepgram_connect_failed",
			slog.String("session_id", t.cfg.SessionID))
		return errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonASRConnect)
	}

	t.logger.Info("deepgram_connected",
		slog.String("session_id", t.cfg.SessionID),
		slog.String("caller_id", t.cfg.CallerID),
		slog.String("model", t.cfg.Model))

	go func() {
		if err := t.dgClient.Stream(t.pipeReader); err != nil && t.ctx.Err() == nil {
			t.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", t.cfg.SessionID))
		}
	}()

	return nil
}

func (t *LiveTranscriber) Close() error {
	t.logger.Info("closing deepgram connection",
		slog.String("session_id", t.cfg.SessionID))

	if t.cancel != nil {
		t.cancel()
	}
	if t.pipeWriter != nil {
		_ = t.pipeWriter.Close()
	}
	if t.dgClient != nil {
		t.dgClient.Stop()
	}
	return nil
}

func (t *LiveTranscriber) SendAudio(data []byte) error {
	if t.pipeWriter == nil {
		return errorsx.Wrap(errors.New("not started"), errorsx.ReasonASRSend)
	}
	if len(data) == 0 {
		return errorsx.Wrap(errors.New("empty audio chunk"), errorsx.ReasonInvalidAudio)
	}

	_, err := t.pipeWriter.Write(data)
	if err != nil {
		t.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("session_id", t.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonASRSend)
	}
	return err
}

func (t *LiveTranscriber) Events() <-chan events.TranscriptEvent { return t.out }

func (t *LiveTranscriber) emit(ev events.TranscriptEvent) {
	ev.SessionID = t.cfg.SessionID
	ev.CallerID = t.cfg.CallerID
	select {
	case t.out <- ev:
	default:
		t.logger.Warn("deepgram_out_channel_full",
			slog.String("session_id", t.cfg.SessionID),
			slog.String("type", string(ev.Type)))
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *LiveTranscriber
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(events.TranscriptEvent{Type: events.TypeOpen})
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	transcript := alt.Transcript
	if transcript == "" {
		return nil
	}

	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Bool("is_final", isFinal))

	c.parent.emit(events.TranscriptEvent{
		Type:       events.TypeTranscript,
		Text:       transcript,
		IsFinal:    isFinal,
		Confidence: alt.Confidence,
	})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	c.parent.emit(events.TranscriptEvent{
		Type:      events.TypeMetadata,
		RequestID: md.RequestID,
	})
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(events.TranscriptEvent{Type: events.TypeSpeechStarted})
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(events.TranscriptEvent{Type: events.TypeUtteranceEnd})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(events.TranscriptEvent{Type: events.TypeClosed})
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(events.TranscriptEvent{
		Type:    events.TypeError,
		Message: fmt.Sprintf("%s: %s", er.ErrCode, er.ErrMsg),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("data", string(byData)))
	return nil
}

var _ asr.LiveTranscriber = (*LiveTranscriber)(nil)

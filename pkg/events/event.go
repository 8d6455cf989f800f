package events

import "log/slog"

// Type discriminates transcript events on both the backend and the
// caller-facing wire.
type Type string

const (
	TypeOpen          Type = "open"
	TypeTranscript    Type = "transcript"
	TypeSpeechStarted Type = "speech_started"
	TypeUtteranceEnd  Type = "utterance_end"
	TypeMetadata      Type = "metadata"
	TypeError         Type = "error"
	TypeClosed        Type = "closed"
)

// TranscriptEvent is the normalized event shape shared by ASR adapters,
// sessions, and the caller-facing transport. A thin transport layer can
// forward it verbatim as JSON.
type TranscriptEvent struct {
	Type       Type    `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	CallerID   string  `json:"caller_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
}

// Sink receives every event of one session, in arrival order.
type Sink interface {
	OnEvent(ev TranscriptEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev TranscriptEvent)

func (f SinkFunc) OnEvent(ev TranscriptEvent) { f(ev) }

// LogSink writes events to the logger and drops them. Useful as a default
// listener when no transport is attached yet.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) OnEvent(ev TranscriptEvent) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("transcript_event",
		slog.String("type", string(ev.Type)),
		slog.String("session_id", ev.SessionID),
		slog.Bool("is_final", ev.IsFinal))
}

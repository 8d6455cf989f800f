package asr

import (
	"context"

	"github.com/voiceplate/voiceplate/pkg/events"
)

// LiveTranscriber defines the contract for any streaming ASR vendor
// implementation. One instance corresponds to one backend connection.
type LiveTranscriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the backend connection. A config problem (missing API
	// key) is reported with errorsx.ReasonASRConfig and must not be retried.
	Start(ctx context.Context) error
	// SendAudio forwards one raw PCM chunk to the backend.
	SendAudio(data []byte) error
	// Events returns the normalized event stream for this connection.
	// The channel is closed when the connection ends.
	Events() <-chan events.TranscriptEvent
	// Close shuts the connection down best-effort.
	Close() error
}

// Config contains vendor-agnostic transcriber configuration.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int
	Interim    bool
	VADEvents  bool
	CallerID   string
	SessionID  string
}

// Factory builds a fresh transcriber for one connection attempt. Sessions
// call it again on every reconnect so no connection state leaks across
// attempts.
type Factory func(cfg Config) LiveTranscriber

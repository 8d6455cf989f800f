package metrics

import "time"

// Domain event names recorded by the core components.
const (
	EventSessionOpened    = "session_opened"
	EventReconnectAttempt = "session_reconnect_attempt"
	EventSessionFailed    = "session_failed"
	EventFramesShed       = "session_frames_shed"
	EventFinalTranscript  = "stt_final"
	EventOrderCreated     = "order_created"
	EventOrderUnparseable = "order_unparseable"
	EventStatusPublished  = "order_status_published"
	EventAssemblyRejected = "order_assembly_rejected"
)

type MetricsEvent struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

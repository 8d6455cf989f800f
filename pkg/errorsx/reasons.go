package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonASRConfig  ReasonCode = "asr_config"
	ReasonASRConnect ReasonCode = "asr_connect"
	ReasonASRSend    ReasonCode = "asr_send"
	ReasonASRTimeout ReasonCode = "asr_connect_timeout"

	ReasonSessionClosed ReasonCode = "session_closed"
	ReasonSessionFailed ReasonCode = "session_failed"
	ReasonInvalidAudio  ReasonCode = "invalid_audio"

	ReasonOrderUnparseable ReasonCode = "order_unparseable"
	ReasonOrderRouting     ReasonCode = "order_routing"

	ReasonStoreQuery    ReasonCode = "store_query"
	ReasonNotifyPublish ReasonCode = "notify_publish"
	ReasonTransportSend ReasonCode = "transport_send"
)

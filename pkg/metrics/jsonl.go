package metrics

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONLObserver appends one JSON object per event to a writer. Pointed at a
// file it gives a greppable record of session and order activity without an
// external metrics backend.
type JSONLObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(ev)
}

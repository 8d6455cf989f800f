package frames

import (
	"sync"
	"time"
)

// Meta keys attached to audio frames as they move between the transport,
// the session buffer, and the ASR adapter.
const (
	MetaCallerID  = "caller_id"
	MetaSessionID = "session_id"
	MetaTraceID   = "trace_id"
	MetaSource    = "source"
)

// AudioFrame is one binary PCM chunk from a caller's microphone stream.
type AudioFrame struct {
	pts    int64
	data   []byte
	rate   int
	ch     int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(callerID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(callerID, meta),
	}
}

// NewAudioFrameFromPool copies data into a pooled buffer; callers that are
// done with the frame should hand it to ReleaseAudioFrame.
func NewAudioFrameFromPool(callerID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		pts:    pts,
		data:   buf,
		rate:   rate,
		ch:     ch,
		meta:   mergeMeta(callerID, meta),
		pooled: true,
	}
}

func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Len() int                { return len(a.data) }

func ReleaseAudioFrame(f AudioFrame) bool {
	if f.pooled {
		ReleaseAudioBuf(f.data)
		return true
	}
	return false
}

// PTSGen produces monotonically increasing presentation timestamps per caller.
type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(callerID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[callerID] + time.Millisecond.Nanoseconds()
	g.value[callerID] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(callerID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 1+len(meta))
	if callerID != "" {
		out[MetaCallerID] = callerID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

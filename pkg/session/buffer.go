package session

import "github.com/voiceplate/voiceplate/pkg/frames"

// pendingBuffer holds audio frames that arrive while the backend connection
// is not open. Capacity is fixed; on overflow the oldest frames are shed so
// speech nearer "now" survives a reconnect.
type pendingBuffer struct {
	maxFrames int
	frames    []frames.AudioFrame
}

func newPendingBuffer(maxFrames int) *pendingBuffer {
	if maxFrames <= 0 {
		maxFrames = 256
	}
	return &pendingBuffer{maxFrames: maxFrames}
}

// Add appends a frame and returns how many old frames were shed to make room.
func (b *pendingBuffer) Add(f frames.AudioFrame) int {
	b.frames = append(b.frames, f)
	if len(b.frames) <= b.maxFrames {
		return 0
	}
	shed := len(b.frames) - b.maxFrames
	for _, old := range b.frames[:shed] {
		frames.ReleaseAudioFrame(old)
	}
	b.frames = b.frames[shed:]
	return shed
}

// Drain removes and returns all buffered frames in submission order.
func (b *pendingBuffer) Drain() []frames.AudioFrame {
	out := b.frames
	b.frames = nil
	return out
}

// Requeue puts drained frames back at the front, preserving their original
// order ahead of anything buffered since the drain.
func (b *pendingBuffer) Requeue(fs []frames.AudioFrame) {
	if len(fs) == 0 {
		return
	}
	b.frames = append(append([]frames.AudioFrame(nil), fs...), b.frames...)
	if len(b.frames) > b.maxFrames {
		shed := len(b.frames) - b.maxFrames
		for _, old := range b.frames[:shed] {
			frames.ReleaseAudioFrame(old)
		}
		b.frames = b.frames[shed:]
	}
}

// Discard releases every buffered frame without returning it.
func (b *pendingBuffer) Discard() {
	for _, f := range b.frames {
		frames.ReleaseAudioFrame(f)
	}
	b.frames = nil
}

func (b *pendingBuffer) Len() int { return len(b.frames) }

package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/events"
)

// Controller scripts transcriber behavior across connection attempts. A
// session asks its factory for a fresh transcriber on every attempt, so
// failure counting has to live here rather than on one instance.
type Controller struct {
	mu          sync.Mutex
	failStarts  int
	starts      int
	instances   []*LiveTranscriber
	startErr    error
	emitOnStart []events.TranscriptEvent
}

func NewController() *Controller {
	return &Controller{startErr: errors.New("mock connect refused")}
}

// FailStarts makes the next n Start calls fail with err (transient by default).
func (c *Controller) FailStarts(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStarts = n
	if err != nil {
		c.startErr = err
	}
}

// EmitOnStart queues events every successfully started instance emits.
func (c *Controller) EmitOnStart(evs ...events.TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitOnStart = evs
}

// Factory satisfies asr.Factory.
func (c *Controller) Factory(cfg asr.Config) asr.LiveTranscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr := &LiveTranscriber{
		cfg:        cfg,
		out:        make(chan events.TranscriptEvent, 64),
		controller: c,
	}
	c.instances = append(c.instances, tr)
	return tr
}

// Starts returns how many Start calls were made across all instances.
func (c *Controller) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Last returns the most recently created instance.
func (c *Controller) Last() *LiveTranscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.instances) == 0 {
		return nil
	}
	return c.instances[len(c.instances)-1]
}

// Instances returns every transcriber created so far.
func (c *Controller) Instances() []*LiveTranscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LiveTranscriber, len(c.instances))
	copy(out, c.instances)
	return out
}

func (c *Controller) onStart() (error, []events.TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.failStarts > 0 {
		c.failStarts--
		return c.startErr, nil
	}
	return nil, c.emitOnStart
}

// LiveTranscriber is a scripted in-memory ASR connection.
type LiveTranscriber struct {
	cfg        asr.Config
	controller *Controller

	mu      sync.Mutex
	started bool
	closed  bool
	audio   [][]byte
	out     chan events.TranscriptEvent
}

func (t *LiveTranscriber) Name() string { return "mock_asr" }

func (t *LiveTranscriber) Start(ctx context.Context) error {
	err, queued := t.controller.onStart()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.Emit(events.TranscriptEvent{Type: events.TypeOpen})
	for _, ev := range queued {
		t.Emit(ev)
	}
	return nil
}

func (t *LiveTranscriber) SendAudio(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed {
		return errors.New("not started")
	}
	t.audio = append(t.audio, append([]byte(nil), data...))
	return nil
}

// Audio returns a copy of every chunk received, in submission order.
func (t *LiveTranscriber) Audio() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.audio))
	for i, chunk := range t.audio {
		out[i] = append([]byte(nil), chunk...)
	}
	return out
}

// Emit pushes a scripted event to the session, if still open.
func (t *LiveTranscriber) Emit(ev events.TranscriptEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.out <- ev
}

func (t *LiveTranscriber) Events() <-chan events.TranscriptEvent { return t.out }

func (t *LiveTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.out)
	return nil
}

var _ asr.LiveTranscriber = (*LiveTranscriber)(nil)

// Package ws is the caller-facing websocket boundary. Dining-room kiosks
// and the staff app connect here, stream microphone audio as binary
// messages, and receive transcript events back as JSON text messages.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/frames"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/order"
)

type Config struct {
	Path           string        `mapstructure:"path"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Intake is what the transport hands caller streams to. The engine
// implements it on top of the session registry and the order pipeline.
type Intake interface {
	OpenStream(callerID string, route order.RoutingContext, sink events.Sink) error
	PushAudio(callerID string, frame frames.AudioFrame) error
	CloseStream(callerID string)
}

// control is the client-to-server text protocol. Everything else on the
// wire is binary audio.
type control struct {
	Type       string `json:"type"`
	TableID    string `json:"table_id,omitempty"`
	SeatID     string `json:"seat_id,omitempty"`
	ResidentID string `json:"resident_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Transport is an http.Handler; mount it on the API router at cfg.Path.
type Transport struct {
	cfg      Config
	intake   Intake
	upgrader websocket.Upgrader
	logger   *slog.Logger
	ptsGen   *frames.PTSGen

	mu    sync.Mutex
	conns map[string]*conn

	draining atomic.Bool
}

func New(cfg Config, intake Intake, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		cfg:    cfg,
		intake: intake,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logging.NewComponentLogger(logger, "ws_transport"),
		ptsGen: frames.NewPTSGen(),
		conns:  make(map[string]*conn),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Path() string { return t.cfg.Path }

// Stop refuses new connections and tears down the live ones.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	t.mu.Lock()
	all := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		all = append(all, c)
	}
	t.conns = make(map[string]*conn)
	t.mu.Unlock()

	for _, c := range all {
		t.intake.CloseStream(c.callerID)
		c.close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	sock, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	callerID := uuid.NewString()
	c := &conn{
		callerID: callerID,
		sock:     sock,
		sendCh:   make(chan []byte, t.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	t.mu.Lock()
	t.conns[callerID] = c
	t.mu.Unlock()

	t.logger.Info("caller_connected", slog.String("caller_id", callerID))
	go c.writeLoop(t.cfg.PingInterval)
	t.readLoop(c)
}

func (t *Transport) readLoop(c *conn) {
	defer func() {
		t.mu.Lock()
		delete(t.conns, c.callerID)
		t.mu.Unlock()
		// Close the stream before tearing the conn down: the session's
		// final events still go through the sink, which enqueues on c.
		t.intake.CloseStream(c.callerID)
		c.close()
		t.logger.Info("caller_disconnected", slog.String("caller_id", c.callerID))
	}()

	c.sock.SetReadLimit(t.cfg.ReadLimit)
	_ = c.sock.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})

	for {
		kind, msg, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.TextMessage:
			t.handleControl(c, msg)
		case websocket.BinaryMessage:
			t.handleAudio(c, msg)
		}
	}
}

func (t *Transport) handleControl(c *conn, msg []byte) {
	var ctl control
	if err := json.Unmarshal(msg, &ctl); err != nil {
		t.logger.Warn("bad_control_message", slog.String("caller_id", c.callerID))
		return
	}
	switch ctl.Type {
	case "start":
		c.mu.Lock()
		c.route = order.RoutingContext{
			TableID:    ctl.TableID,
			SeatID:     ctl.SeatID,
			ResidentID: ctl.ResidentID,
		}
		if ctl.SampleRate > 0 {
			c.sampleRate = ctl.SampleRate
		}
		if ctl.Channels > 0 {
			c.channels = ctl.Channels
		}
		c.started = true
		c.mu.Unlock()

		sink := events.SinkFunc(func(ev events.TranscriptEvent) {
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			c.enqueue(payload)
		})
		if err := t.intake.OpenStream(c.callerID, c.routing(), sink); err != nil {
			t.logger.Error("stream_open_failed",
				slog.String("caller_id", c.callerID),
				slog.Any("error", err))
			t.sendError(c, err.Error())
		}
	case "end":
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		t.intake.CloseStream(c.callerID)
	case "ping":
		c.enqueue([]byte(`{"type":"pong"}`))
	default:
		t.logger.Warn("unknown_control_type",
			slog.String("caller_id", c.callerID),
			slog.String("control_type", ctl.Type))
	}
}

func (t *Transport) handleAudio(c *conn, payload []byte) {
	c.mu.Lock()
	started := c.started
	rate, ch := c.sampleRate, c.channels
	c.mu.Unlock()
	if !started {
		return
	}
	if rate == 0 {
		rate = 16000
	}
	if ch == 0 {
		ch = 1
	}

	frame := frames.NewAudioFrameFromPool(c.callerID, t.ptsGen.Next(c.callerID), payload, rate, ch,
		map[string]string{frames.MetaSource: "ws"})
	if err := t.intake.PushAudio(c.callerID, frame); err != nil {
		t.sendError(c, err.Error())
	}
}

func (t *Transport) sendError(c *conn, message string) {
	ev := events.TranscriptEvent{Type: events.TypeError, CallerID: c.callerID, Message: message}
	if payload, err := json.Marshal(ev); err == nil {
		c.enqueue(payload)
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type conn struct {
	callerID string
	sock     *websocket.Conn
	sendCh   chan []byte
	done     chan struct{}

	mu         sync.Mutex
	route      order.RoutingContext
	sampleRate int
	channels   int
	started    bool

	closed atomic.Bool
}

func (c *conn) routing() order.RoutingContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

// enqueue drops on a full buffer or a closed conn; a slow display client
// must not stall the session's event delivery. sendCh is never closed, so
// a sink racing with teardown at worst enqueues into a drained channel.
func (c *conn) enqueue(payload []byte) {
	if c.closed.Load() {
		return
	}
	select {
	case c.sendCh <- payload:
	default:
	}
}

func (c *conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	_ = c.sock.Close()
}

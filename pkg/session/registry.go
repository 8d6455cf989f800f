package session

import (
	"log/slog"
	"sync"

	"github.com/voiceplate/voiceplate/pkg/asr"
	"github.com/voiceplate/voiceplate/pkg/events"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/metrics"
)

// Registry maps each logical caller to at most one live session.
// Construction is lazy: a session is not opened to the backend until its
// first audio frame arrives, so callers who never speak cost nothing.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	factory  asr.Factory
	logger   *slog.Logger
	obs      metrics.Observer
}

func NewRegistry(cfg Config, factory asr.Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		factory:  factory,
		logger:   logging.NewComponentLogger(slog.Default(), "session_registry"),
		obs:      metrics.NoopObserver{},
	}
}

func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logging.NewComponentLogger(logger, "session_registry")
	}
}

func (r *Registry) SetObserver(obs metrics.Observer) {
	if obs != nil {
		r.obs = obs
	}
}

// GetOrCreate returns the caller's live session, constructing a replacement
// when none exists or the previous one is Closed/Failed. Never two live
// sessions for the same caller.
func (r *Registry) GetOrCreate(callerID string, sink events.Sink) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[callerID]; ok {
		switch sess.State() {
		case StateClosed, StateFailed:
			sess.Close()
		default:
			return sess
		}
	}

	cfg := r.cfg
	cfg.CallerID = callerID
	sess := New(cfg, r.factory, sink)
	sess.SetLogger(r.logger)
	sess.SetObserver(r.obs)
	r.sessions[callerID] = sess

	r.logger.Info("session_created",
		slog.String("caller_id", callerID),
		slog.String("session_id", sess.ID()))
	return sess
}

// Get returns the caller's session without creating one.
func (r *Registry) Get(callerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[callerID]
	return sess, ok
}

// Remove closes and discards the caller's session. Called on disconnect.
func (r *Registry) Remove(callerID string) {
	r.mu.Lock()
	sess, ok := r.sessions[callerID]
	delete(r.sessions, callerID)
	r.mu.Unlock()

	if ok {
		sess.Close()
		r.logger.Info("session_removed",
			slog.String("caller_id", callerID),
			slog.String("session_id", sess.ID()))
	}
}

// CloseAll tears down every session; used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

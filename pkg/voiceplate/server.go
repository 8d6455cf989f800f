package voiceplate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voiceplate/voiceplate/pkg/api"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/transports/ws"
)

// Server ties the engine, the caller websocket transport, and the REST API
// to one HTTP listener. It implements runner.Drainer.
type Server struct {
	cfg       Config
	engine    *Engine
	transport *ws.Transport
	httpSrv   *http.Server
	logger    *slog.Logger
}

func NewServer(cfg Config, engine *Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	transport := ws.New(cfg.WS, engine, logger)
	router := api.NewRouter(api.Config{}, engine.Store(), engine.Notifier(),
		transport.Path(), transport, logger)

	return &Server{
		cfg:       cfg,
		engine:    engine,
		transport: transport,
		httpSrv: &http.Server{
			Addr:              cfg.Server.Addr,
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           router.Routes(),
		},
		logger: logging.NewComponentLogger(logger, "server"),
	}
}

// Start begins serving and returns immediately; the listener stops when ctx
// is canceled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.httpSrv.Close()
	}()
	go func() {
		s.logger.Info("server_listening", slog.String("addr", s.cfg.Server.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server_error", slog.Any("error", err))
		}
	}()
}

// Drain refuses new connections, closes live caller streams, and shuts the
// pipeline down.
func (s *Server) Drain() error {
	_ = s.transport.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
	s.engine.Close()
	return nil
}

// Package api exposes the staff-facing REST surface: order queries and
// lifecycle transitions, table and resident management, plus the websocket
// mount for caller audio.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/notify"
	"github.com/voiceplate/voiceplate/pkg/store"
)

type Config struct {
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type Router struct {
	handler    *Handler
	middleware *Middleware
	cfg        Config
	wsPath     string
	wsHandler  http.Handler
	logger     *slog.Logger
}

// NewRouter builds the API router. wsHandler may be nil when no caller
// transport is mounted (admin-only deployments).
func NewRouter(cfg Config, st *store.Store, notifier *notify.Publisher, wsPath string, wsHandler http.Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handler:    NewHandler(st, notifier, logger),
		middleware: NewMiddleware(logger),
		cfg:        cfg,
		wsPath:     wsPath,
		wsHandler:  wsHandler,
		logger:     logging.NewComponentLogger(logger, "api_router"),
	}
}

func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.cfg.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)

		router.Get("/orders", r.handler.ListOrders)
		router.Get("/orders/{id}", r.handler.GetOrder)
		router.Get("/orders/{id}/ticket", r.handler.GetOrderTicket)
		router.Post("/orders/{id}/status", r.handler.UpdateOrderStatus)

		router.Get("/tables", r.handler.ListTables)
		router.Post("/tables", r.handler.UpsertTable)
		router.Get("/tables/{id}", r.handler.GetTable)
		router.Delete("/tables/{id}", r.handler.DeleteTable)

		router.Get("/residents", r.handler.ListResidents)
		router.Post("/residents", r.handler.UpsertResident)
		router.Get("/residents/{id}", r.handler.GetResident)
		router.Delete("/residents/{id}", r.handler.DeleteResident)
	})

	if r.wsHandler != nil {
		router.Handle(r.wsPath, r.wsHandler)
	}
	return router
}

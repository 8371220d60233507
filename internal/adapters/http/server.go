package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mira-ai/mira/internal/adapters/http/handlers"
	"github.com/mira-ai/mira/internal/adapters/http/middleware"
	"github.com/mira-ai/mira/internal/config"
	"github.com/mira-ai/mira/internal/ports"
)

const version = "1.0.0"

// Deps bundles everything the HTTP surface needs. Handlers consume narrow
// interfaces; this struct exists only for wiring at boot.
type Deps struct {
	Turns      handlers.TurnRunner
	Memories   handlers.MemoryManager
	Segments   handlers.SegmentController
	Continuums handlers.ContinuumReader
	Messages   handlers.MessageReader
	Reminders  handlers.ReminderStore
	Docs       handlers.DocStore
	KV         ports.KVStore

	// Checks feed /health; the map key is the component name.
	Checks map[string]handlers.CheckFunc
}

type Server struct {
	config      *config.Config
	router      *chi.Mux
	httpServer  *http.Server
	broadcaster *handlers.Broadcaster
	logger      *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		config:      cfg,
		broadcaster: handlers.NewBroadcaster(),
		logger:      logger,
	}
	s.setupRouter(deps)
	return s
}

func (s *Server) setupRouter(deps Deps) {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(version)
	for name, check := range deps.Checks {
		healthHandler.AddCheck(name, check)
	}
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth)

		chatHandler := handlers.NewChatHandler(deps.Turns, s.broadcaster, s.logger)
		r.Post("/chat", chatHandler.Handle)

		actionsHandler := handlers.NewActionsHandler(
			deps.Memories,
			deps.Segments,
			deps.Continuums,
			deps.Reminders,
			deps.Docs,
			s.logger,
		)
		r.Post("/actions", actionsHandler.Handle)

		dataHandler := handlers.NewDataHandler(
			deps.Continuums,
			deps.Messages,
			deps.Memories,
			deps.Segments,
			deps.Docs,
			deps.KV,
			s.logger,
		)
		r.Get("/data", dataHandler.Handle)

		wsHandler := handlers.NewWSHandler(s.broadcaster, s.config.Server.CORSOrigins, s.logger)
		r.Get("/ws", wsHandler.Handle)
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := s.config.Server.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE and WebSocket streaming
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting http server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

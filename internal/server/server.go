// Package server exposes the HTTP surface: the credential endpoint, the
// transcript endpoints, the dashboard listing, health, metrics, and the
// realtime backend's websocket mount.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mchatly/livechat/internal/config"
	"github.com/mchatly/livechat/internal/server/handlers"
	"github.com/mchatly/livechat/internal/store"
	"github.com/mchatly/livechat/internal/telemetry"
	"github.com/mchatly/livechat/internal/token"
)

const ReadTimeout = 30 * time.Second

// Backend is one realization of the channel protocol: the self-hosted relay
// or the centrifuge node. The server only mounts and drains it.
type Backend interface {
	Handler() http.Handler
	Shutdown(ctx context.Context) error
}

type Server struct {
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	backend Backend
}

// BackendMount pairs a realtime backend with the path it serves on.
type BackendMount struct {
	Path    string
	Backend Backend
	// Middleware wraps the backend handler, e.g. capability auth for the
	// centrifuge node. Nil means mount as is.
	Middleware func(http.Handler) http.Handler
}

func NewServer(cfg *config.Config, s *store.Store, issuer *token.Issuer, mount BackendMount, gatherer prometheus.Gatherer) *Server {
	router := chi.NewRouter()

	router.Use(telemetry.Middleware("livechat-api"))
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(CORS(cfg.Server.AllowedOrigins))

	healthH := handlers.NewHealthHandler(func(ctx context.Context) error { return s.Pool().Ping(ctx) })
	router.Get("/health", healthH.Readiness)
	router.Get("/health/ready", healthH.Readiness)
	router.Get("/health/live", healthH.Liveness)

	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	backendHandler := mount.Backend.Handler()
	if mount.Middleware != nil {
		backendHandler = mount.Middleware(backendHandler)
	}
	router.Handle(mount.Path, backendHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthWithConfig(AuthConfig{RequireAuth: cfg.Server.RequireAuth}))

		tokenH := handlers.NewTokenHandler(issuer)
		r.Get("/live-chat/token", tokenH.GetToken)

		transcriptH := handlers.NewTranscriptHandler(s, s)
		r.Post("/log-chat", transcriptH.LogChat)
		r.Get("/chat-history", transcriptH.ChatHistory)

		liveChatsH := handlers.NewLiveChatsHandler(s, s)
		r.Get("/chatbots/{id}/live-chats", liveChatsH.List)
		r.Get("/chatbots/{id}/live-chats/{sessionId}", liveChatsH.Get)
	})

	return &Server{
		cfg:     cfg,
		router:  router,
		backend: mount.Backend,
	}
}

// Router exposes the assembled handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: ReadTimeout,
		// Websocket connections are long-lived; no write timeout.
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

// Stop drains the realtime backend, then the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.backend.Shutdown(ctx); err != nil {
		return err
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

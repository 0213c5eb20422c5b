package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mchatly/livechat/internal/bot"
	"github.com/mchatly/livechat/internal/config"
	"github.com/mchatly/livechat/internal/db"
	"github.com/mchatly/livechat/internal/handoff"
	"github.com/mchatly/livechat/internal/metrics"
	"github.com/mchatly/livechat/internal/notify"
	"github.com/mchatly/livechat/internal/realtime"
	"github.com/mchatly/livechat/internal/registry"
	"github.com/mchatly/livechat/internal/relay"
	"github.com/mchatly/livechat/internal/server"
	"github.com/mchatly/livechat/internal/store"
	"github.com/mchatly/livechat/internal/telemetry"
	"github.com/mchatly/livechat/internal/token"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live-chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	slog.SetDefault(slog.New(telemetry.NewLogHandler(slog.LevelInfo)))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Token.SigningSecret == "" {
		return fmt.Errorf("LIVECHAT_TOKEN_SECRET is required")
	}

	if cfg.Otel.Enabled {
		shutdown, err := telemetry.Init(telemetry.Config{
			ServiceName: "livechat",
			Environment: cfg.Otel.Environment,
		})
		if err != nil {
			slog.Error("failed to initialize opentelemetry", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				shutdown(ctx)
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	s := store.New(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker := handoff.NewTracker(func(channel string, state handoff.State) {
		m.HandoffSwitches.WithLabelValues(string(state)).Inc()
	})

	notifier := notify.NewScheduler(cfg.Notify.AdminWaitDeadline, func(chatbotID, sessionID string) {
		slog.Warn("visitor waiting for a human", "chatbot_id", chatbotID, "session_id", sessionID)
	})
	defer notifier.Stop()

	issuer := token.NewIssuer(cfg.Token.SigningSecret, cfg.Token.TTL, s)
	answerer := bot.NewClient(cfg.Bot.AnswerURL, cfg.Bot.Timeout)

	var mount server.BackendMount
	switch cfg.Realtime.Backend {
	case config.BackendCentrifuge:
		node, err := realtime.NewNode(realtime.Options{
			Tracker:    tracker,
			Transcript: s,
			Answerer:   answerer,
			Notifier:   notifier,
			Metrics:    m,
		})
		if err != nil {
			return fmt.Errorf("create realtime node: %w", err)
		}
		if err := node.Run(); err != nil {
			return fmt.Errorf("run realtime node: %w", err)
		}
		mount = server.BackendMount{
			Path:       "/connection/websocket",
			Backend:    node,
			Middleware: func(next http.Handler) http.Handler { return realtime.AuthMiddleware(issuer)(next) },
		}
	default:
		mount = server.BackendMount{
			Path: "/live-chat",
			Backend: relay.New(relay.Options{
				Registry:          registry.New(m),
				Tracker:           tracker,
				Directory:         s,
				Transcript:        s,
				Answerer:          answerer,
				Notifier:          notifier,
				Metrics:           m,
				ExclusiveAdmin:    cfg.Realtime.AdminSlotPolicy == config.PolicyExclusive,
				AllowedOrigins:    cfg.Server.AllowedOrigins,
				RejectEmptyOrigin: cfg.Server.RejectEmptyOrigin,
			}),
		}
	}

	srv := server.NewServer(cfg, s, issuer, mount, reg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "host", cfg.Server.Host, "port", cfg.Server.Port,
			"backend", cfg.Realtime.Backend)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 30*time.Second)
		defer cancelShutdown()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		slog.Info("server stopped")
	}
	return nil
}

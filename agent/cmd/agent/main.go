package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/octo-agent/agent/internal/alerts"
	"github.com/obsidianstack/octo-agent/agent/internal/api"
	"github.com/obsidianstack/octo-agent/agent/internal/config"
	"github.com/obsidianstack/octo-agent/agent/internal/coordinator"
	"github.com/obsidianstack/octo-agent/agent/internal/security"
	"github.com/obsidianstack/octo-agent/agent/internal/ws"
	"github.com/obsidianstack/octo-agent/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("octo-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := alerts.Validate(cfg.Agent.Alerts); err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.SlogLevel())

	slog.Info("config loaded",
		"username", cfg.Agent.Username,
		"scan_interval_min", cfg.Agent.ScanInterval,
		"base_url", cfg.Agent.BaseURL,
		"http_port", cfg.Agent.HTTPPort,
		"auth_mode", cfg.Agent.Auth.Mode,
		"storage", cfg.Agent.Storage.Backend,
		"alert_rules", len(cfg.Agent.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := buildConnector(cfg.Agent, nil)
	if err != nil {
		slog.Error("failed to build connector", "err", err)
		os.Exit(1)
	}
	conn.start(ctx)
	holder := coordinator.NewHolder(conn.coord)

	// WebSocket hub: pushes the measurement to dashboards every broadcast_interval.
	hub := ws.New(holder, cfg.Agent.BroadcastInterval)
	go hub.Run(ctx)

	// Alert engine: evaluates rules against the live status.
	alerter := alerts.New(cfg.Agent.Alerts, nil)
	go alerter.Run(ctx, holder, cfg.Agent.Alerts.EvaluateInterval)

	retune := func(a config.AgentConfig) {
		hub.SetInterval(a.BroadcastInterval)
		if err := alerts.Validate(a.Alerts); err != nil {
			slog.Error("agent: alert rules rejected, keeping previous rules", "err", err)
			return
		}
		alerter.SetConfig(a.Alerts)
	}
	rl := newReloader(ctx, holder, &level, retune, cfg.Agent, conn)

	// Watch config file for hot-reload.
	go func() {
		if err := config.Watch(ctx, *configPath, rl.apply); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	handler := api.New(holder, api.Options{
		AuthMode:   cfg.Agent.Auth.Mode,
		AuthHeader: cfg.Agent.Auth.Header,
		AuthKey:    cfg.Agent.Auth.Key(),
		Stream:     hub,
		Alerts:     alerter,
		CheckCert: func(ctx context.Context) *types.CertStatus {
			a := rl.settings()
			return security.Check(ctx, a.BaseURL, a.TLS.InsecureSkipVerify)
		},
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Agent.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Agent.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("octo-agent shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	rl.shutdown()
}

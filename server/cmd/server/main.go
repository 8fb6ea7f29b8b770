package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/statuscast/server/internal/alerts"
	"github.com/obsidianstack/statuscast/server/internal/api"
	"github.com/obsidianstack/statuscast/server/internal/broadcast"
	"github.com/obsidianstack/statuscast/server/internal/certcheck"
	"github.com/obsidianstack/statuscast/server/internal/config"
	"github.com/obsidianstack/statuscast/server/internal/health"
	"github.com/obsidianstack/statuscast/server/internal/history"
	"github.com/obsidianstack/statuscast/server/internal/metrics"
	"github.com/obsidianstack/statuscast/server/internal/publisher"
	"github.com/obsidianstack/statuscast/server/internal/registry"
	"github.com/obsidianstack/statuscast/server/internal/static"
	"github.com/obsidianstack/statuscast/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	staticDir := flag.String("static-dir", "", "serve static files from this directory (overrides server.static_dir)")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("statuscast-server starting", "config", *configPath)

	cfg, watchConfig, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *staticDir != "" {
		cfg.Server.StaticDir = *staticDir
	}
	applyLogLevel(level, cfg)

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"websocket_path", cfg.Server.WebSocketPath,
		"interval", cfg.Status.Interval,
		"health_url", cfg.Status.HealthURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clients := registry.New()
	cell := broadcast.New(publisher.EmptyMessage)
	collector := metrics.New(clients)

	prober, err := health.NewHTTPProber(health.Options{
		URL:                cfg.Status.HealthURL,
		Timeout:            cfg.Status.ProbeTimeout,
		Strict:             cfg.Status.StrictStatus,
		InsecureSkipVerify: cfg.Status.InsecureSkipVerify,
		CAFile:             cfg.Status.CAFile,
	})
	if err != nil {
		slog.Error("failed to build health prober", "err", err)
		os.Exit(1)
	}
	tlsCfg, err := health.TLSConfig(cfg.Status.InsecureSkipVerify, cfg.Status.CAFile)
	if err != nil {
		slog.Error("failed to build upstream TLS config", "err", err)
		os.Exit(1)
	}

	// Alert engine: upstream up/down notifications.
	alertEngine := alerts.New(cfg.Status.HealthURL, cfg.Alerts)
	slog.Info("alert engine ready",
		"failure_threshold", cfg.Alerts.FailureThreshold,
		"webhooks", len(cfg.Alerts.Webhooks),
	)

	// Snapshot history: a cell subscriber like any WebSocket client.
	hist := history.New(cfg.History.Retention, cfg.History.MaxEntries)
	histSub := cell.Subscribe()
	go func() {
		if err := hist.Run(ctx, histSub); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("history recorder stopped", "err", err)
		}
	}()

	// Upstream certificate monitor.
	certs := certcheck.NewMonitor(certcheck.MonitorOptions{
		Endpoint: cfg.Status.HealthURL,
		Interval: cfg.Status.CertCheckInterval,
		TLS:      tlsCfg,
		Recorder: collector,
	})
	go func() {
		if err := certs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("certificate monitor stopped", "err", err)
		}
	}()

	// Snapshot publisher: the only writer of the broadcast cell.
	pub := publisher.New(publisher.Options{
		Interval:  cfg.Status.Interval,
		Prober:    prober,
		Clients:   clients,
		Cell:      cell,
		Metrics:   collector,
		Observers: []publisher.ProbeObserver{alertEngine},
	})
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("publisher stopped", "err", err)
		}
	}()

	// Hot reload only changes the log level; listener and publisher settings
	// need a restart.
	if watchConfig {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				applyLogLevel(level, updated)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	handler := routes(cfg.Server, deps{
		cell:      cell,
		clients:   clients,
		collector: collector,
		api:       api.Options{History: hist, Alerts: alertEngine, Certs: certs},
	})
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("statuscast-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	<-pubDone
	alertEngine.Wait()
}

// loadConfig reads path, falling back to defaults when the file does not
// exist. The second result reports whether the file should be watched.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), false, nil
	}
	return nil, false, err
}

func applyLogLevel(level *slog.LevelVar, cfg *config.Config) {
	lvl, err := cfg.Log.SlogLevel()
	if err != nil {
		slog.Warn("invalid log level, keeping current", "level", cfg.Log.Level, "err", err)
		return
	}
	if level.Level() != lvl {
		slog.Info("log level set", "level", lvl)
	}
	level.Set(lvl)
}

// deps bundles what the HTTP routes read from.
type deps struct {
	cell      *broadcast.Cell[[]byte]
	clients   *registry.Registry
	collector *metrics.Collector
	api       api.Options
}

// routes mounts the WebSocket endpoint, the REST API, metrics and, when
// configured, the static file fallback for everything else.
func routes(srv config.ServerConfig, d deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(srv.WebSocketPath, ws.NewHandler(ws.NewGateway(d.cell, d.clients, d.collector)))
	mux.Handle("/api/", api.New(d.cell, d.clients, d.api))
	mux.Handle("/metrics", d.collector.Handler())

	if static.Available(srv.StaticDir) {
		mux.Handle("/", static.Handler(srv.StaticDir))
		slog.Info("serving static files", "dir", srv.StaticDir)
	} else if srv.StaticDir != "" {
		slog.Warn("static directory not found, fallback disabled", "dir", srv.StaticDir)
	}
	return mux
}

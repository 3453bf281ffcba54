package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/portecho/portecho"
)

// serveCmd runs the echo server until interrupted.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		Long: `Run the echo server on the configured ports until SIGINT or SIGTERM.

Configuration is read from flags, PORTECHO_* environment variables, and an
optional YAML config file, in that order of precedence.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to YAML config file")
	flags.Int("workers", 0, "shared pool workers (0 = one per CPU)")
	flags.StringSlice("async-listen", []string{"127.0.0.1:1000"}, "endpoints for the event-driven echo handler")
	flags.StringSlice("sync-listen", []string{"127.0.0.1:1001"}, "endpoints for the thread-per-connection echo handler")
	flags.String("ops-listen", "", "endpoint for the operational HTTP listener (/metrics, /healthz); empty disables it")
	flags.Int64("max-message-size", 64*1024*1024, "maximum incoming WebSocket message size in bytes")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Duration("shutdown-timeout", 30*time.Second, "how long to wait for in-flight connections on shutdown")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("PORTECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	logger := newLogger(v.GetString("log-level"))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := portecho.New(portecho.Config{
		Workers:         v.GetInt("workers"),
		MaxMessageSize:  v.GetInt64("max-message-size"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		Logger:          logger,
		MetricsRegistry: registry,
	})
	if err != nil {
		return err
	}

	for _, ep := range v.GetStringSlice("async-listen") {
		port, err := app.AddAsyncEchoPort(ep)
		if err != nil {
			app.Stop()
			return err
		}
		logger.Info("listening", "variant", "async", "addr", port.Addr())
	}
	for _, ep := range v.GetStringSlice("sync-listen") {
		port, err := app.AddSyncEchoPort(ep)
		if err != nil {
			app.Stop()
			return err
		}
		logger.Info("listening", "variant", "sync", "addr", port.Addr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ops *http.Server
	if addr := v.GetString("ops-listen"); addr != "" {
		ops = opsServer(addr, registry, logger)
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops listener failed", "error", err)
			}
		}()
		logger.Info("ops listening", "addr", addr)
	}

	err = app.Run(ctx)

	if ops != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ops.Shutdown(shutCtx)
	}

	logger.Info("stopped")
	return err
}

// opsServer serves Prometheus metrics and a liveness probe.
func opsServer(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

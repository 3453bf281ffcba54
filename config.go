package portecho

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures an App.
type Config struct {
	// Workers is the number of shared pool workers driving all ports.
	// Must be at least 1; 0 takes the default (one per CPU).
	Workers int

	// MaxMessageSize caps incoming WebSocket message payloads on every echo
	// port. Default: 64 MiB.
	MaxMessageSize int64

	// ShutdownTimeout bounds how long Shutdown waits for in-flight
	// connections to finish. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger shared by all components.
	// Default: slog.Default().
	Logger *slog.Logger

	// MetricsRegistry is where server metrics are registered.
	// Default: prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
}

// DefaultShutdownTimeout bounds Shutdown unless configured otherwise.
const DefaultShutdownTimeout = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64 * 1024 * 1024
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

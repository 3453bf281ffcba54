package server

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for an Instance.
type Config struct {
	// Workers is the number of pool worker goroutines.
	// Must be at least 1. Default: runtime.NumCPU().
	Workers int

	// AcceptBackoffMax caps the delay between retries after transient
	// accept failures. Default: 1 second.
	AcceptBackoffMax time.Duration

	// Logger is the structured logger used by the instance and its ports.
	// Default: slog.Default().
	Logger *slog.Logger

	// IDs is the connection id generator shared by all ports of this
	// instance. Default: DefaultIDs, the process-wide counter.
	IDs *IDGenerator

	// MetricsRegistry is where instance metrics are registered.
	// Default: prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:          runtime.NumCPU(),
		AcceptBackoffMax: time.Second,
		Logger:           slog.Default(),
		IDs:              DefaultIDs,
		MetricsRegistry:  prometheus.DefaultRegisterer,
	}
}

// withDefaults fills in defaults for any unset fields and returns the
// resulting config. The worker count is deliberately not defaulted when set
// to a negative value: that is a caller error surfaced by NewInstance.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	defaults := DefaultConfig()
	if out.Workers == 0 {
		out.Workers = defaults.Workers
	}
	if out.AcceptBackoffMax == 0 {
		out.AcceptBackoffMax = defaults.AcceptBackoffMax
	}
	if out.Logger == nil {
		out.Logger = defaults.Logger
	}
	if out.IDs == nil {
		out.IDs = defaults.IDs
	}
	if out.MetricsRegistry == nil {
		out.MetricsRegistry = defaults.MetricsRegistry
	}
	return &out
}

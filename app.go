// Package portecho wires the generic multi-port server framework
// (pkg/server) together with the WebSocket echo handlers (pkg/echo) into a
// ready-to-run application.
//
// The reference deployment serves an event-driven echo handler and a
// thread-per-connection echo handler side by side on two loopback ports:
//
//	app, err := portecho.New(portecho.Config{Workers: 4})
//	if err != nil {
//		log.Fatal(err)
//	}
//	app.AddAsyncEchoPort("127.0.0.1:1000")
//	app.AddSyncEchoPort("127.0.0.1:1001")
//	app.Run(ctx) // blocks until ctx is done, then stops and drains
package portecho

import (
	"context"
	"log/slog"

	"github.com/portecho/portecho/pkg/echo"
	"github.com/portecho/portecho/pkg/server"
)

// App owns one server instance and its echo ports.
type App struct {
	cfg    Config
	inst   *server.Instance
	logger *slog.Logger
}

// New builds the server instance. A configured worker count below one fails
// with server.ErrInvalidWorkers.
func New(cfg Config) (*App, error) {
	cfg = cfg.withDefaults()
	inst, err := server.NewInstance(&server.Config{
		Workers:         cfg.Workers,
		Logger:          cfg.Logger,
		MetricsRegistry: cfg.MetricsRegistry,
	})
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:    cfg,
		inst:   inst,
		logger: cfg.Logger.With("component", "app"),
	}, nil
}

// Instance exposes the underlying server instance.
func (a *App) Instance() *server.Instance {
	return a.inst
}

// AddAsyncEchoPort opens endpoint with the event-driven echo handler.
func (a *App) AddAsyncEchoPort(endpoint string, opts ...echo.Option) (*server.Port, error) {
	opts = append([]echo.Option{echo.WithMaxMessageSize(a.cfg.MaxMessageSize)}, opts...)
	return a.inst.AddPort(echo.NewAsyncHandler(a.inst, opts...), endpoint)
}

// AddSyncEchoPort opens endpoint with the thread-per-connection echo
// handler.
func (a *App) AddSyncEchoPort(endpoint string, opts ...echo.Option) (*server.Port, error) {
	opts = append([]echo.Option{echo.WithMaxMessageSize(a.cfg.MaxMessageSize)}, opts...)
	return a.inst.AddPort(echo.NewSyncHandler(a.inst, opts...), endpoint)
}

// Run blocks until ctx is done, then stops the instance and waits for
// in-flight connections bounded by the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("running", "ports", len(a.inst.Ports()))
	<-ctx.Done()
	return a.close()
}

// Stop closes every port and releases the pool without waiting for
// in-flight connections.
func (a *App) Stop() {
	a.inst.Stop()
}

// Shutdown stops the instance and waits for the pool to drain, bounded by
// ctx.
func (a *App) Shutdown(ctx context.Context) error {
	return a.inst.Shutdown(ctx)
}

func (a *App) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return a.inst.Shutdown(ctx)
}

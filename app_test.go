package portecho

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/portecho/portecho/pkg/client"
	"github.com/portecho/portecho/pkg/echo"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := New(Config{
		Workers:         2,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.Stop)
	return app
}

// The reference deployment: both handler variants listening side by side on
// one shared pool, each identifying itself through the handshake response.
func TestApp_ServesBothVariantsSideBySide(t *testing.T) {
	app := newTestApp(t)

	asyncPort, err := app.AddAsyncEchoPort("127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddAsyncEchoPort: %v", err)
	}
	syncPort, err := app.AddSyncEchoPort("127.0.0.1:0")
	if err != nil {
		t.Fatalf("AddSyncEchoPort: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, tc := range []struct {
		name   string
		addr   string
		header string
	}{
		{"async", asyncPort.Addr().String(), echo.AsyncServerName},
		{"sync", syncPort.Addr().String(), echo.SyncServerName},
	} {
		conn, err := client.Dial(ctx, tc.addr)
		if err != nil {
			t.Fatalf("%s: dial: %v", tc.name, err)
		}
		if got := conn.ServerHeader(); got != tc.header {
			t.Fatalf("%s: Server header = %q, want %q", tc.name, got, tc.header)
		}
		if err := conn.SendText([]byte("ping")); err != nil {
			t.Fatalf("%s: send: %v", tc.name, err)
		}
		payload, _, err := conn.Recv()
		if err != nil {
			t.Fatalf("%s: recv: %v", tc.name, err)
		}
		if string(payload) != "ping" {
			t.Fatalf("%s: echo = %q, want %q", tc.name, payload, "ping")
		}
		conn.Close()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutCancel()
	if err := app.Shutdown(shutCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApp_RunStopsWhenContextCancelled(t *testing.T) {
	app := newTestApp(t)
	if _, err := app.AddAsyncEchoPort("127.0.0.1:0"); err != nil {
		t.Fatalf("AddAsyncEchoPort: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNew_RejectsNegativeWorkers(t *testing.T) {
	_, err := New(Config{Workers: -1})
	if err == nil {
		t.Fatal("New(workers=-1) succeeded, want error")
	}
}

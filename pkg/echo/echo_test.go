package echo

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/portecho/portecho/pkg/client"
	"github.com/portecho/portecho/pkg/server"
)

func newTestInstance(t *testing.T, workers int) *server.Instance {
	t.Helper()
	inst, _ := newRecordedInstance(t, workers)
	return inst
}

// newRecordedInstance builds an instance whose error-level log records are
// captured, so tests can assert that a code path stayed silent.
func newRecordedInstance(t *testing.T, workers int) (*server.Instance, *logRecorder) {
	t.Helper()
	rec := &logRecorder{}
	inst, err := server.NewInstance(&server.Config{
		Workers:         workers,
		Logger:          slog.New(rec),
		IDs:             new(server.IDGenerator),
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	t.Cleanup(inst.Stop)
	return inst, rec
}

// logRecorder is a slog.Handler retaining error-level messages.
type logRecorder struct {
	mu     sync.Mutex
	errors []string
}

func (r *logRecorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, rec.Message)
	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler      { return r }

func (r *logRecorder) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func dialEcho(t *testing.T, port *server.Port) *client.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, port.Addr().String())
	if err != nil {
		t.Fatalf("dial %s: %v", port.Addr(), err)
	}
	return conn
}

// waitForGauge polls g until it reaches want, failing the test if it never
// does. Connection teardown is asynchronous on the server side, so tests
// observing gauges have to wait for it.
func waitForGauge(t *testing.T, g prometheus.Gauge, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := testutil.ToFloat64(g); got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("gauge = %v, want %v", testutil.ToFloat64(g), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func checkEcho(t *testing.T, conn *client.Conn) {
	t.Helper()

	if err := conn.SendText([]byte("hi")); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	payload, binary, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "hi" {
		t.Fatalf("echoed text = %q, want %q", payload, "hi")
	}
	if binary {
		t.Fatal("text message echoed with binary flag set")
	}

	raw := []byte{0x01, 0x02, 0x03, 0x04}
	if err := conn.SendBinary(raw); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	payload, binary, err = conn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != string(raw) {
		t.Fatalf("echoed binary = %v, want %v", payload, raw)
	}
	if !binary {
		t.Fatal("binary message echoed with binary flag clear")
	}
}

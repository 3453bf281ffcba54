package echo

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/portecho/portecho/pkg/server"
)

// SyncServerName is the Server header value the sync variant injects into
// its handshake responses.
const SyncServerName = "sync-echo-server"

// SyncHandler echoes WebSocket messages using the thread-per-connection
// discipline: each accepted socket is moved into a detached goroutine that
// performs the entire handshake and echo loop with blocking calls. The
// goroutine takes exclusive ownership of the socket and a pool keep-alive
// token, so server teardown cannot invalidate the connection out from under
// it; it is never joined by the acceptor.
type SyncHandler struct {
	pool    *server.Pool
	metrics *server.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	opts    Options
}

// NewSyncHandler returns a handler spawning one goroutine per connection on
// inst's server.
func NewSyncHandler(inst *server.Instance, opts ...Option) *SyncHandler {
	return &SyncHandler{
		pool:    inst.Pool(),
		metrics: inst.Metrics(),
		logger:  inst.Logger().With("component", "echo", "variant", "sync"),
		tracer:  otel.Tracer(tracerName),
		opts:    defaultOptions(opts),
	}
}

// OnAccept transfers ownership of conn and a keep-alive token into a
// detached goroutine and returns immediately.
func (h *SyncHandler) OnAccept(ctx context.Context, id uint64, conn net.Conn, remote net.Addr) {
	token, err := h.pool.Retain()
	if err != nil {
		conn.Close()
		h.metrics.ConnClosed()
		return
	}
	go h.serve(ctx, id, conn, remote, token)
}

// serve is the blocking call chain run on the dedicated goroutine.
func (h *SyncHandler) serve(ctx context.Context, id uint64, conn net.Conn, remote net.Addr, token *server.Token) {
	defer token.Release()
	defer h.metrics.ConnClosed()

	_, span := h.tracer.Start(ctx, "echo.connection",
		trace.WithAttributes(
			attribute.Int64("conn.id", int64(id)),
			attribute.String("conn.remote", remote.String()),
			attribute.String("echo.variant", "sync"),
		))
	defer span.End()

	fail := func(op string, err error) {
		if errors.Is(err, ErrPeerClosed) {
			return
		}
		h.logger.Error("connection failed",
			"id", id, "remote", remote, "op", op, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}

	stream := NewStream(conn, SyncServerName, h.opts)
	defer stream.Close()

	if err := stream.Handshake(); err != nil {
		if !errors.Is(err, ErrPeerClosed) {
			h.metrics.HandshakeError()
		}
		fail("handshake", err)
		return
	}

	for {
		payload, op, err := stream.ReadMessage()
		if err != nil {
			fail("read", err)
			return
		}
		if err := stream.WriteMessage(op, payload); err != nil {
			fail("write", err)
			return
		}
		h.metrics.MessageEchoed(len(payload))
	}
}

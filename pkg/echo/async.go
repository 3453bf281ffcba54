package echo

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/portecho/portecho/pkg/server"
)

// Tracer name for connection spans.
const tracerName = "github.com/portecho/portecho/pkg/echo"

// AsyncServerName is the Server header value the async variant injects into
// its handshake responses.
const AsyncServerName = "async-echo-server"

// AsyncHandler echoes WebSocket messages using the event-driven discipline:
// every stage of a connection runs as a callback on a per-connection strand
// over the shared worker pool. Stages for one connection execute strictly
// in sequence — handshake, then alternating read and write — and no two
// callbacks for the same connection ever run concurrently, regardless of
// how many pool workers there are.
type AsyncHandler struct {
	pool    *server.Pool
	metrics *server.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	opts    Options
}

// NewAsyncHandler returns a handler driving connections on inst's pool.
func NewAsyncHandler(inst *server.Instance, opts ...Option) *AsyncHandler {
	return &AsyncHandler{
		pool:    inst.Pool(),
		metrics: inst.Metrics(),
		logger:  inst.Logger().With("component", "echo", "variant", "async"),
		tracer:  otel.Tracer(tracerName),
		opts:    defaultOptions(opts),
	}
}

// OnAccept takes ownership of conn and schedules the handshake stage on a
// fresh strand. It never blocks for the lifetime of the connection.
func (h *AsyncHandler) OnAccept(ctx context.Context, id uint64, conn net.Conn, remote net.Addr) {
	token, err := h.pool.Retain()
	if err != nil {
		// Shutdown raced the accept; the pool is gone, so is the server.
		conn.Close()
		h.metrics.ConnClosed()
		return
	}

	_, span := h.tracer.Start(ctx, "echo.connection",
		trace.WithAttributes(
			attribute.Int64("conn.id", int64(id)),
			attribute.String("conn.remote", remote.String()),
			attribute.String("echo.variant", "async"),
		))

	c := &asyncConn{
		handler: h,
		id:      id,
		remote:  remote,
		stream:  NewStream(conn, AsyncServerName, h.opts),
		strand:  server.NewStrand(h.pool),
		token:   token,
		span:    span,
	}
	if err := c.strand.Dispatch(c.handshake); err != nil {
		c.finish(err, "dispatch")
	}
}

// asyncConn is the per-connection state machine:
//
//	Constructed -> Handshaking -> ReadingFrame <-> WritingFrame -> Closed
//
// The strand serializes all transitions; the read pump goroutine only parks
// on the socket and feeds completions back onto the strand.
type asyncConn struct {
	handler *AsyncHandler
	id      uint64
	remote  net.Addr
	stream  *Stream
	strand  *server.Strand
	token   *server.Token
	span    trace.Span

	closeOnce sync.Once
}

// handshake runs on the strand.
func (c *asyncConn) handshake() {
	if err := c.stream.Handshake(); err != nil {
		if !errors.Is(err, ErrPeerClosed) {
			c.handler.metrics.HandshakeError()
		}
		c.finish(err, "handshake")
		return
	}
	go c.readPump()
}

// readPump parks on the socket awaiting the next complete message, then
// dispatches the echo write onto the strand and waits for it to finish
// before issuing the next read. The parked goroutine is this design's
// outstanding read operation; processing stays on the pool.
func (c *asyncConn) readPump() {
	echoed := make(chan error, 1)
	for {
		payload, op, err := c.stream.ReadMessage()
		if err != nil {
			c.finish(err, "read")
			return
		}
		werr := c.strand.Dispatch(func() {
			echoed <- c.echo(op, payload)
		})
		if werr != nil {
			c.finish(werr, "dispatch")
			return
		}
		if werr := <-echoed; werr != nil {
			c.finish(werr, "write")
			return
		}
		// The write stage completed, so the read buffer may be reused.
	}
}

// echo runs on the strand: mirror the binary/text flag and write the
// payload back unmodified.
func (c *asyncConn) echo(op ws.OpCode, payload []byte) error {
	if err := c.stream.WriteMessage(op, payload); err != nil {
		return err
	}
	c.handler.metrics.MessageEchoed(len(payload))
	return nil
}

// finish moves the connection to its terminal state exactly once: close the
// stream, report the failure unless the peer simply closed, release the
// keep-alive token.
func (c *asyncConn) finish(err error, op string) {
	c.closeOnce.Do(func() {
		c.stream.Close()
		if err != nil && !errors.Is(err, ErrPeerClosed) {
			c.handler.logger.Error("connection failed",
				"id", c.id, "remote", c.remote, "op", op, "error", err)
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, op)
		}
		c.span.End()
		c.handler.metrics.ConnClosed()
		c.token.Release()
	})
}

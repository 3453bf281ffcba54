package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Port is one bound, listening TCP endpoint together with its re-arming
// accept loop and its connection handler. Ports are created by
// Instance.AddPort and owned by the creating Instance; Close may also be
// called directly for targeted closure of a single port.
type Port struct {
	endpoint string
	ln       net.Listener
	handler  Handler
	ids      *IDGenerator
	metrics  *Metrics
	logger   *slog.Logger

	ctx        context.Context
	backoffMax time.Duration

	closeOnce sync.Once
	closed    chan struct{} // closed by Close
	done      chan struct{} // closed when the accept loop exits
}

// openPort opens, binds and listens on endpoint with address reuse enabled
// so the port can be rebound immediately after a restart. Any failure is
// returned as a *BindError and leaves no state behind.
func openPort(ctx context.Context, endpoint string, h Handler, ids *IDGenerator, m *Metrics, logger *slog.Logger, backoffMax time.Duration) (*Port, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", endpoint)
	if err != nil {
		return nil, &BindError{Endpoint: endpoint, Op: "listen", Err: err}
	}
	return &Port{
		endpoint:   endpoint,
		ln:         ln,
		handler:    h,
		ids:        ids,
		metrics:    m,
		logger:     logger.With("component", "port", "port", ln.Addr().String()),
		ctx:        ctx,
		backoffMax: backoffMax,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Addr returns the actual bound endpoint. This differs from the configured
// endpoint when the port was opened on ":0".
func (p *Port) Addr() net.Addr {
	return p.ln.Addr()
}

// Close closes the listening socket. The pending accept completes with an
// operation-aborted condition, which terminates the accept loop without
// re-arming; connections already handed to the handler are unaffected.
// Close is idempotent and safe from any goroutine, including pool workers.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		if err := p.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			p.logger.Warn("listener close failed", "error", err)
		}
		p.metrics.PortClosed()
		p.logger.Info("port closed")
	})
}

// start arms the first accept.
func (p *Port) start() {
	p.metrics.PortOpened()
	p.logger.Info("port listening")
	go p.acceptLoop()
}

// acceptLoop keeps exactly one accept outstanding: each iteration issues one
// accept, runs its completion, and only then re-arms. Transient errors are
// never fatal to the port; the loop ends only on the operation-aborted
// completion produced by Close.
func (p *Port) acceptLoop() {
	defer close(p.done)

	var delay time.Duration
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if p.isClosed() || errors.Is(err, net.ErrClosed) {
				// Expected result of Close: the normal shutdown path.
				return
			}
			p.metrics.AcceptError(p.endpoint)
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > p.backoffMax {
				delay = p.backoffMax
			}
			p.logger.Warn("accept failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-p.closed:
				return
			}
			continue
		}
		delay = 0

		id := p.ids.Next()
		p.metrics.ConnAccepted(p.endpoint)
		p.dispatch(id, conn)
		// Loop re-arms the accept regardless of the handler outcome, so a
		// single bad connection never stops future accepts.
	}
}

// dispatch hands the accepted connection to the handler with panic
// isolation. Ownership of conn transfers to the handler; on panic the
// framework closes it since the handler can no longer be trusted to.
func (p *Port) dispatch(id uint64, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic", "id", id, "remote", conn.RemoteAddr(), "panic", r)
			conn.Close()
			p.metrics.ConnClosed()
		}
	}()
	p.handler.OnAccept(p.ctx, id, conn, conn.RemoteAddr())
}

func (p *Port) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

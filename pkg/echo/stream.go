package echo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrPeerClosed is returned by Stream operations when the peer has closed
// the WebSocket. It is the expected steady-state termination of a
// connection, not a failure, and handlers suppress it from error reporting.
var ErrPeerClosed = errors.New("echo: peer closed")

// ErrMessageTooBig is returned when an incoming message exceeds the
// configured maximum size.
var ErrMessageTooBig = errors.New("echo: message exceeds maximum size")

// DefaultMaxMessageSize caps incoming messages at 64 MiB unless overridden.
const DefaultMaxMessageSize int64 = 64 * 1024 * 1024

// StreamConfigurator is invoked against every new Stream after construction
// and before any I/O, e.g. to adjust limits or extension negotiation for
// all connections of a port.
type StreamConfigurator func(*Stream)

// Options configure the streams created by a handler. The zero value takes
// defaults.
type Options struct {
	// MaxMessageSize caps incoming message payloads.
	// Default: DefaultMaxMessageSize.
	MaxMessageSize int64

	// CheckUTF8 validates text message payloads during reads.
	// Default: true (set via the option constructors; the handlers always
	// apply defaultOptions first).
	CheckUTF8 bool

	// ServerName overrides the Server header value injected into handshake
	// responses. Default: the handler variant's name.
	ServerName string

	// Configure, if set, runs against every new Stream before any I/O.
	Configure StreamConfigurator
}

// Option mutates handler Options.
type Option func(*Options)

// WithMaxMessageSize caps incoming message payloads at n bytes.
func WithMaxMessageSize(n int64) Option {
	return func(o *Options) { o.MaxMessageSize = n }
}

// WithUTF8Check toggles UTF-8 validation of text messages.
func WithUTF8Check(enabled bool) Option {
	return func(o *Options) { o.CheckUTF8 = enabled }
}

// WithServerName overrides the Server header value injected into handshake
// responses.
func WithServerName(name string) Option {
	return func(o *Options) { o.ServerName = name }
}

// WithStreamConfigurator registers a callback run against every new Stream
// before any I/O begins.
func WithStreamConfigurator(fn StreamConfigurator) Option {
	return func(o *Options) { o.Configure = fn }
}

func defaultOptions(opts []Option) Options {
	o := Options{
		MaxMessageSize: DefaultMaxMessageSize,
		CheckUTF8:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stream wraps one accepted connection with the WebSocket protocol codec.
// It owns the socket exclusively from construction until Close.
//
// Reads assemble one complete message at a time into a buffer that is
// reused across reads; the returned payload is only valid until the next
// ReadMessage call. Control frames that arrive between or inside messages
// are answered inline. All writes to the underlying connection — echoed
// messages and control replies alike — are serialized by an internal mutex,
// though message ordering is the caller's concern (the handlers alternate
// read and write stages, so there is never more than one echo in flight).
type Stream struct {
	conn       net.Conn
	serverName string
	maxMessage int64

	rd   *wsutil.Reader
	ctrl wsutil.FrameHandlerFunc
	buf  bytes.Buffer

	wmu sync.Mutex
}

// NewStream wraps conn. serverName is injected as the Server header of the
// handshake response, identifying the handler variant to the peer; an
// Options.ServerName override takes precedence.
func NewStream(conn net.Conn, serverName string, opts Options) *Stream {
	if opts.ServerName != "" {
		serverName = opts.ServerName
	}
	s := &Stream{
		conn:       conn,
		serverName: serverName,
		maxMessage: opts.MaxMessageSize,
	}
	s.ctrl = wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	s.rd = &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      opts.CheckUTF8,
		OnIntermediate: s.controlLocked,
	}
	if opts.Configure != nil {
		opts.Configure(s)
	}
	return s
}

// SetMaxMessageSize adjusts the incoming message cap; intended for use from
// a StreamConfigurator.
func (s *Stream) SetMaxMessageSize(n int64) {
	s.maxMessage = n
}

// Conn exposes the underlying connection for configurators that need to set
// socket-level options.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

// Handshake performs the server side of the WebSocket upgrade over the raw
// byte stream, injecting the Server identification header into the 101
// response. A peer that disconnects before completing the upgrade surfaces
// as ErrPeerClosed.
func (s *Stream) Handshake() error {
	u := ws.Upgrader{
		OnBeforeUpgrade: func() (ws.HandshakeHeader, error) {
			return ws.HandshakeHeaderString("Server: " + s.serverName + "\r\n"), nil
		},
	}
	if _, err := u.Upgrade(s.conn); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// ReadMessage reads one complete message into the reusable buffer and
// returns its payload together with its opcode (ws.OpText or ws.OpBinary).
// A close frame from the peer, or the local socket being closed, returns
// ErrPeerClosed.
func (s *Stream) ReadMessage() ([]byte, ws.OpCode, error) {
	s.buf.Reset()
	for {
		hdr, err := s.rd.NextFrame()
		if err != nil {
			return nil, 0, s.mapErr(err)
		}
		if hdr.OpCode.IsControl() {
			if err := s.controlLocked(hdr, s.rd); err != nil {
				return nil, 0, s.mapErr(err)
			}
			continue
		}
		if s.maxMessage > 0 && hdr.Length > s.maxMessage {
			return nil, 0, ErrMessageTooBig
		}

		limit := io.Reader(s.rd)
		if s.maxMessage > 0 {
			limit = io.LimitReader(s.rd, s.maxMessage+1)
		}
		n, err := s.buf.ReadFrom(limit)
		if err != nil {
			return nil, 0, s.mapErr(err)
		}
		if s.maxMessage > 0 && n > s.maxMessage {
			return nil, 0, ErrMessageTooBig
		}
		return s.buf.Bytes(), hdr.OpCode, nil
	}
}

// WriteMessage frames payload back to the peer with op mirrored from the
// message it echoes.
func (s *Stream) WriteMessage(op ws.OpCode, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := wsutil.WriteServerMessage(s.conn, op, payload); err != nil {
		return s.mapErr(err)
	}
	return nil
}

// Close closes the underlying connection. Idempotent at the socket level.
func (s *Stream) Close() error {
	err := s.conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// controlLocked answers one control frame while holding the write mutex so
// control replies never interleave with echoed message frames.
func (s *Stream) controlLocked(hdr ws.Header, rd io.Reader) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.ctrl(hdr, rd)
}

// mapErr normalizes codec errors: any close handshake from the peer and any
// use of our own already-closed socket become ErrPeerClosed.
func (s *Stream) mapErr(err error) error {
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w (status %d)", ErrPeerClosed, ce.Code)
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrPeerClosed
	}
	return err
}

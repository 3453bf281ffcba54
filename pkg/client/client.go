// Package client provides a minimal WebSocket echo client used by tests,
// examples and load tools. It dials a server endpoint, sends text or binary
// messages, and performs a clean close handshake.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one client-side WebSocket connection.
type Conn struct {
	ws     *websocket.Conn
	header http.Header // handshake response headers
}

// Dial connects to the echo server at host:port and completes the WebSocket
// handshake.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: endpoint, Path: "/"}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", endpoint, err)
	}
	return &Conn{ws: ws, header: resp.Header}, nil
}

// ServerHeader returns the Server header from the handshake response, which
// the echo handlers use to identify their variant.
func (c *Conn) ServerHeader() string {
	return c.header.Get("Server")
}

// SendText sends one text message.
func (c *Conn) SendText(payload []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// SendBinary sends one binary message.
func (c *Conn) SendBinary(payload []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

// Recv reads the next message and reports whether it was binary.
func (c *Conn) Recv() (payload []byte, binary bool, err error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	return data, mt == websocket.BinaryMessage, nil
}

// SetReadDeadline bounds the next Recv.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close performs the closing handshake: it sends a normal-closure frame,
// waits briefly for the peer's acknowledgement, then closes the socket.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		return c.ws.Close()
	}
	c.ws.SetReadDeadline(deadline)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			break
		}
	}
	return c.ws.Close()
}

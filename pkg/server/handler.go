package server

import (
	"context"
	"net"
)

// Handler is the per-port unit of behavior invoked once for every accepted
// connection. The handler takes exclusive ownership of conn: it must close
// the connection when done, and the framework never touches it again after
// OnAccept is invoked.
//
// OnAccept runs on the port's accept completion path, so it must not block
// for the lifetime of the connection — long-running work belongs on a pool
// strand or a dedicated goroutine. A panic in OnAccept is isolated and does
// not stop the port from accepting further connections.
type Handler interface {
	OnAccept(ctx context.Context, id uint64, conn net.Conn, remote net.Addr)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, id uint64, conn net.Conn, remote net.Addr)

// OnAccept calls f.
func (f HandlerFunc) OnAccept(ctx context.Context, id uint64, conn net.Conn, remote net.Addr) {
	f(ctx, id, conn, remote)
}

// Package server provides a generic multi-port TCP server framework built
// around a shared worker pool.
//
// The framework accepts inbound connections on any number of independently
// configured listening ports and hands each accepted connection to a
// pluggable per-port Handler. Ports can be opened and closed at arbitrary
// times without tearing down the rest of the server.
//
// # Architecture
//
// The runtime consists of a few small components:
//
//   - Pool: a fixed set of worker goroutines draining a shared task queue.
//     The pool stays alive as long as at least one keep-alive Token is held,
//     independent of how many tasks are pending.
//   - Strand: a serialized execution context bound to a Pool. Tasks
//     dispatched to one strand run one at a time, in dispatch order, on some
//     pool worker — never concurrently with each other.
//   - Port: one bound listening socket plus its re-arming accept loop.
//     Exactly one accept is outstanding per port at any time; the next
//     accept is issued only after the previous completion has run.
//   - Instance: owns the Pool, an ordered registry of Ports, and the
//     lifecycle operations AddPort, Stop and Shutdown.
//   - IDGenerator: a process-wide monotonically increasing counter assigning
//     a unique id to every accepted connection.
//
// # Lifecycle
//
// An Instance is created once with a fixed worker count and holds a
// keep-alive token from construction. Stop closes every registered port's
// listener and releases that token; it returns immediately and never severs
// connections already handed to handlers. Handlers that need the pool beyond
// the accept callback retain their own tokens, so the pool drains only after
// the last connection finishes. Shutdown is Stop plus a context-bounded wait
// for the drain.
//
// # Thread safety
//
// Listening sockets are owned by their Port and closed through an idempotent
// Close. Each accepted connection is owned by exactly one handler invocation.
// The Pool and Strand types are safe for concurrent use from any goroutine.
package server

// Package echo provides WebSocket echo connection handlers for the server
// framework, in two concurrency disciplines behind one handler contract.
//
// AsyncHandler is event-driven: every stage of a connection — handshake,
// echo write, teardown — runs as a callback on a per-connection strand over
// the shared worker pool, so stages execute strictly in order and no two
// callbacks for one connection ever run concurrently. SyncHandler is
// thread-per-connection: a detached goroutine owns the socket and performs
// the whole handshake/read/write loop with blocking calls.
//
// Both variants speak WebSocket through Stream, a thin codec wrapper over
// github.com/gobwas/ws that upgrades the raw accepted connection, reads one
// complete message at a time into a reusable buffer, answers interleaved
// control frames, and mirrors the binary/text flag of each received message
// on the echoed reply. A peer closing its side surfaces as ErrPeerClosed
// and terminates the connection silently; every other failure is reported
// once with the connection id, remote endpoint and failing operation.
package echo

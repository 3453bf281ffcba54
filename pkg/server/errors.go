package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common framework error conditions.
var (
	// ErrInvalidWorkers is returned when an Instance is constructed with a
	// worker count below one. This is fatal at construction.
	ErrInvalidWorkers = errors.New("server: worker count must be at least 1")

	// ErrPoolClosed is returned when a task is submitted to a pool whose
	// keep-alive tokens have all been released.
	ErrPoolClosed = errors.New("server: worker pool closed")

	// ErrInstanceStopped is returned when AddPort is called after Stop.
	ErrInstanceStopped = errors.New("server: instance stopped")
)

// BindError reports a failure to open, bind or listen on an endpoint.
// It is returned synchronously from AddPort and registers nothing: the
// caller decides whether to retry or skip that port.
type BindError struct {
	Endpoint string // requested address:port
	Op       string // failing operation, e.g. "listen"
	Err      error  // underlying error
}

// Error returns the error message with endpoint context.
func (e *BindError) Error() string {
	return fmt.Sprintf("server: bind %s: %s: %v", e.Endpoint, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *BindError) Unwrap() error {
	return e.Err
}

package server

import (
	"context"
	"log/slog"
	"sync"
)

// Instance owns the worker pool and an ordered registry of active Ports.
// It is created once with a fixed worker count, accumulates ports via
// AddPort, and is torn down once via Stop (or Shutdown, which also waits
// for the pool to drain).
type Instance struct {
	cfg     *Config
	logger  *slog.Logger
	pool    *Pool
	keep    *Token // the instance's own keep-alive reference, released by Stop
	ids     *IDGenerator
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ports   []*Port // insertion order, never reordered
	stopped bool

	stopOnce sync.Once
}

// NewInstance starts the worker pool and returns an instance holding a
// keep-alive token, so pool workers block even with no I/O outstanding.
// A worker count below one fails with ErrInvalidWorkers; a zero count takes
// the default.
func NewInstance(cfg *Config) (*Instance, error) {
	if cfg != nil && cfg.Workers < 0 {
		return nil, ErrInvalidWorkers
	}
	cfg = cfg.withDefaults()
	if cfg.Workers < 1 {
		return nil, ErrInvalidWorkers
	}

	logger := cfg.Logger.With("component", "server")
	pool := NewPool(cfg.Workers, cfg.Logger)
	keep, err := pool.Retain()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		keep:    keep,
		ids:     cfg.IDs,
		metrics: NewMetrics(cfg.MetricsRegistry),
		ctx:     ctx,
		cancel:  cancel,
	}
	logger.Info("instance started", "workers", cfg.Workers)
	return inst, nil
}

// Pool returns the instance's worker pool, for handlers that schedule work
// or retain keep-alive tokens of their own.
func (i *Instance) Pool() *Pool {
	return i.pool
}

// IDs returns the connection id generator shared by this instance's ports.
func (i *Instance) IDs() *IDGenerator {
	return i.ids
}

// Metrics returns the instance's metric bundle.
func (i *Instance) Metrics() *Metrics {
	return i.metrics
}

// Logger returns the instance's structured logger.
func (i *Instance) Logger() *slog.Logger {
	return i.cfg.Logger
}

// AddPort opens a listening socket on endpoint, registers a Port driving h,
// and arms its first accept. On any open/bind/listen failure it returns a
// *BindError and registers nothing. The returned handle may be used for
// targeted closure of just this port.
func (i *Instance) AddPort(h Handler, endpoint string) (*Port, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return nil, ErrInstanceStopped
	}

	p, err := openPort(i.ctx, endpoint, h, i.ids, i.metrics, i.cfg.Logger, i.cfg.AcceptBackoffMax)
	if err != nil {
		return nil, err
	}
	i.ports = append(i.ports, p)
	p.start()
	return p, nil
}

// Ports returns the registered ports in insertion order.
func (i *Instance) Ports() []*Port {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Port, len(i.ports))
	copy(out, i.ports)
	return out
}

// Stop requests close of every registered port's listening socket and
// releases the instance's keep-alive token. It returns immediately: pending
// accepts complete with the operation-aborted condition, idle pool workers
// exit once outstanding work and handler keep-alives drain, and connections
// already handed to handlers run to natural completion. Stop is idempotent
// and safe from any goroutine, including pool workers.
func (i *Instance) Stop() {
	i.stopOnce.Do(func() {
		i.mu.Lock()
		i.stopped = true
		ports := i.ports
		i.ports = nil
		i.mu.Unlock()

		for _, p := range ports {
			p.Close()
		}
		i.cancel()
		i.keep.Release()
		i.logger.Info("instance stopped", "ports_closed", len(ports))
	})
}

// Join blocks until every pool worker has exited, which happens only after
// Stop and after the last handler releases its keep-alive token. Do not
// call Join from a pool worker.
func (i *Instance) Join() {
	i.pool.Join()
}

// Shutdown stops the instance and waits for the pool to drain, bounded by
// ctx. It returns ctx.Err if connections were still in flight when the
// context expired.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.Stop()

	done := make(chan struct{})
	go func() {
		i.pool.Join()
		close(done)
	}()

	select {
	case <-done:
		i.logger.Info("instance shutdown complete")
		return nil
	case <-ctx.Done():
		i.logger.Warn("shutdown abandoned with connections in flight", "error", ctx.Err())
		return ctx.Err()
	}
}

package server

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Pool is a fixed-size pool of worker goroutines all draining one shared
// task queue. It is the framework's event loop: accept completions, strand
// callbacks and close requests all execute on pool workers.
//
// The pool's lifetime is governed by keep-alive Tokens rather than by the
// number of pending tasks. Workers keep running while at least one token is
// held, even with an empty queue; once the last token is released they drain
// whatever is queued and exit. Submitting after that returns ErrPoolClosed.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue // of func()
	tokens  int
	closed  bool
	workers sync.WaitGroup
}

// Token is a keep-alive reference on a Pool. Release is idempotent.
type Token struct {
	pool *Pool
	once sync.Once
}

// Release drops the keep-alive reference. When the last token is released
// the pool drains its queue and its workers exit.
func (t *Token) Release() {
	t.once.Do(func() {
		t.pool.release()
	})
}

// NewPool starts workers goroutines and returns the pool holding zero
// tokens. Callers must Retain before the pool is useful; NewInstance does
// this on behalf of the server.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger: logger.With("component", "pool"),
		tasks:  queue.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Retain acquires a keep-alive token. It fails with ErrPoolClosed once the
// pool has begun shutting down.
func (p *Pool) Retain() (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	p.tokens++
	return &Token{pool: p}, nil
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens--
	if p.tokens == 0 {
		p.closed = true
		p.cond.Broadcast()
	}
}

// Submit enqueues fn for execution on some pool worker. Tasks submitted
// from any goroutine execute in queue order but may run concurrently with
// each other; use a Strand for per-object serialization.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.tasks.Add(fn)
	p.cond.Signal()
	return nil
}

// Join blocks until every worker has exited. Workers exit only after the
// last keep-alive token is released and the queue has drained, so calling
// Join from a pool worker deadlocks; call it from the owning goroutine.
func (p *Pool) Join() {
	p.workers.Wait()
}

func (p *Pool) work() {
	defer p.workers.Done()
	p.mu.Lock()
	for {
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			// Closed and drained.
			p.mu.Unlock()
			return
		}
		fn := p.tasks.Remove().(func())
		p.mu.Unlock()
		p.run(fn)
		p.mu.Lock()
	}
}

// run executes one task with panic isolation so a bad task never kills a
// worker goroutine.
func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic", "panic", r)
		}
	}()
	fn()
}

package server

import (
	"sync"

	"github.com/eapache/queue"
)

// Strand is a serialized execution context over a Pool: functions dispatched
// to one strand run one at a time and in dispatch order on pool workers,
// even though the pool itself is concurrent. A connection binds all of its
// callbacks to one strand so that no two of them ever execute at once.
type Strand struct {
	pool *Pool

	mu      sync.Mutex
	pending *queue.Queue // of func()
	running bool
}

// NewStrand returns a strand bound to pool.
func NewStrand(pool *Pool) *Strand {
	return &Strand{
		pool:    pool,
		pending: queue.New(),
	}
}

// Dispatch queues fn for serialized execution. It never runs fn inline.
// Dispatch fails with ErrPoolClosed only when the pool has fully shut down;
// callers holding a keep-alive token cannot observe that.
func (s *Strand) Dispatch(fn func()) error {
	s.mu.Lock()
	s.pending.Add(fn)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.pool.Submit(s.drain); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// drain runs queued functions until the strand is empty. It executes on a
// single pool worker at a time, which is what provides the serialization.
func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if s.pending.Length() == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.pending.Remove().(func())
		s.mu.Unlock()
		fn()
	}
}

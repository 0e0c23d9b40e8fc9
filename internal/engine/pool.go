package engine

import (
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when none is configured. It matches
// the remote service's usual per-user concurrency allowance.
const DefaultWorkers = 10

// Pool is a bounded worker pool with an explicit lifecycle: create it at run
// start, submit with Go, then Wait to drain it.
type Pool struct {
	g    errgroup.Group
	size int
}

// NewPool returns a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	p := &Pool{size: size}
	p.g.SetLimit(size)
	return p
}

// Size is the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Go runs f on a worker. It blocks while all workers are busy, which keeps
// the reader from running ahead of the remote calls.
func (p *Pool) Go(f func()) {
	p.g.Go(func() error {
		f()
		return nil
	})
}

// Wait blocks until every submitted task has returned. The pool must not be
// used afterwards.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

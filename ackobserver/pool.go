package ackobserver

import "sync"

// Pool is the process-wide concurrent freelist described in spec.md
// section 9: outstanding handles remain valid until their referent
// registry drops them, regardless of what Pool itself does in the
// meantime (sync.Pool never invalidates a value a caller still holds,
// it only stops making the backing memory available for later Get
// calls once Put is never invoked on it again).
type Pool struct {
	pool sync.Pool
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	p := &Pool{}
	p.pool.New = func() any { return New() }
	return p
}

// Get returns an Observer in the Wait state, either freshly allocated
// or recycled from a prior Put.
func (p *Pool) Get() *Observer {
	o := p.pool.Get().(*Observer)
	o.Confirm()
	return o
}

// Put returns o to the pool. Callers must not use o afterwards.
func (p *Pool) Put(o *Observer) {
	p.pool.Put(o)
}

// Package keycond implements a condition variable keyed by an arbitrary
// comparable identity, so a single mutex can guard many independent wait
// queues. The consensus core uses one instance keyed by PeerId in
// PeerManager, where each peer's replication worker parks between
// sends until its heartbeat interval elapses or Nudge wakes it.
package keycond

import (
	"context"
	"sync"
)

// Cond is a condition variable for a set of keys. All methods except New
// must be called while holding mut.
type Cond[T comparable] struct {
	_ noCopy

	mut     *sync.Mutex
	waitSet map[T][]chan struct{}
}

// New returns a Cond guarded by mut. mut must be held by the caller for
// every call into Wait, Signal, and Broadcast.
func New[T comparable](mut *sync.Mutex) *Cond[T] {
	return &Cond[T]{
		mut:     mut,
		waitSet: map[T][]chan struct{}{},
	}
}

// Wait releases mut, blocks until Signal(key), Broadcast, or ctx is done,
// then reacquires mut before returning.
func (c *Cond[T]) Wait(ctx context.Context, key T) error {
	signalCh := make(chan struct{})
	c.waitSet[key] = append(c.waitSet[key], signalCh)

	c.mut.Unlock()

	select {
	case <-signalCh:
		c.mut.Lock()
		return nil

	case <-ctx.Done():
		c.mut.Lock()
		c.Signal(key)
		return ctx.Err()
	}
}

// Signal wakes every waiter currently blocked on key.
func (c *Cond[T]) Signal(key T) {
	waiters := c.waitSet[key]
	delete(c.waitSet, key)
	for _, ch := range waiters {
		close(ch)
	}
}

// Broadcast wakes every waiter on every key.
func (c *Cond[T]) Broadcast() {
	for key := range c.waitSet {
		c.Signal(key)
	}
}

// NumWaitKeys reports how many distinct keys currently have a waiter.
// Exposed for tests asserting that a wait actually parked.
func (c *Cond[T]) NumWaitKeys() int {
	return len(c.waitSet)
}

type noCopy struct{}

var _ sync.Locker = &noCopy{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

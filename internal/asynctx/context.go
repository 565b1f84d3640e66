// Package asynctx provides a cancellable handle for background work spawned
// by the consensus core (the keyrunner workers behind PeerManager's peer
// replication) that is distinct from context.Context so that
// cancellation can be triggered without plumbing a context through every
// call site that merely reads state under lock_.
package asynctx

import "context"

// Handle is a cancellable unit of background work. Each peer worker runs
// under one Handle; cancelling it is how PeerManager tears a worker down
// on stepdown or peer removal.
type Handle interface {
	Context() context.Context
	Cancel()
	Err() error
}

// New creates a Handle derived from context.Background().
func New() Handle {
	return From(context.Background())
}

// From creates a Handle derived from ctx, so callers can propagate
// request-scoped deadlines (e.g. from Shutdown) into spawned workers.
func From(ctx context.Context) Handle {
	inner, cancel := context.WithCancel(ctx)
	return &handle{ctx: inner, cancel: cancel}
}

type handle struct {
	ctx    context.Context
	cancel func()
}

func (h *handle) Context() context.Context { return h.ctx }
func (h *handle) Cancel()                  { h.cancel() }
func (h *handle) Err() error                { return h.ctx.Err() }

// Package keyrunner manages a set of long-running goroutines keyed by an
// arbitrary identity, starting one when a key first appears, restarting it
// when its associated value changes, and cancelling it when the key is
// removed. PeerManager is built directly on top of this: one runner per
// PeerId, upserted with the peer's current membership info whenever the
// committed or pending RaftConfig changes, so a peer demotion, removal,
// or address change restarts exactly the workers that need it.
package keyrunner

import (
	"sync"

	"github.com/tabletraft/raft/internal/asynctx"
	"github.com/tabletraft/raft/internal/waitgroup"
)

// Runner manages goroutines for values of type V keyed by K. getKey must be
// a pure function of V; handler runs once per (re)start and should return
// when ctx is cancelled.
type Runner[K comparable, V comparable] struct {
	getKey  func(V) K
	handler func(ctx asynctx.Handle, val V)

	mut        sync.Mutex
	activeKeys map[K]struct{}
	running    map[K]*runThread[V]

	wg *waitgroup.WaitGroup
}

// New creates a Runner. handler is invoked in its own goroutine for each
// active key; when Upsert changes or removes that key's value, the
// previous handler's context is cancelled and, if the key is still
// active with a new value, handler is invoked again.
func New[K comparable, V comparable](
	getKey func(V) K,
	handler func(ctx asynctx.Handle, val V),
) *Runner[K, V] {
	return &Runner[K, V]{
		getKey:     getKey,
		handler:    handler,
		activeKeys: map[K]struct{}{},
		running:    map[K]*runThread[V]{},
		wg:         waitgroup.New(),
	}
}

type runThread[V comparable] struct {
	val    V
	cancel func()
}

type startEntry[V comparable] struct {
	val V
	ctx asynctx.Handle
}

// Upsert replaces the active set with values. Keys missing from values are
// cancelled; keys present with an unchanged value are left running; keys
// present with a changed value are restarted. It returns true if anything
// changed.
func (r *Runner[K, V]) Upsert(values []V) bool {
	startList, updated := r.upsertInternal(values)

	for _, entry := range startList {
		e := entry
		r.wg.Go(func() {
			r.runLoop(e)
		})
	}

	return updated
}

// Shutdown cancels every active key and blocks until all handlers return.
func (r *Runner[K, V]) Shutdown() {
	r.upsertInternal(nil)
	r.wg.Wait()
}

// ActiveKeys reports the set of keys currently expected to be running, for
// tests and status reporting.
func (r *Runner[K, V]) ActiveKeys() []K {
	r.mut.Lock()
	defer r.mut.Unlock()

	keys := make([]K, 0, len(r.activeKeys))
	for k := range r.activeKeys {
		keys = append(keys, k)
	}
	return keys
}

func (r *Runner[K, V]) runLoop(entry startEntry[V]) {
	for {
		r.handler(entry.ctx, entry.val)

		key := r.getKey(entry.val)

		next, shouldContinue := r.finishInternal(key)
		if !shouldContinue {
			return
		}
		entry = next
	}
}

func (r *Runner[K, V]) upsertInternal(values []V) ([]startEntry[V], bool) {
	r.mut.Lock()
	defer r.mut.Unlock()

	var updated bool
	var startList []startEntry[V]

	newSet := make(map[K]struct{}, len(values))
	for _, val := range values {
		newSet[r.getKey(val)] = struct{}{}
	}

	var deleteKeys []K
	for key := range r.activeKeys {
		if _, ok := newSet[key]; ok {
			continue
		}
		updated = true
		deleteKeys = append(deleteKeys, key)
		r.running[key].cancel()
	}
	for _, key := range deleteKeys {
		delete(r.activeKeys, key)
	}

	for _, val := range values {
		key := r.getKey(val)

		if _, existed := r.activeKeys[key]; existed {
			thread := r.running[key]
			if thread.val != val {
				updated = true
				thread.val = val
				thread.cancel()
			}
			continue
		}

		r.activeKeys[key] = struct{}{}
		updated = true

		if thread, ok := r.running[key]; ok {
			// a cancelled handler hasn't observed its cancellation yet;
			// it will pick up the new value in finishInternal.
			thread.val = val
			continue
		}

		handle := asynctx.New()
		r.running[key] = &runThread[V]{val: val, cancel: handle.Cancel}
		startList = append(startList, startEntry[V]{val: val, ctx: handle})
	}

	return startList, updated
}

func (r *Runner[K, V]) finishInternal(key K) (startEntry[V], bool) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if _, ok := r.activeKeys[key]; !ok {
		delete(r.running, key)
		return startEntry[V]{}, false
	}

	thread := r.running[key]
	handle := asynctx.New()
	thread.cancel = handle.Cancel

	return startEntry[V]{val: thread.val, ctx: handle}, true
}

package keyrunner

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tabletraft/raft/internal/asynctx"
)

type peerVal struct {
	id   string
	term uint64
}

func getID(v peerVal) string { return v.id }

func TestRunner_StartsOneGoroutinePerKey(t *testing.T) {
	var mut sync.Mutex
	running := map[string]uint64{}

	r := New(getID, func(ctx asynctx.Handle, val peerVal) {
		mut.Lock()
		running[val.id] = val.term
		mut.Unlock()

		<-ctx.Context().Done()

		mut.Lock()
		delete(running, val.id)
		mut.Unlock()
	})

	r.Upsert([]peerVal{{id: "a", term: 1}, {id: "b", term: 1}})
	time.Sleep(10 * time.Millisecond)

	mut.Lock()
	assert.Equal(t, map[string]uint64{"a": 1, "b": 1}, running)
	mut.Unlock()

	r.Shutdown()

	mut.Lock()
	assert.Empty(t, running)
	mut.Unlock()
}

func TestRunner_UpsertRestartsChangedValue(t *testing.T) {
	var mut sync.Mutex
	seen := map[string][]uint64{}

	r := New(getID, func(ctx asynctx.Handle, val peerVal) {
		mut.Lock()
		seen[val.id] = append(seen[val.id], val.term)
		mut.Unlock()
		<-ctx.Context().Done()
	})

	r.Upsert([]peerVal{{id: "a", term: 1}})
	time.Sleep(10 * time.Millisecond)

	r.Upsert([]peerVal{{id: "a", term: 2}})
	time.Sleep(10 * time.Millisecond)

	r.Shutdown()

	mut.Lock()
	defer mut.Unlock()
	assert.Equal(t, []uint64{1, 2}, seen["a"])
}

func TestRunner_UpsertRemovesKeyStopsGoroutine(t *testing.T) {
	var mut sync.Mutex
	running := map[string]bool{}

	r := New(getID, func(ctx asynctx.Handle, val peerVal) {
		mut.Lock()
		running[val.id] = true
		mut.Unlock()
		<-ctx.Context().Done()
		mut.Lock()
		running[val.id] = false
		mut.Unlock()
	})

	r.Upsert([]peerVal{{id: "a", term: 1}, {id: "b", term: 1}})
	time.Sleep(10 * time.Millisecond)

	r.Upsert([]peerVal{{id: "a", term: 1}})
	time.Sleep(10 * time.Millisecond)

	mut.Lock()
	assert.Equal(t, []string{"a"}, r.ActiveKeys())
	assert.Equal(t, map[string]bool{"a": true, "b": false}, running)
	mut.Unlock()

	r.Shutdown()
}

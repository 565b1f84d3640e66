package keycond

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCond_SignalWakesOnlyMatchingKey(t *testing.T) {
	var mut sync.Mutex
	c := New[string](&mut)

	woke := make(chan string, 2)

	wait := func(key string) {
		mut.Lock()
		defer mut.Unlock()
		err := c.Wait(context.Background(), key)
		if err == nil {
			woke <- key
		}
	}

	go wait("a")
	go wait("b")

	time.Sleep(10 * time.Millisecond)

	mut.Lock()
	assert.Equal(t, 2, c.NumWaitKeys())
	c.Signal("a")
	mut.Unlock()

	select {
	case key := <-woke:
		assert.Equal(t, "a", key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}

	select {
	case <-woke:
		t.Fatal("key b should not have woken")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCond_WaitReturnsErrorOnContextDone(t *testing.T) {
	var mut sync.Mutex
	c := New[int](&mut)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mut.Lock()
	err := c.Wait(ctx, 1)
	mut.Unlock()

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCond_Broadcast(t *testing.T) {
	var mut sync.Mutex
	c := New[int](&mut)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		key := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			mut.Lock()
			defer mut.Unlock()
			_ = c.Wait(context.Background(), key)
		}()
	}

	time.Sleep(10 * time.Millisecond)

	mut.Lock()
	assert.Equal(t, 3, c.NumWaitKeys())
	c.Broadcast()
	mut.Unlock()

	wg.Wait()
}

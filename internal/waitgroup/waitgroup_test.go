package waitgroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitGroup_WaitBlocksUntilAllDone(t *testing.T) {
	wg := New()

	release := make(chan struct{})
	done := make(chan struct{})

	wg.Go(func() {
		<-release
	})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Go finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Go finished")
	}
}

func TestWaitGroup_CountTracksOutstanding(t *testing.T) {
	wg := New()
	assert.Equal(t, 0, wg.Count())

	release := make(chan struct{})
	wg.Go(func() { <-release })
	assert.Equal(t, 1, wg.Count())

	close(release)
	wg.Wait()
	assert.Equal(t, 0, wg.Count())
}

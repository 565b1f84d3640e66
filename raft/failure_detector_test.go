package raft

import (
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureDetector_FiresAfterTimeoutWhenNotSnoozed(t *testing.T) {
	synctest.Run(func() {
		var fired int32
		d := NewFailureDetector(10*time.Millisecond, 100*time.Millisecond, func() {
			atomic.AddInt32(&fired, 1)
		})
		d.Enable()

		time.Sleep(50 * time.Millisecond)
		synctest.Wait()

		assert.GreaterOrEqual(t, atomic.LoadInt32(&fired), int32(1))
	})
}

func TestFailureDetector_SnoozeDelaysExpiration(t *testing.T) {
	synctest.Run(func() {
		var fired int32
		d := NewFailureDetector(20*time.Millisecond, 200*time.Millisecond, func() {
			atomic.AddInt32(&fired, 1)
		})
		d.Enable()

		for i := 0; i < 5; i++ {
			time.Sleep(10 * time.Millisecond)
			d.Snooze()
		}
		synctest.Wait()

		assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
	})
}

func TestFailureDetector_DisableStopsFiring(t *testing.T) {
	synctest.Run(func() {
		var fired int32
		d := NewFailureDetector(5*time.Millisecond, 50*time.Millisecond, func() {
			atomic.AddInt32(&fired, 1)
		})
		d.Enable()
		d.Disable()

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
	})
}

func TestFailureDetector_ExpireFiresImmediately(t *testing.T) {
	synctest.Run(func() {
		var fired int32
		d := NewFailureDetector(time.Hour, time.Hour, func() {
			atomic.AddInt32(&fired, 1)
		})
		d.Enable()
		d.Expire()
		synctest.Wait()

		assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
	})
}

func TestFailureDetector_EnableIsIdempotent(t *testing.T) {
	d := NewFailureDetector(time.Hour, time.Hour, func() {})
	d.Enable()
	assert.True(t, d.IsEnabled())
	d.Enable()
	assert.True(t, d.IsEnabled())
	d.Disable()
	assert.False(t, d.IsEnabled())
}

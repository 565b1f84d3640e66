package raft

import (
	"math/rand"
	"sync"
	"time"
)

// FailureDetector fires a callback if it is not snoozed within a
// randomized timeout window, used to trigger an election when the
// leader goes quiet (§4.4). The timeout is randomized per snooze to
// avoid synchronized elections across replicas that started at the
// same moment, and backs off exponentially across consecutive
// unsnoozed expirations so a partitioned minority doesn't spin forever
// campaigning at the fastest rate.
//
// There is no direct teacher analogue for this component — it is
// modeled on the timer-plus-jitter idiom used throughout the retrieval
// pack's election code, built from the standard library because no
// example repo carries a scheduled-timer package.
type FailureDetector struct {
	mu sync.Mutex

	baseTimeout time.Duration
	maxTimeout  time.Duration
	jitterFrac  float64

	timer       *time.Timer
	onExpire    func()
	enabled     bool
	consecutive int
	rng         *rand.Rand
}

// NewFailureDetector returns a detector that, once enabled, calls
// onExpire if not snoozed within baseTimeout plus a random extra of up
// to jitterFrac (0.5) of it, doubling the base up to maxTimeout after
// each unsnoozed expiration.
func NewFailureDetector(baseTimeout, maxTimeout time.Duration, onExpire func()) *FailureDetector {
	return &FailureDetector{
		baseTimeout: baseTimeout,
		maxTimeout:  maxTimeout,
		jitterFrac:  0.5,
		onExpire:    onExpire,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *FailureDetector) nextTimeoutLocked() time.Duration {
	backed := d.baseTimeout << d.consecutive
	if backed > d.maxTimeout || backed <= 0 {
		backed = d.maxTimeout
	}
	jitter := time.Duration(d.rng.Float64() * d.jitterFrac * float64(backed))
	return backed + jitter
}

// Enable arms the detector; it is a no-op if already enabled
// (EnsureFailureDetectorEnabled's idempotence).
func (d *FailureDetector) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		return
	}
	d.enabled = true
	d.consecutive = 0
	d.armLocked()
}

// Disable stops the detector; onExpire will not fire again until the
// next Enable.
func (d *FailureDetector) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Snooze resets the timeout window, as if the detector had just been
// enabled with a fresh timeout draw and its backoff cleared. Called on
// every message received from a live leader.
func (d *FailureDetector) Snooze() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	d.consecutive = 0
	d.armLocked()
}

// Expire forces immediate expiration, running onExpire synchronously if
// the detector is enabled.
func (d *FailureDetector) Expire() {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if enabled {
		d.fire()
	}
}

// IsEnabled reports whether the detector is currently armed.
func (d *FailureDetector) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *FailureDetector) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	timeout := d.nextTimeoutLocked()
	d.timer = time.AfterFunc(timeout, d.fire)
}

func (d *FailureDetector) fire() {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return
	}
	d.consecutive++
	d.armLocked()
	cb := d.onExpire
	d.mu.Unlock()

	if cb != nil {
		cb()
	}
}

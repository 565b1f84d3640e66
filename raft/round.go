package raft

import "sync"

// RoundStatus is the final status delivered to a ConsensusRound's
// callback, exactly once (§8 invariant 10).
type RoundStatus int

const (
	RoundCommitted RoundStatus = iota
	RoundAborted
	RoundFailed
)

func (s RoundStatus) String() string {
	switch s {
	case RoundCommitted:
		return "COMMITTED"
	case RoundAborted:
		return "ABORTED"
	case RoundFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ReplicatedCallback is invoked exactly once when a round's final status
// is known.
type ReplicatedCallback func(status RoundStatus, err error)

// ConsensusRound is the unit of replication (§3). It is shared between
// the core's PendingRounds (for callback invocation) and the apply
// pipeline; retransmission reads entries back from the Log instead. The
// payload inside is immutable after Replicate assigns its OpId, so sharing it across
// goroutines without copying is safe as long as callers never mutate
// Replicate.Data or NewConfig after submission.
type ConsensusRound struct {
	mu sync.Mutex

	Replicate ReplicateMsg
	cb        ReplicatedCallback

	// boundTerm guards the TOCTOU race where a leader accepts a round,
	// loses leadership, regains it, and would otherwise replicate the
	// round under a new term as if still valid. nil means unbound.
	boundTerm *uint64

	fired  bool
	status RoundStatus
	err    error
}

// NewConsensusRound wraps msg with cb, to be fired exactly once.
func NewConsensusRound(msg ReplicateMsg, cb ReplicatedCallback) *ConsensusRound {
	return &ConsensusRound{Replicate: msg, cb: cb}
}

// BindTerm records the term under which this round was accepted for
// leadership. It must be called before the round is appended to the log.
func (r *ConsensusRound) BindTerm(term uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := term
	r.boundTerm = &t
}

// BoundTerm reports the term this round was bound to, if any.
func (r *ConsensusRound) BoundTerm() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.boundTerm == nil {
		return 0, false
	}
	return *r.boundTerm, true
}

// Index returns the log index this round was assigned, or 0 if it has
// not been assigned one yet.
func (r *ConsensusRound) Index() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Replicate.OpId.Index
}

// IsConfigChange reports whether this round carries a configuration
// change payload (invariant P3 is expressed in terms of this).
func (r *ConsensusRound) IsConfigChange() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Replicate.Type == OpChangeConfig
}

// Fire invokes the callback exactly once; subsequent calls are no-ops.
// This is the single choke point that enforces §8 invariant 10.
func (r *ConsensusRound) Fire(status RoundStatus, err error) {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	r.status = status
	r.err = err
	cb := r.cb
	r.mu.Unlock()

	if cb != nil {
		cb(status, err)
	}
}

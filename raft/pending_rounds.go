package raft

import "fmt"

// PendingRounds tracks every accepted round not yet committed and not
// yet aborted, keyed by log index. Indices are kept contiguous
// (invariant P1): the set always spans
// (committedIndex, committedIndex+len(rounds)]. It is a thin,
// index-addressable deque — the circular buffer in the teacher's
// mem_log.go is overkill here because, unlike Paxos log positions,
// Raft's pending set invariant already guarantees contiguity, so a
// plain growable slice with a base offset suffices.
type PendingRounds struct {
	committedIndex uint64
	// rounds[0] is committedIndex+1, rounds[i] is committedIndex+1+i.
	rounds []*ConsensusRound
}

// NewPendingRounds returns an empty set whose next expected index is
// committedIndex+1.
func NewPendingRounds(committedIndex uint64) *PendingRounds {
	return &PendingRounds{committedIndex: committedIndex}
}

// LastAcceptedIndex returns the highest pending index, or the committed
// index if the set is empty (invariant P2, relative to PendingRounds'
// own view; nothing here or in the core checks it against
// Log.LastOpId).
func (p *PendingRounds) LastAcceptedIndex() uint64 {
	return p.committedIndex + uint64(len(p.rounds))
}

// CommittedIndex returns the index below which nothing is pending.
func (p *PendingRounds) CommittedIndex() uint64 {
	return p.committedIndex
}

// Len reports the number of pending rounds.
func (p *PendingRounds) Len() int {
	return len(p.rounds)
}

// Append registers round as the next index after LastAcceptedIndex and
// returns the OpId.Index it was assigned. The caller (Raft.Replicate or
// Raft.Update) is responsible for having already set round.Replicate.OpId
// to match.
func (p *PendingRounds) Append(round *ConsensusRound) uint64 {
	index := p.LastAcceptedIndex() + 1
	p.rounds = append(p.rounds, round)
	return index
}

// Get returns the round at index, if still pending.
func (p *PendingRounds) Get(index uint64) (*ConsensusRound, bool) {
	if index <= p.committedIndex || index > p.LastAcceptedIndex() {
		return nil, false
	}
	return p.rounds[index-p.committedIndex-1], true
}

// HasPendingConfig reports whether any round in the set carries a config
// change (invariant P3).
func (p *PendingRounds) HasPendingConfig() bool {
	for _, r := range p.rounds {
		if r.IsConfigChange() {
			return true
		}
	}
	return false
}

// ResolveUpTo removes every round with index <= ci, in index order, and
// returns them so the caller can fire their callbacks and apply
// commit-time side effects (e.g. promoting a pending config). A ci
// above LastAcceptedIndex is clamped to it.
// Calling with ci <= CommittedIndex is a no-op, satisfying the
// notify_commit_index idempotence requirement (§4.1, §8 round-trip).
func (p *PendingRounds) ResolveUpTo(ci uint64) []*ConsensusRound {
	if ci <= p.committedIndex {
		return nil
	}
	if ci > p.LastAcceptedIndex() {
		ci = p.LastAcceptedIndex()
	}

	n := int(ci - p.committedIndex)
	resolved := p.rounds[:n]
	p.rounds = p.rounds[n:]
	p.committedIndex = ci
	return resolved
}

// AbortAfter removes and returns every round with index > keepIndex, in
// index order, for the caller to Fire with RoundAborted. Used by the
// follower's abort-truncate step (§4.2) when the log-matching property
// fails, and by Shutdown to abort everything still pending.
func (p *PendingRounds) AbortAfter(keepIndex uint64) []*ConsensusRound {
	if keepIndex >= p.LastAcceptedIndex() {
		return nil
	}
	if keepIndex < p.committedIndex {
		keepIndex = p.committedIndex
	}

	n := int(keepIndex - p.committedIndex)
	aborted := p.rounds[n:]
	p.rounds = p.rounds[:n]
	return aborted
}

// CheckInvariants returns an error if the contiguity invariant (P1) or
// the single-pending-config invariant (P3) is violated. Only tests call
// it; the core does not.
func (p *PendingRounds) CheckInvariants() error {
	for i, r := range p.rounds {
		want := p.committedIndex + 1 + uint64(i)
		if got := r.Index(); got != 0 && got != want {
			return fmt.Errorf("raft: pending rounds contiguity violated: slot %d has index %d, want %d", i, got, want)
		}
	}

	configs := 0
	for _, r := range p.rounds {
		if r.IsConfigChange() {
			configs++
		}
	}
	if configs > 1 {
		return fmt.Errorf("raft: more than one pending config change round (%d)", configs)
	}
	return nil
}

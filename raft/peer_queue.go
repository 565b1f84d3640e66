package raft

import "sync"

// peerProgress is one voter's last known replication state, as tracked
// by the leader (§4.1's "next index" / "match index" bookkeeping).
type peerProgress struct {
	lastReceived  OpId
	isNewFollower bool
	failed        bool
}

// PeerMessageQueue is the leader-side tracker of per-peer replication
// progress and the resulting commit-index watermark. It holds no
// goroutines of its own; PeerManager drives one replication worker per
// peer and reports progress back here after each successful Update RPC
// (§4.3).
type PeerMessageQueue struct {
	mu sync.Mutex

	activeConfig RaftConfig
	progress     map[PeerId]*peerProgress

	// committedIndex is the last index this queue has determined has a
	// majority ack; onCommitAdvance is invoked when it advances.
	committedIndex uint64

	// currentTerm and termAt implement the leader-completeness guard
	// (Raft §5.4.2): an index only advances committedIndex if the entry
	// stored there belongs to currentTerm, never merely because a
	// majority has replicated it. This is why BecomeLeader commits a
	// NO_OP before anything else can commit in a new term.
	currentTerm uint64
	termAt      func(index uint64) (term uint64, ok bool)

	onCommitAdvance  func(index uint64)
	onFailedFollower func(peer PeerId)
}

// NewPeerMessageQueue returns a queue that starts with no tracked
// progress for any peer; callers call SetActiveConfig once the config
// is known. termAt looks up the term of the entry stored at a given log
// index, normally a thin wrapper over Log.GetOpId.
func NewPeerMessageQueue(committedIndex uint64, termAt func(index uint64) (uint64, bool)) *PeerMessageQueue {
	return &PeerMessageQueue{
		progress:       map[PeerId]*peerProgress{},
		committedIndex: committedIndex,
		termAt:         termAt,
	}
}

// SetCurrentTerm records the leader's current term, used to gate commit
// advancement. Callers update this every time RaftConsensus.currentTerm
// changes.
func (q *PeerMessageQueue) SetCurrentTerm(term uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentTerm = term
}

// SetCommitAdvanceCallback registers the hook invoked when the majority
// watermark advances. Must be called before the queue is used
// concurrently.
func (q *PeerMessageQueue) SetCommitAdvanceCallback(fn func(index uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onCommitAdvance = fn
}

// SetFailedFollowerCallback registers the hook invoked when TrackFailure
// observes a peer cross the failure threshold.
func (q *PeerMessageQueue) SetFailedFollowerCallback(fn func(peer PeerId)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailedFollower = fn
}

// SetActiveConfig installs the config whose voters participate in
// quorum computation, adding tracking slots for any new voter and
// dropping slots for members no longer present.
func (q *PeerMessageQueue) SetActiveConfig(cfg RaftConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.activeConfig = cfg

	next := make(map[PeerId]*peerProgress, len(cfg.Members))
	for _, m := range cfg.Members {
		if p, ok := q.progress[m.UUID]; ok {
			next[m.UUID] = p
		} else {
			next[m.UUID] = &peerProgress{isNewFollower: true}
		}
	}
	q.progress = next
}

// TrackResponse records a successful Update response from peer and
// re-evaluates the commit watermark, invoking onCommitAdvance if it
// moved forward. Responses from a lower term than the leader's current
// one must be filtered out by the caller before this is invoked.
func (q *PeerMessageQueue) TrackResponse(peer PeerId, lastReceived OpId) {
	q.mu.Lock()

	p, ok := q.progress[peer]
	if !ok {
		q.mu.Unlock()
		return
	}
	if lastReceived.Less(p.lastReceived) {
		q.mu.Unlock()
		return
	}
	p.lastReceived = lastReceived
	p.isNewFollower = false
	p.failed = false

	newCommit, advanced := q.recomputeCommitLocked()
	cb := q.onCommitAdvance
	q.mu.Unlock()

	if advanced && cb != nil {
		cb(newCommit)
	}
}

// recomputeCommitLocked finds the highest index that both (a) is acked
// by a majority of voters and (b) holds an entry from the leader's
// current term, and if it is higher than committedIndex, advances to it
// — entries below it commit transitively, since a majority that has
// reached index N has necessarily received every index before N too
// (the log-matching property). Must be called with mu held.
func (q *PeerMessageQueue) recomputeCommitLocked() (uint64, bool) {
	acksAtOrAbove := func(index uint64) map[PeerId]struct{} {
		acked := map[PeerId]struct{}{}
		for id, p := range q.progress {
			if p.lastReceived.Index >= index {
				acked[id] = struct{}{}
			}
		}
		return acked
	}

	candidate := q.committedIndex
	for _, p := range q.progress {
		index := p.lastReceived.Index
		if index <= candidate || !q.activeConfig.HasQuorumOf(acksAtOrAbove(index)) {
			continue
		}
		if q.termAt == nil {
			continue
		}
		term, ok := q.termAt(index)
		if !ok || term != q.currentTerm {
			continue
		}
		candidate = index
	}

	if candidate > q.committedIndex {
		q.committedIndex = candidate
		return candidate, true
	}
	return q.committedIndex, false
}

// CommittedIndex returns the last index this queue knows has a
// majority ack.
func (q *PeerMessageQueue) CommittedIndex() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committedIndex
}

// LastReceivedFrom reports the last OpId the given peer is known to
// have durably stored, or the zero OpId if unknown.
func (q *PeerMessageQueue) LastReceivedFrom(peer PeerId) OpId {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.progress[peer]
	if !ok {
		return OpId{}
	}
	return p.lastReceived
}

// IsNewFollower reports whether peer has never successfully acked a
// replication message. RaftConsensus.sendUpdateToPeer only logs it at
// Debug level; the Update it builds is the same either way.
func (q *PeerMessageQueue) IsNewFollower(peer PeerId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.progress[peer]
	return ok && p.isNewFollower
}

// TrackFailure marks peer as failed; once marked, it is reported via
// onFailedFollower exactly once per failure (cleared by the next
// successful TrackResponse).
func (q *PeerMessageQueue) TrackFailure(peer PeerId) {
	q.mu.Lock()
	p, ok := q.progress[peer]
	if !ok || p.failed {
		q.mu.Unlock()
		return
	}
	p.failed = true
	cb := q.onFailedFollower
	q.mu.Unlock()

	if cb != nil {
		cb(peer)
	}
}

package raft

import (
	"context"
	"sync"
	"time"

	"github.com/tabletraft/raft/internal/asynctx"
	"github.com/tabletraft/raft/internal/keycond"
	"github.com/tabletraft/raft/internal/keyrunner"
)

// peerTask is the value keyrunner restarts a worker on: a new task value
// (by == comparison, so PeerInfo must stay comparable — it has no
// slice/map fields) replaces the running goroutine for that peer.
type peerTask struct {
	peer PeerInfo
	term uint64
}

func peerTaskKey(t peerTask) PeerId { return t.peer.UUID }

// PeerManager owns one replication worker per voting peer, restarting a
// worker when the peer's address changes or the term advances, and
// tearing it down when the peer leaves the config or this replica steps
// down (§4.3). The actual RPC dispatch and retry policy is supplied by
// sendFunc, so tests can drive PeerManager against a fake PeerProxy
// without any networking.
type PeerManager struct {
	runner *keyrunner.Runner[PeerId, peerTask]

	sendFunc func(ctx context.Context, peer PeerInfo, term uint64) error

	minBackoff time.Duration
	maxBackoff time.Duration
	heartbeat  time.Duration

	// mu guards wake; a worker that just sent successfully parks on wake
	// until either the heartbeat interval elapses or Nudge wakes it early
	// because new entries were enqueued, matching the teacher's
	// sleep-after-every-iteration loop (paxos/runner.go's
	// loopWithSleep).
	mu   sync.Mutex
	wake *keycond.Cond[PeerId]
}

// NewPeerManager returns a manager whose workers call sendFunc in a
// loop, pacing successful calls by the heartbeat interval (waking early
// via Nudge) and backing off between calls that return a non-nil error.
// sendFunc should perform exactly one Update (or catch-up) round-trip
// and report progress to a PeerMessageQueue itself; PeerManager only
// owns the worker lifecycle, not the replication protocol.
func NewPeerManager(sendFunc func(ctx context.Context, peer PeerInfo, term uint64) error) *PeerManager {
	m := &PeerManager{
		sendFunc:   sendFunc,
		minBackoff: 10 * time.Millisecond,
		maxBackoff: 1 * time.Second,
		heartbeat:  500 * time.Millisecond,
	}
	m.wake = keycond.New[PeerId](&m.mu)
	m.runner = keyrunner.New(peerTaskKey, m.runWorker)
	return m
}

// SetBackoff overrides the default retry backoff bounds; tests shrink
// this to keep synctest-driven runs fast.
func (m *PeerManager) SetBackoff(min, max time.Duration) {
	m.minBackoff = min
	m.maxBackoff = max
}

// SetHeartbeatInterval overrides how long a worker waits after a
// successful send before re-sending, absent an earlier Nudge.
func (m *PeerManager) SetHeartbeatInterval(d time.Duration) {
	m.heartbeat = d
}

// Nudge wakes every worker immediately rather than letting it wait out
// the rest of its heartbeat interval, called after new entries are
// enqueued so followers don't wait a full heartbeat period to receive
// them.
func (m *PeerManager) Nudge() {
	m.mu.Lock()
	m.wake.Broadcast()
	m.mu.Unlock()
}

// SyncPeers replaces the set of peers being replicated to under term.
// Peers absent from voters are stopped; peers present are (re)started if
// their PeerInfo or term changed. RaftConsensus passes voters only, so
// non-voters get no worker.
func (m *PeerManager) SyncPeers(voters []PeerInfo, term uint64) {
	tasks := make([]peerTask, 0, len(voters))
	for _, p := range voters {
		tasks = append(tasks, peerTask{peer: p, term: term})
	}
	m.runner.Upsert(tasks)
}

// Shutdown stops every replication worker and waits for them to return.
func (m *PeerManager) Shutdown() {
	m.runner.Shutdown()
}

// ActivePeers reports which peers currently have a running worker.
func (m *PeerManager) ActivePeers() []PeerId {
	return m.runner.ActiveKeys()
}

func (m *PeerManager) runWorker(ctx asynctx.Handle, task peerTask) {
	backoff := m.minBackoff
	for {
		err := m.sendFunc(ctx.Context(), task.peer, task.term)
		if ctx.Context().Err() != nil {
			return
		}
		if err == nil {
			backoff = m.minBackoff
			m.waitForHeartbeatOrNudge(ctx.Context(), task.peer.UUID)
			if ctx.Context().Err() != nil {
				return
			}
			continue
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Context().Done():
			return
		}
		backoff *= 2
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
	}
}

// waitForHeartbeatOrNudge blocks until the heartbeat interval elapses or
// Nudge wakes this peer's worker early, whichever comes first.
func (m *PeerManager) waitForHeartbeatOrNudge(ctx context.Context, peer PeerId) {
	waitCtx, cancel := context.WithTimeout(ctx, m.heartbeat)
	defer cancel()

	m.mu.Lock()
	_ = m.wake.Wait(waitCtx, peer)
	m.mu.Unlock()
}

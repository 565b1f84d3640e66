package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BootstrapInfo seeds a brand-new or recovering replica (§4 "Start").
type BootstrapInfo struct {
	Tablet        TabletId
	SelfUUID      PeerId
	InitialConfig RaftConfig
}

// RaftConsensus coordinates persistent metadata, the log, the
// pending-rounds tracker, per-peer replication, the failure detector,
// and the election subsystem behind one lock (§5). It is the single
// entry point external callers (the tablet RPC service, the transfer-
// leadership admin tool) use to drive a replication group.
type RaftConsensus struct {
	opts RaftOptions

	tablet   TabletId
	selfUUID PeerId

	consensusLog Log
	txnFactory   ReplicaTransactionFactory
	metaStore    MetadataStore
	proxyFactory PeerProxyFactory

	pendingRounds *PendingRounds
	peerQueue     *PeerMessageQueue
	peerManager   *PeerManager
	failureDet    *FailureDetector

	proxiesMu sync.Mutex
	proxies   map[PeerId]PeerProxy

	mu sync.Mutex

	state ReplicaState
	role  Role

	currentTerm     uint64
	votedFor        PeerId
	committedConfig RaftConfig
	pendingConfig   *RaftConfig

	leaderUUID PeerId

	// lastReceivedCurLeader is the last index durably appended from the
	// peer this replica currently believes is leader; it resets to zero
	// whenever the believed leader changes, so a leader can tell a
	// contiguous ACK from one that spans a leadership change (§4.2 step
	// 7, §3's "last_received_cur_leader" volatile state).
	lastReceivedCurLeader OpId

	activeElection *Election
	electionCancel context.CancelFunc

	transferTarget PeerId
}

// NewRaftConsensus wires together the components above for one tablet.
// The returned replica is in StateInitialized; call Start to begin
// participating.
func NewRaftConsensus(
	tablet TabletId,
	consensusLog Log,
	txnFactory ReplicaTransactionFactory,
	metaStore MetadataStore,
	proxyFactory PeerProxyFactory,
	opts ...Option,
) *RaftConsensus {
	o := DefaultOptions()
	o.Apply(opts...)

	r := &RaftConsensus{
		opts:         o,
		tablet:       tablet,
		consensusLog: consensusLog,
		txnFactory:   txnFactory,
		metaStore:    metaStore,
		proxyFactory: proxyFactory,
		proxies:      map[PeerId]PeerProxy{},
		state:        StateInitialized,
		role:         RoleFollower,
	}
	r.peerQueue = NewPeerMessageQueue(0, func(index uint64) (uint64, bool) {
		opId, ok := r.consensusLog.GetOpId(index)
		return opId.Term, ok
	})
	r.peerQueue.SetCommitAdvanceCallback(r.onPeerQueueCommitAdvance)
	r.peerQueue.SetFailedFollowerCallback(r.onPeerQueueFailedFollower)
	r.peerManager = NewPeerManager(r.sendUpdateToPeer)
	r.peerManager.SetBackoff(o.UpdateRetryMinBackoff, o.UpdateRetryMaxBackoff)
	r.peerManager.SetHeartbeatInterval(o.HeartbeatInterval)
	r.failureDet = NewFailureDetector(o.FailureDetectorBaseTimeout, o.FailureDetectorMaxTimeout, r.onFailureDetectorExpired)
	return r
}

// Start loads persisted metadata (bootstrapping it from info if none
// exists), arms the failure detector, and begins replicating as a
// follower.
func (r *RaftConsensus) Start(info BootstrapInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInitialized {
		return newErr(KindIllegalState, "Start called twice")
	}

	md, err := r.metaStore.Load(info.Tablet)
	if err != nil {
		if !IsNoMetadataErr(err) {
			return fmt.Errorf("raft: load metadata: %w", err)
		}
		md = ConsensusMetadata{
			SelfUUID:        info.SelfUUID,
			CommittedConfig: info.InitialConfig,
		}
		if err := r.metaStore.Flush(info.Tablet, md); err != nil {
			return fmt.Errorf("raft: flush bootstrap metadata: %w", err)
		}
	}

	md = md.clone()
	r.selfUUID = md.SelfUUID
	r.currentTerm = md.CurrentTerm
	r.votedFor = md.VotedFor
	r.committedConfig = md.CommittedConfig
	r.pendingConfig = md.PendingConfig

	r.pendingRounds = NewPendingRounds(r.consensusLog.LastOpId().Index)
	r.peerQueue.SetActiveConfig(r.activeConfigLocked())
	r.peerQueue.SetCurrentTerm(r.currentTerm)

	r.state = StateRunning
	r.becomeFollowerLocked(r.currentTerm)
	r.failureDet.Enable()
	return nil
}

// IsNoMetadataErr reports whether err is ErrNoMetadata, exported so
// alternative MetadataStore implementations outside this package can
// participate in Start's bootstrap check without importing an
// unexported sentinel.
func IsNoMetadataErr(err error) bool { return err == ErrNoMetadata }

func (r *RaftConsensus) activeConfigLocked() RaftConfig {
	if r.pendingConfig != nil {
		return *r.pendingConfig
	}
	return r.committedConfig
}

// Shutdown aborts every pending round, stops replication workers and the
// failure detector, and transitions to StateShutDown. It is safe to
// call more than once.
func (r *RaftConsensus) Shutdown() {
	r.mu.Lock()
	if r.state == StateShutDown {
		r.mu.Unlock()
		return
	}
	r.state = StateShuttingDown
	aborted := r.pendingRounds.AbortAfter(r.pendingRounds.CommittedIndex())
	r.mu.Unlock()

	for _, round := range aborted {
		round.Fire(RoundAborted, ErrServiceUnavailable)
	}

	r.failureDet.Disable()
	r.peerManager.Shutdown()

	r.mu.Lock()
	r.state = StateShutDown
	r.mu.Unlock()
}

// Role reports the replica's current role.
func (r *RaftConsensus) Role() Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}

// CurrentTerm reports the replica's current term.
func (r *RaftConsensus) CurrentTerm() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTerm
}

// LeaderUUID reports the replica this replica currently believes to be
// leader, which may be empty if unknown.
func (r *RaftConsensus) LeaderUUID() PeerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderUUID
}

// IsCertainlyLeader reports whether this replica is leader and has
// committed at least one entry (typically its NO_OP) in its own term,
// the only point at which a leader can be sure no higher-term leader
// already exists (Raft §5.4.2).
func (r *RaftConsensus) IsCertainlyLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.role != RoleLeader {
		return false
	}
	committed := r.pendingRounds.CommittedIndex()
	opId, ok := r.consensusLog.GetOpId(committed)
	return ok && opId.Term == r.currentTerm
}

// LastReceivedOpId returns the OpId of the last entry appended to the
// local log.
func (r *RaftConsensus) LastReceivedOpId() OpId {
	return r.consensusLog.LastOpId()
}

// LastCommittedOpId returns the OpId at the current commit index, or
// the zero OpId if nothing has committed yet.
func (r *RaftConsensus) LastCommittedOpId() OpId {
	r.mu.Lock()
	ci := r.pendingRounds.CommittedIndex()
	r.mu.Unlock()
	opId, ok := r.consensusLog.GetOpId(ci)
	if !ok {
		return OpId{}
	}
	return opId
}

// GetRetentionIndexes reports the lowest index the log must retain for
// durability (anything not yet committed) and the lowest index it
// should prefer to retain for catching up a lagging peer.
func (r *RaftConsensus) GetRetentionIndexes() (forDurability, forPeers uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	forDurability = r.pendingRounds.CommittedIndex()
	forPeers = forDurability
	for _, m := range r.activeConfigLocked().Voters() {
		last := r.peerQueue.LastReceivedFrom(m.UUID)
		if last.IsZero() {
			continue
		}
		if last.Index < forPeers {
			forPeers = last.Index
		}
	}
	return forDurability, forPeers
}

// Replicate is the leader-side entry point for proposing a new entry:
// it assigns the next OpId, appends round to the log and pending set,
// and kicks replication workers. Non-leaders get ErrNotLeader.
func (r *RaftConsensus) Replicate(ctx context.Context, round *ConsensusRound) error {
	r.mu.Lock()
	if r.role != RoleLeader {
		r.mu.Unlock()
		return ErrNotLeader
	}
	if round.IsConfigChange() && r.pendingRounds.HasPendingConfig() {
		r.mu.Unlock()
		return ErrConfigAlreadyPending
	}

	term := r.currentTerm
	round.BindTerm(term)
	index := r.pendingRounds.LastAcceptedIndex() + 1
	round.Replicate.OpId = OpId{Term: term, Index: index}
	r.pendingRounds.Append(round)
	if round.IsConfigChange() {
		cfg := round.Replicate.NewConfig.Clone()
		cfg.OpIdIndex = index
		r.pendingConfig = &cfg
		r.peerQueue.SetActiveConfig(cfg)
		r.syncPeersLocked()
	}
	r.mu.Unlock()

	entry := LogEntry{OpId: round.Replicate.OpId, Message: round.Replicate}
	if err := r.consensusLog.Append(ctx, []LogEntry{entry}, func(err error) {
		if err != nil {
			round.Fire(RoundFailed, err)
			return
		}
		r.peerQueue.TrackResponse(r.selfUUID, entry.OpId)
	}); err != nil {
		return fmt.Errorf("raft: append: %w", err)
	}
	r.peerManager.Nudge()

	if err := r.txnFactory.StartReplicaTransaction(round); err != nil {
		return fmt.Errorf("raft: start replica transaction: %w", err)
	}
	return nil
}

// CheckLeadershipAndBindTerm validates that this replica is still
// leader in the term round was originally bound to, guarding the TOCTOU
// window described in §3's ConsensusRound notes. Returns ErrNotLeader
// if leadership or the term has moved on.
func (r *RaftConsensus) CheckLeadershipAndBindTerm(round *ConsensusRound) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.role != RoleLeader {
		return ErrNotLeader
	}
	bound, ok := round.BoundTerm()
	if !ok || bound != r.currentTerm {
		return ErrNotLeader
	}
	return nil
}

// Update is the AppendEntries-equivalent follower-side RPC handler
// (§4.2). It validates the term, performs the log-matching check,
// truncates any conflicting suffix, appends the new entries, and
// advances the commit index.
func (r *RaftConsensus) Update(ctx context.Context, req UpdateRequest) (UpdateResponse, error) {
	r.mu.Lock()

	if req.Term < r.currentTerm {
		resp := UpdateResponse{
			ResponderTerm: r.currentTerm,
			Error:         newErr(KindInvalidTerm, "leader term %d is behind our term %d", req.Term, r.currentTerm),
		}
		r.mu.Unlock()
		return resp, nil
	}
	if req.Term > r.currentTerm {
		r.advanceTermLocked(req.Term)
		if err := r.flushMetadataLocked(); err != nil {
			r.mu.Unlock()
			return UpdateResponse{}, fmt.Errorf("raft: flush term advance: %w", err)
		}
	}
	if r.leaderUUID != req.LeaderUUID {
		r.leaderUUID = req.LeaderUUID
		r.lastReceivedCurLeader = OpId{}
	}
	if r.role != RoleFollower {
		r.becomeFollowerLocked(r.currentTerm)
	}
	r.failureDet.Snooze()

	if !req.PrecedingOpId.IsZero() {
		got, ok := r.consensusLog.GetOpId(req.PrecedingOpId.Index)
		if !ok || got != req.PrecedingOpId {
			resp := UpdateResponse{
				ResponderTerm: r.currentTerm,
				LastReceived:  r.consensusLog.LastOpId(),
				Error:         newErr(KindPrecedingEntryDidNotMatch, "no entry at %v matching %v", req.PrecedingOpId.Index, req.PrecedingOpId),
			}
			r.mu.Unlock()
			return resp, nil
		}
	}

	aborted := r.pendingRounds.AbortAfter(req.PrecedingOpId.Index)
	r.mu.Unlock()
	for _, round := range aborted {
		round.Fire(RoundAborted, newErr(KindAborted, "superseded by leader %s", req.LeaderUUID))
	}
	if len(aborted) > 0 {
		if err := r.consensusLog.TruncateAfter(ctx, req.PrecedingOpId.Index); err != nil {
			return UpdateResponse{}, fmt.Errorf("raft: truncate: %w", err)
		}
	}

	entries := make([]LogEntry, 0, len(req.Entries))
	index := req.PrecedingOpId.Index
	r.mu.Lock()
	for _, msg := range req.Entries {
		index++
		term := msg.OpId.Term
		if msg.OpId.IsZero() {
			term = req.Term
		}
		msg.OpId = OpId{Term: term, Index: index}
		entries = append(entries, LogEntry{OpId: msg.OpId, Message: msg})

		round := NewConsensusRound(msg, nil)
		round.BindTerm(req.Term)
		r.pendingRounds.Append(round)
		if msg.Type == OpChangeConfig {
			cfg := msg.NewConfig.Clone()
			cfg.OpIdIndex = index
			r.pendingConfig = &cfg
		}
	}
	r.mu.Unlock()

	if len(entries) > 0 {
		if err := r.consensusLog.Append(ctx, entries, func(err error) {
			if err == nil {
				r.peerQueue.TrackResponse(r.selfUUID, entries[len(entries)-1].OpId)
			}
		}); err != nil {
			return UpdateResponse{}, fmt.Errorf("raft: append: %w", err)
		}
		for _, e := range entries {
			round, ok := r.pendingRounds.Get(e.OpId.Index)
			if ok {
				if err := r.txnFactory.StartReplicaTransaction(round); err != nil {
					return UpdateResponse{}, fmt.Errorf("raft: start replica transaction: %w", err)
				}
			}
		}
		r.mu.Lock()
		r.lastReceivedCurLeader = entries[len(entries)-1].OpId
		r.mu.Unlock()
	}

	r.mu.Lock()
	if req.CommittedIndex > r.pendingRounds.CommittedIndex() {
		r.advanceCommitIndexLocked(req.CommittedIndex)
	}
	resp := UpdateResponse{
		ResponderTerm:         r.currentTerm,
		LastReceived:          r.consensusLog.LastOpId(),
		LastReceivedCurLeader: r.lastReceivedCurLeader,
		LastCommittedIdx:      r.pendingRounds.CommittedIndex(),
	}
	r.mu.Unlock()
	return resp, nil
}

// RequestVote is the RequestVote RPC handler (§4.4). PreElection
// requests never persist a vote; IgnoreLiveLeader bypasses the
// leader-is-alive rejection used by graceful leadership transfer.
func (r *RaftConsensus) RequestVote(req RequestVoteRequest) (RequestVoteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !req.IgnoreLiveLeader && r.failureDet.IsEnabled() && r.leaderUUID != "" && r.leaderUUID != req.CandidateUUID {
		return RequestVoteResponse{
			ResponderTerm: r.currentTerm,
			Error:         newErr(KindLeaderIsAlive, "leader %s believed alive", r.leaderUUID),
		}, nil
	}

	if req.Term < r.currentTerm {
		return RequestVoteResponse{
			ResponderTerm: r.currentTerm,
			Error:         newErr(KindInvalidTerm, "candidate term %d is behind our term %d", req.Term, r.currentTerm),
		}, nil
	}

	lastLogged := r.consensusLog.LastOpId()
	if req.LastLoggedOpId.Less(lastLogged) {
		return RequestVoteResponse{
			ResponderTerm: r.currentTerm,
			Error:         newErr(KindLastOpIdTooOld, "candidate log %v is behind our log %v", req.LastLoggedOpId, lastLogged),
		}, nil
	}

	if req.IsPreElection {
		return RequestVoteResponse{ResponderTerm: r.currentTerm, VoteGranted: true}, nil
	}

	if req.Term == r.currentTerm && r.votedFor != "" && r.votedFor != req.CandidateUUID {
		return RequestVoteResponse{
			ResponderTerm: r.currentTerm,
			Error:         newErr(KindAlreadyVoted, "already voted for %s this term", r.votedFor),
		}, nil
	}
	if req.Term == r.currentTerm && r.votedFor == req.CandidateUUID {
		return RequestVoteResponse{ResponderTerm: r.currentTerm, VoteGranted: true}, nil
	}

	if req.Term > r.currentTerm {
		r.advanceTermLocked(req.Term)
	}
	r.votedFor = req.CandidateUUID
	if err := r.flushMetadataLocked(); err != nil {
		return RequestVoteResponse{}, fmt.Errorf("raft: flush vote: %w", err)
	}
	r.failureDet.Snooze()

	return RequestVoteResponse{ResponderTerm: r.currentTerm, VoteGranted: true}, nil
}

func (r *RaftConsensus) flushMetadataLocked() error {
	md := ConsensusMetadata{
		CurrentTerm:     r.currentTerm,
		VotedFor:        r.votedFor,
		CommittedConfig: r.committedConfig,
		PendingConfig:   r.pendingConfig,
		SelfUUID:        r.selfUUID,
	}
	return r.metaStore.Flush(r.tablet, md.clone())
}

// advanceTermLocked bumps the term, clears the vote, and steps down to
// follower if this replica was leader. An election already in flight on
// a non-leader is not cancelled here. Must be called with mu held.
func (r *RaftConsensus) advanceTermLocked(term uint64) {
	r.opts.Logger.Info("advancing term", zap.Uint64("old_term", r.currentTerm), zap.Uint64("new_term", term))
	r.currentTerm = term
	r.votedFor = ""
	r.peerQueue.SetCurrentTerm(term)
	r.opts.Metrics.TermChanged(term)
	if r.role == RoleLeader {
		r.becomeFollowerLocked(term)
	}
}

// becomeFollowerLocked marks this replica a follower and tells the peer
// manager to stop every replication worker. It must not call
// PeerManager.Shutdown (which blocks for worker goroutines that
// themselves take r.mu) — SyncPeers(nil, ...) cancels every worker's
// context without waiting for it to exit.
func (r *RaftConsensus) becomeFollowerLocked(term uint64) {
	r.role = RoleFollower
	r.opts.Metrics.RoleChanged(RoleFollower)
	if r.activeElection != nil {
		r.cancelElectionLocked()
	}
	r.peerManager.SyncPeers(nil, term)
}

// BecomeLeader transitions this replica to leader in its current term,
// starting replication to every peer and committing a NO_OP entry to
// close out any uncommitted entries from prior terms (Raft §5.4.2).
func (r *RaftConsensus) BecomeLeader() error {
	r.mu.Lock()
	if r.role == RoleLeader {
		r.mu.Unlock()
		return nil
	}
	r.role = RoleLeader
	r.leaderUUID = r.selfUUID
	r.opts.Logger.Info("became leader", zap.String("tablet", string(r.tablet)), zap.Uint64("term", r.currentTerm))
	r.opts.Metrics.RoleChanged(RoleLeader)
	r.peerQueue.SetActiveConfig(r.activeConfigLocked())
	r.syncPeersLocked()
	r.mu.Unlock()

	r.failureDet.Disable()

	noop := NewConsensusRound(ReplicateMsg{Type: OpNoOp}, nil)
	return r.Replicate(context.Background(), noop)
}

// BecomeReplica transitions this replica back to follower status in
// term, for use when stepping down voluntarily (a higher term observed,
// a failed write quorum, or a completed leadership transfer).
func (r *RaftConsensus) BecomeReplica(term uint64) {
	r.mu.Lock()
	if term > r.currentTerm {
		r.advanceTermLocked(term)
	} else {
		r.becomeFollowerLocked(r.currentTerm)
	}
	r.mu.Unlock()
	r.failureDet.Enable()
}

func (r *RaftConsensus) syncPeersLocked() {
	var voters []PeerInfo
	for _, m := range r.activeConfigLocked().Voters() {
		if m.UUID != r.selfUUID {
			voters = append(voters, m)
		}
	}
	r.peerManager.SyncPeers(voters, r.currentTerm)
}

func (r *RaftConsensus) proxyFor(peer PeerId) (PeerProxy, error) {
	r.proxiesMu.Lock()
	defer r.proxiesMu.Unlock()

	if p, ok := r.proxies[peer]; ok {
		return p, nil
	}

	r.mu.Lock()
	info, found := r.activeConfigLocked().Find(peer)
	r.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("raft: unknown peer %s", peer)
	}

	proxy, err := r.proxyFactory.NewProxy(info)
	if err != nil {
		return nil, err
	}
	r.proxies[peer] = proxy
	return proxy, nil
}

// sendUpdateToPeer performs one Update round-trip to peer and records
// the result in the peer queue; it is the function PeerManager's worker
// loop calls repeatedly.
func (r *RaftConsensus) sendUpdateToPeer(ctx context.Context, peer PeerInfo, term uint64) error {
	proxy, err := r.proxyFor(peer.UUID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.currentTerm != term || r.role != RoleLeader {
		r.mu.Unlock()
		return nil
	}
	preceding := r.peerQueue.LastReceivedFrom(peer.UUID)
	if r.peerQueue.IsNewFollower(peer.UUID) {
		r.opts.Logger.Debug("sending full catch-up to new follower", zap.String("peer", string(peer.UUID)))
	}
	msgs, ok := r.consensusLog.Entries(preceding.Index)
	if !ok {
		// The follower is too far behind what this log still retains; a
		// heartbeat carrying no entries keeps its lease alive, and the
		// retention-aware send on the next worker iteration is the
		// earliest this leader can safely reply once retention moves.
		msgs = nil
	}
	req := UpdateRequest{
		Term:           term,
		LeaderUUID:     r.selfUUID,
		PrecedingOpId:  preceding,
		Entries:        msgs,
		CommittedIndex: r.pendingRounds.CommittedIndex(),
	}
	r.mu.Unlock()

	resp, err := proxy.UpdateAsync(ctx, req)
	if err != nil {
		r.peerQueue.TrackFailure(peer.UUID)
		return err
	}
	if resp.Error != nil {
		if resp.Error.Kind == KindInvalidTerm && resp.ResponderTerm > term {
			r.BecomeReplica(resp.ResponderTerm)
		}
		r.peerQueue.TrackFailure(peer.UUID)
		return resp.Error
	}

	r.peerQueue.TrackResponse(peer.UUID, resp.LastReceived)
	return nil
}

func (r *RaftConsensus) onPeerQueueCommitAdvance(index uint64) {
	r.mu.Lock()
	r.advanceCommitIndexLocked(index)
	r.mu.Unlock()
}

// advanceCommitIndexLocked resolves every pending round up to index,
// firing RoundCommitted and promoting any pending config whose entry
// just committed. Must be called with mu held.
func (r *RaftConsensus) advanceCommitIndexLocked(index uint64) {
	resolved := r.pendingRounds.ResolveUpTo(index)
	if len(resolved) == 0 {
		return
	}
	r.opts.Metrics.CommitIndexAdvanced(r.pendingRounds.CommittedIndex())

	for _, round := range resolved {
		if round.IsConfigChange() && r.pendingConfig != nil && r.pendingConfig.OpIdIndex == round.Index() {
			r.committedConfig = *r.pendingConfig
			r.pendingConfig = nil
		}
	}
	_ = r.flushMetadataLocked()

	r.mu.Unlock()
	for _, round := range resolved {
		round.Fire(RoundCommitted, nil)
	}
	r.mu.Lock()
}

func (r *RaftConsensus) onPeerQueueFailedFollower(peer PeerId) {
	r.opts.Metrics.PeerFailed(peer)
}

func (r *RaftConsensus) onFailureDetectorExpired() {
	r.mu.Lock()
	if r.role == RoleLeader || r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	mode := NormalElection
	if r.opts.EnablePreElections {
		mode = PreElection
	}
	r.mu.Unlock()
	r.StartElection(mode)
}

// StartElection begins soliciting votes under mode. Concurrent calls
// while an election is already in flight are no-ops.
func (r *RaftConsensus) StartElection(mode ElectionMode) {
	r.mu.Lock()
	if r.activeElection != nil || r.state != StateRunning {
		r.mu.Unlock()
		return
	}

	nextTerm := r.currentTerm
	if mode != PreElection {
		nextTerm++
	}
	req := RequestVoteRequest{
		CandidateUUID:    r.selfUUID,
		Term:             nextTerm,
		LastLoggedOpId:   r.consensusLog.LastOpId(),
		IsPreElection:    mode == PreElection,
		IgnoreLiveLeader: mode == ElectEvenIfLeaderAlive,
	}
	voters := r.activeConfigLocked().Voters()
	r.opts.Logger.Info("starting election", zap.String("mode", mode.String()), zap.Uint64("term", nextTerm))
	r.opts.Metrics.ElectionStarted(mode)

	ctx, cancel := context.WithCancel(context.Background())
	r.electionCancel = cancel

	election := NewElection(mode, req, voters, r.selfUUID, r.proxyFor, func(outcome ElectionOutcome, highestTerm uint64) {
		r.onElectionDecided(mode, nextTerm, outcome, highestTerm)
	})
	r.activeElection = election

	if mode != PreElection {
		r.currentTerm = nextTerm
		r.votedFor = r.selfUUID
		r.peerQueue.SetCurrentTerm(nextTerm)
		_ = r.flushMetadataLocked()
	}
	r.mu.Unlock()

	go election.Run(ctx)
}

func (r *RaftConsensus) onElectionDecided(mode ElectionMode, term uint64, outcome ElectionOutcome, highestTerm uint64) {
	r.opts.Metrics.ElectionDecided(outcome)

	r.mu.Lock()
	r.activeElection = nil
	if r.electionCancel != nil {
		r.electionCancel()
		r.electionCancel = nil
	}
	if highestTerm > r.currentTerm {
		r.advanceTermLocked(highestTerm)
	}
	shouldBecomeLeader := outcome == ElectionWon && mode != PreElection && r.currentTerm == term && r.role != RoleLeader
	shouldRunRealElection := outcome == ElectionWon && mode == PreElection
	r.mu.Unlock()

	if shouldBecomeLeader {
		_ = r.BecomeLeader()
		return
	}
	if shouldRunRealElection {
		r.StartElection(NormalElection)
	}
}

func (r *RaftConsensus) cancelElectionLocked() {
	r.activeElection = nil
	if r.electionCancel != nil {
		r.electionCancel()
		r.electionCancel = nil
	}
}

// ChangeConfig proposes newConfig as the next committed configuration,
// enforcing the single-voter-delta invariant and the no-overlapping-
// pending-change invariant (§4.5). Only the leader may call this.
func (r *RaftConsensus) ChangeConfig(ctx context.Context, newConfig RaftConfig) error {
	r.mu.Lock()
	if r.role != RoleLeader {
		r.mu.Unlock()
		return ErrNotLeader
	}
	if r.pendingRounds.HasPendingConfig() {
		r.mu.Unlock()
		return ErrConfigAlreadyPending
	}
	current := r.activeConfigLocked()
	r.mu.Unlock()

	if !diffVoters(current, newConfig) {
		return newErr(KindInvalidConfig, "configuration change must add or remove at most one voter")
	}

	cfg := newConfig.Clone()
	round := NewConsensusRound(ReplicateMsg{Type: OpChangeConfig, NewConfig: &cfg}, nil)
	return r.Replicate(ctx, round)
}

// UnsafeChangeConfig installs newConfig as both the committed and
// active configuration without going through consensus, bypassing
// quorum entirely. It exists only to recover a replication group that
// has permanently lost quorum (§4.5's documented escape hatch) and must
// never be used while the group can still make progress normally.
func (r *RaftConsensus) UnsafeChangeConfig(newConfig RaftConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.committedConfig = newConfig.Clone()
	r.pendingConfig = nil
	r.peerQueue.SetActiveConfig(r.committedConfig)
	if r.role == RoleLeader {
		r.syncPeersLocked()
	}
	return r.flushMetadataLocked()
}

// TransferLeadership asks this leader to hand off to toUUID: it records
// toUUID as the transfer target, waits for toUUID to catch up to the
// last logged entry, then sends toUUID a RequestVote for the next term
// that names toUUID itself as candidate and bypasses the live-leader
// check (§4.6). New writes are still accepted while it waits, and
// toUUID is not made to run an election of its own.
func (r *RaftConsensus) TransferLeadership(ctx context.Context, toUUID PeerId) error {
	r.mu.Lock()
	if r.role != RoleLeader {
		r.mu.Unlock()
		return ErrNotLeader
	}
	if _, ok := r.activeConfigLocked().Find(toUUID); !ok {
		r.mu.Unlock()
		return newErr(KindInvalidConfig, "%s is not a member of the active configuration", toUUID)
	}
	r.transferTarget = toUUID
	target := r.LastReceivedOpId()
	r.mu.Unlock()

	proxy, err := r.proxyFor(toUUID)
	if err != nil {
		return err
	}

	for r.peerQueue.LastReceivedFrom(toUUID).Compare(target) < 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	_, err = proxy.RequestVoteAsync(ctx, RequestVoteRequest{
		CandidateUUID:    toUUID,
		Term:             r.CurrentTerm() + 1,
		LastLoggedOpId:   target,
		IgnoreLiveLeader: true,
	})
	return err
}

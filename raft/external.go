package raft

import "context"

// Log is the append-only, crash-safe, ordered sequence of log entries.
// Its implementation (file format, compaction) is an external
// collaborator; the core only relies on this contract (§6).
type Log interface {
	// Append is ordered and crash-safe. onDurable is invoked with nil
	// once every entry in this call is durable, or with an error if the
	// append failed. On an append error the core fails the affected
	// round (Replicate) or returns the error to the caller (Update); it
	// does not shut the replica down.
	Append(ctx context.Context, entries []LogEntry, onDurable func(error)) error

	// TruncateAfter synchronously drops every entry with Index > index.
	TruncateAfter(ctx context.Context, index uint64) error

	// LastOpId returns the OpId of the last appended entry, or the zero
	// OpId if the log is empty.
	LastOpId() OpId

	// GetOpId returns the OpId actually stored at index, for the
	// log-matching check in Update. ok is false if index is out of
	// range.
	GetOpId(index uint64) (OpId, bool)

	// Entries returns every message stored strictly after afterIndex, in
	// order, for a leader to ship to a follower that needs to catch up.
	// ok is false if afterIndex is no longer retained (the follower needs
	// a full snapshot-based catch-up instead).
	Entries(afterIndex uint64) ([]ReplicateMsg, bool)

	// SetRetention tells the log it must not garbage-collect below
	// forDurability, and should prefer not to collect below forPeers.
	SetRetention(forDurability, forPeers uint64)
}

// LogEntry is one record in the Log.
type LogEntry struct {
	OpId    OpId
	Message ReplicateMsg
}

// ReplicaTransactionFactory is the tablet apply pipeline (§6). A follower
// calls StartReplicaTransaction for every newly appended entry; the
// factory begins an asynchronous Prepare and later, once the entry
// commits, logs the CommitMsg after Apply succeeds. The leader calls it
// too, from Replicate, for each entry it proposes.
type ReplicaTransactionFactory interface {
	StartReplicaTransaction(round *ConsensusRound) error
}

// UpdateRequest is the AppendEntries-equivalent request (§6 RPC table).
type UpdateRequest struct {
	Term           uint64
	LeaderUUID     PeerId
	PrecedingOpId  OpId
	Entries        []ReplicateMsg
	CommittedIndex uint64
}

// UpdateResponse is the AppendEntries-equivalent response.
type UpdateResponse struct {
	ResponderTerm         uint64
	LastReceived          OpId
	LastReceivedCurLeader OpId
	LastCommittedIdx      uint64
	Error                 *ConsensusError
}

// RequestVoteRequest is the RequestVote RPC request.
type RequestVoteRequest struct {
	CandidateUUID    PeerId
	Term             uint64
	LastLoggedOpId   OpId
	IsPreElection    bool
	IgnoreLiveLeader bool
}

// RequestVoteResponse is the RequestVote RPC response.
type RequestVoteResponse struct {
	ResponderTerm uint64
	VoteGranted   bool
	Error         *ConsensusError
}

// PeerProxy sends RPCs to one remote replica. Implementations must
// tolerate being called concurrently with Shutdown; cancellation is
// best-effort, matching §6's contract.
type PeerProxy interface {
	UpdateAsync(ctx context.Context, req UpdateRequest) (UpdateResponse, error)
	RequestVoteAsync(ctx context.Context, req RequestVoteRequest) (RequestVoteResponse, error)
}

// PeerProxyFactory creates a PeerProxy for a given peer. The RPC
// transport itself (wire codec, connection pooling) is an external
// collaborator; the core only depends on this factory boundary (§6).
type PeerProxyFactory interface {
	NewProxy(peer PeerInfo) (PeerProxy, error)
}

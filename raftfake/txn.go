package raftfake

import (
	"sync"

	"github.com/tabletraft/raft/raft"
)

// TransactionFactory is an in-memory raft.ReplicaTransactionFactory. It
// applies every entry synchronously the moment StartReplicaTransaction
// is called, which is sufficient for exercising the consensus core; it
// does not model a real tablet's separate Prepare/Apply phases.
type TransactionFactory struct {
	mu      sync.Mutex
	applied []raft.ReplicateMsg

	FailNext bool
}

var _ raft.ReplicaTransactionFactory = &TransactionFactory{}

func (f *TransactionFactory) StartReplicaTransaction(round *raft.ConsensusRound) error {
	f.mu.Lock()
	if f.FailNext {
		f.FailNext = false
		f.mu.Unlock()
		return &raft.ConsensusError{Kind: raft.KindIllegalState, Msg: "raftfake: injected transaction failure"}
	}
	f.applied = append(f.applied, round.Replicate)
	f.mu.Unlock()
	return nil
}

// Applied returns every ReplicateMsg handed to StartReplicaTransaction
// so far, for test assertions.
func (f *TransactionFactory) Applied() []raft.ReplicateMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]raft.ReplicateMsg, len(f.applied))
	copy(out, f.applied)
	return out
}

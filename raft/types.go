// Package raft implements a single replication group's Raft consensus
// replica: role transitions, term and vote persistence, leader election,
// log replication, commit-index advancement, and single-step
// configuration changes. It coordinates the persistent consensus
// metadata, an externally supplied Log, the per-peer replication queue,
// the pending-rounds tracker, and the election subsystem behind one
// lock, and leaves the log format, the RPC transport, and the tablet
// apply pipeline as external collaborators (see external.go).
package raft

import (
	"cmp"
	"fmt"

	"github.com/google/uuid"
)

// PeerId is the opaque identity assigned to a replica at creation time,
// normally a UUID string (see NewPeerId).
type PeerId string

// NewPeerId mints a fresh random peer identity for a replica being
// bootstrapped for the first time. Callers that already persist a stable
// identity elsewhere should pass that value through BootstrapInfo instead
// of calling this.
func NewPeerId() PeerId { return PeerId(uuid.NewString()) }

// TabletId identifies the replication group this replica belongs to.
type TabletId string

// OpId uniquely names a log entry. Ordering is lexicographic on
// (Term, Index), matching the Raft "more up-to-date log" comparison used
// by vote granting and the log-matching property.
type OpId struct {
	Term  uint64
	Index uint64
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b, ordering lexicographically on (Term, Index).
func (a OpId) Compare(b OpId) int {
	if c := cmp.Compare(a.Term, b.Term); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// Less reports whether a precedes b under the Raft up-to-date ordering.
func (a OpId) Less(b OpId) bool { return a.Compare(b) < 0 }

func (a OpId) String() string { return fmt.Sprintf("%d.%d", a.Term, a.Index) }

// IsZero reports whether this is the OpId of an empty log.
func (a OpId) IsZero() bool { return a.Term == 0 && a.Index == 0 }

// Role is the replica's role. RaftConsensus sets RoleLeader and
// RoleFollower directly on its role transitions and does not derive the
// role from the config; it never assigns RoleLearner or RoleNonVoter.
type Role int

const (
	RoleFollower Role = iota
	RoleLeader
	RoleLearner
	RoleNonVoter
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "LEADER"
	case RoleFollower:
		return "FOLLOWER"
	case RoleLearner:
		return "LEARNER"
	case RoleNonVoter:
		return "NON_VOTER"
	default:
		return "UNKNOWN"
	}
}

// ReplicaState is the replica's lifecycle state, independent of Role.
type ReplicaState int

const (
	StateInitialized ReplicaState = iota
	StateRunning
	StateShuttingDown
	StateShutDown
)

func (s ReplicaState) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateShutDown:
		return "SHUT_DOWN"
	default:
		return "UNKNOWN"
	}
}

// OpType discriminates the payload carried by a ReplicateMsg.
type OpType int

const (
	// OpWrite is an opaque, application-defined payload handed to the
	// apply pipeline untouched.
	OpWrite OpType = iota
	// OpNoOp is the empty entry a new leader commits to close out the
	// previous term, per Raft §5.4.
	OpNoOp
	// OpChangeConfig carries a single-step RaftConfig change.
	OpChangeConfig
)

func (t OpType) String() string {
	switch t {
	case OpWrite:
		return "WRITE"
	case OpNoOp:
		return "NO_OP"
	case OpChangeConfig:
		return "CHANGE_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// ReplicateMsg is the unit of replication payload. OpId is assigned by
// the leader at Replicate time and is the zero value beforehand.
type ReplicateMsg struct {
	OpId OpId
	Type OpType

	// Data is the opaque application payload, valid when Type == OpWrite.
	Data []byte

	// NewConfig is the proposed configuration, valid when
	// Type == OpChangeConfig.
	NewConfig *RaftConfig
}

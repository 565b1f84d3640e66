package raft

import "slices"

// MemberType distinguishes voters, which count toward quorum, from
// non-voters, which never vote and never count toward quorum.
// RaftConsensus starts replication workers for voters only, so a
// non-voter receives no Update traffic from the leader.
type MemberType int

const (
	VOTER MemberType = iota
	NON_VOTER
)

func (m MemberType) String() string {
	if m == VOTER {
		return "VOTER"
	}
	return "NON_VOTER"
}

// PeerInfo describes one member of a RaftConfig.
type PeerInfo struct {
	UUID       PeerId
	Host       string
	Port       int
	MemberType MemberType
}

// RaftConfig is a committed or pending cluster membership. Two committed
// configs in sequence must differ by at most one voter add, remove,
// promote, or demote (invariant enforced by Raft.ChangeConfig, not by
// this type).
type RaftConfig struct {
	// OpIdIndex is the log index of the entry that introduced this
	// config (zero for the bootstrap config).
	OpIdIndex uint64
	Members   []PeerInfo
}

// Clone returns a deep copy; RaftConfig values are shared across rounds
// and must never be mutated in place once attached to one.
func (c RaftConfig) Clone() RaftConfig {
	return RaftConfig{
		OpIdIndex: c.OpIdIndex,
		Members:   slices.Clone(c.Members),
	}
}

// Find returns the member with the given id, if present.
func (c RaftConfig) Find(id PeerId) (PeerInfo, bool) {
	for _, m := range c.Members {
		if m.UUID == id {
			return m, true
		}
	}
	return PeerInfo{}, false
}

// IsVoter reports whether id is a voting member of this config.
func (c RaftConfig) IsVoter(id PeerId) bool {
	m, ok := c.Find(id)
	return ok && m.MemberType == VOTER
}

// Voters returns the voting members of this config.
func (c RaftConfig) Voters() []PeerInfo {
	var out []PeerInfo
	for _, m := range c.Members {
		if m.MemberType == VOTER {
			out = append(out, m)
		}
	}
	return out
}

// VoterCount returns the number of voting members.
func (c RaftConfig) VoterCount() int {
	n := 0
	for _, m := range c.Members {
		if m.MemberType == VOTER {
			n++
		}
	}
	return n
}

// HasQuorumOf reports whether acked contains a strict majority of this
// config's voters.
func (c RaftConfig) HasQuorumOf(acked map[PeerId]struct{}) bool {
	total := c.VoterCount()
	if total == 0 {
		return false
	}
	need := total/2 + 1

	have := 0
	for _, m := range c.Members {
		if m.MemberType != VOTER {
			continue
		}
		if _, ok := acked[m.UUID]; ok {
			have++
		}
	}
	return have >= need
}

// diffVoters reports whether the voter sets of an old and a new config
// differ by at most one voter, used by RaftConsensus.ChangeConfig to
// enforce the one-voter-at-a-time invariant. It counts voters added
// plus voters removed (a promotion counts as an add, a demotion as a
// remove) and returns true when that total is 0 or 1. Changes to
// non-voter members are not counted.
func diffVoters(oldCfg, newCfg RaftConfig) (ok bool) {
	oldVoters := map[PeerId]struct{}{}
	for _, m := range oldCfg.Voters() {
		oldVoters[m.UUID] = struct{}{}
	}
	newVoters := map[PeerId]struct{}{}
	for _, m := range newCfg.Voters() {
		newVoters[m.UUID] = struct{}{}
	}

	added, removed := 0, 0
	for id := range newVoters {
		if _, ok := oldVoters[id]; !ok {
			added++
		}
	}
	for id := range oldVoters {
		if _, ok := newVoters[id]; !ok {
			removed++
		}
	}

	return added+removed <= 1
}

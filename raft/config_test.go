package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func threeVoterConfig() RaftConfig {
	return RaftConfig{
		Members: []PeerInfo{
			{UUID: "a", MemberType: VOTER},
			{UUID: "b", MemberType: VOTER},
			{UUID: "c", MemberType: VOTER},
		},
	}
}

func TestRaftConfig_HasQuorumOf(t *testing.T) {
	cfg := threeVoterConfig()

	assert.False(t, cfg.HasQuorumOf(map[PeerId]struct{}{"a": {}}))
	assert.True(t, cfg.HasQuorumOf(map[PeerId]struct{}{"a": {}, "b": {}}))
	assert.True(t, cfg.HasQuorumOf(map[PeerId]struct{}{"a": {}, "b": {}, "c": {}}))
}

func TestRaftConfig_HasQuorumOfIgnoresNonVoters(t *testing.T) {
	cfg := threeVoterConfig()
	cfg.Members = append(cfg.Members, PeerInfo{UUID: "d", MemberType: NON_VOTER})

	assert.False(t, cfg.HasQuorumOf(map[PeerId]struct{}{"d": {}}))
}

func TestRaftConfig_CloneIsIndependent(t *testing.T) {
	cfg := threeVoterConfig()
	clone := cfg.Clone()
	clone.Members[0].Host = "mutated"

	assert.NotEqual(t, cfg.Members[0].Host, clone.Members[0].Host)
}

func TestRaftConfig_VoterCount(t *testing.T) {
	cfg := threeVoterConfig()
	cfg.Members = append(cfg.Members, PeerInfo{UUID: "d", MemberType: NON_VOTER})

	assert.Equal(t, 3, cfg.VoterCount())
	assert.Len(t, cfg.Voters(), 3)
}

func TestDiffVoters(t *testing.T) {
	old := threeVoterConfig()

	addOne := old.Clone()
	addOne.Members = append(addOne.Members, PeerInfo{UUID: "d", MemberType: VOTER})
	assert.True(t, diffVoters(old, addOne))

	removeOne := RaftConfig{Members: old.Members[:2]}
	assert.True(t, diffVoters(old, removeOne))

	addTwo := old.Clone()
	addTwo.Members = append(addTwo.Members, PeerInfo{UUID: "d", MemberType: VOTER}, PeerInfo{UUID: "e", MemberType: VOTER})
	assert.False(t, diffVoters(old, addTwo))

	assert.True(t, diffVoters(old, old.Clone()))
}

func TestRaftConfig_FindAndIsVoter(t *testing.T) {
	cfg := threeVoterConfig()
	cfg.Members = append(cfg.Members, PeerInfo{UUID: "d", MemberType: NON_VOTER})

	m, ok := cfg.Find("d")
	assert.True(t, ok)
	assert.Equal(t, NON_VOTER, m.MemberType)
	assert.False(t, cfg.IsVoter("d"))
	assert.True(t, cfg.IsVoter("a"))

	_, ok = cfg.Find("z")
	assert.False(t, ok)
}

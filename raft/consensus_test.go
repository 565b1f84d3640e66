package raft_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletraft/raft/raft"
	"github.com/tabletraft/raft/raftfake"
)

func singleVoterConfig(self raft.PeerId) raft.RaftConfig {
	return raft.RaftConfig{Members: []raft.PeerInfo{{UUID: self, MemberType: raft.VOTER}}}
}

func newTestReplica(t *testing.T, net *raftfake.Network, self raft.PeerId, cfg raft.RaftConfig) (*raft.RaftConsensus, *raftfake.Log, *raftfake.TransactionFactory) {
	t.Helper()
	log := &raftfake.Log{}
	meta := raftfake.NewMetadataStore()
	txn := &raftfake.TransactionFactory{}
	factory := raftfake.NewProxyFactory(net, self)

	r := raft.NewRaftConsensus("tablet-1", log, txn, meta, factory,
		raft.WithFailureDetectorTimeouts(20*time.Millisecond, 100*time.Millisecond))
	net.Register(self, r)

	require.NoError(t, r.Start(raft.BootstrapInfo{
		Tablet:        "tablet-1",
		SelfUUID:      self,
		InitialConfig: cfg,
	}))
	t.Cleanup(r.Shutdown)
	return r, log, txn
}

func TestRaftConsensus_SingleVoterBecomesLeaderAndCommitsNoOp(t *testing.T) {
	net := raftfake.NewNetwork()
	r, _, txn := newTestReplica(t, net, "a", singleVoterConfig("a"))

	require.NoError(t, r.BecomeLeader())

	require.Eventually(t, func() bool {
		return r.IsCertainlyLeader()
	}, time.Second, time.Millisecond)

	applied := txn.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, raft.OpNoOp, applied[0].Type)
}

func TestRaftConsensus_ReplicateRejectedWhenNotLeader(t *testing.T) {
	net := raftfake.NewNetwork()
	r, _, _ := newTestReplica(t, net, "a", singleVoterConfig("a"))

	round := raft.NewConsensusRound(raft.ReplicateMsg{Type: raft.OpWrite, Data: []byte("x")}, nil)
	err := r.Replicate(context.Background(), round)
	assert.ErrorIs(t, err, raft.ErrNotLeader)
}

func TestRaftConsensus_ThreeVoterClusterReplicatesAndCommits(t *testing.T) {
	net := raftfake.NewNetwork()
	cfg := raft.RaftConfig{Members: []raft.PeerInfo{
		{UUID: "a", MemberType: raft.VOTER},
		{UUID: "b", MemberType: raft.VOTER},
		{UUID: "c", MemberType: raft.VOTER},
	}}

	leader, _, leaderTxn := newTestReplica(t, net, "a", cfg)
	_, _, followerBTxn := newTestReplica(t, net, "b", cfg)
	_, _, followerCTxn := newTestReplica(t, net, "c", cfg)

	require.NoError(t, leader.BecomeLeader())
	require.Eventually(t, func() bool { return leader.IsCertainlyLeader() }, time.Second, time.Millisecond)

	var committed bool
	done := make(chan struct{})
	round := raft.NewConsensusRound(raft.ReplicateMsg{Type: raft.OpWrite, Data: []byte("hello")}, func(status raft.RoundStatus, err error) {
		committed = status == raft.RoundCommitted
		close(done)
	})
	require.NoError(t, leader.Replicate(context.Background(), round))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("round never resolved")
	}
	assert.True(t, committed)

	require.Eventually(t, func() bool {
		return len(followerBTxn.Applied()) >= 2 && len(followerCTxn.Applied()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, leaderTxn.Applied(), 2) // NO_OP + write
}

func TestRaftConsensus_RequestVoteRejectsStaleTerm(t *testing.T) {
	net := raftfake.NewNetwork()
	r, _, _ := newTestReplica(t, net, "a", singleVoterConfig("a"))

	// A fresh replica is at term 0; a granted vote at term 2 moves it
	// there so that a term-0 request is actually stale.
	_, err := r.RequestVote(raft.RequestVoteRequest{
		CandidateUUID: "c",
		Term:          2,
	})
	require.NoError(t, err)

	resp, err := r.RequestVote(raft.RequestVoteRequest{
		CandidateUUID: "b",
		Term:          0,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, raft.KindInvalidTerm, resp.Error.Kind)
}

func TestRaftConsensus_ChangeConfigRejectsMultiVoterDelta(t *testing.T) {
	net := raftfake.NewNetwork()
	cfg := raft.RaftConfig{Members: []raft.PeerInfo{
		{UUID: "a", MemberType: raft.VOTER},
	}}
	r, _, _ := newTestReplica(t, net, "a", cfg)
	require.NoError(t, r.BecomeLeader())
	require.Eventually(t, func() bool { return r.IsCertainlyLeader() }, time.Second, time.Millisecond)

	bad := raft.RaftConfig{Members: []raft.PeerInfo{
		{UUID: "a", MemberType: raft.VOTER},
		{UUID: "b", MemberType: raft.VOTER},
		{UUID: "c", MemberType: raft.VOTER},
	}}
	err := r.ChangeConfig(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, raft.IsKind(err, raft.KindInvalidConfig))
}

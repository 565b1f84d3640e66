package raft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVoteProxy struct {
	grant bool
	term  uint64
	err   error
}

func (f *fakeVoteProxy) UpdateAsync(ctx context.Context, req UpdateRequest) (UpdateResponse, error) {
	return UpdateResponse{}, nil
}

func (f *fakeVoteProxy) RequestVoteAsync(ctx context.Context, req RequestVoteRequest) (RequestVoteResponse, error) {
	if f.err != nil {
		return RequestVoteResponse{}, f.err
	}
	return RequestVoteResponse{VoteGranted: f.grant, ResponderTerm: f.term}, nil
}

func TestElection_SingleVoterWinsImmediately(t *testing.T) {
	var outcome ElectionOutcome
	e := NewElection(
		NormalElection,
		RequestVoteRequest{Term: 1},
		[]PeerInfo{{UUID: "a", MemberType: VOTER}},
		"a",
		func(PeerId) (PeerProxy, error) { t.Fatal("should not dial self"); return nil, nil },
		func(o ElectionOutcome, term uint64) { outcome = o },
	)
	e.Run(context.Background())
	assert.Equal(t, ElectionWon, outcome)
}

func TestElection_ThreeVoterMajorityWins(t *testing.T) {
	voters := threeVoterConfig().Voters()
	proxies := map[PeerId]PeerProxy{
		"b": &fakeVoteProxy{grant: true, term: 1},
		"c": &fakeVoteProxy{grant: false, term: 1},
	}

	var outcome ElectionOutcome
	e := NewElection(
		NormalElection,
		RequestVoteRequest{Term: 1},
		voters,
		"a",
		func(id PeerId) (PeerProxy, error) { return proxies[id], nil },
		func(o ElectionOutcome, term uint64) { outcome = o },
	)
	e.Run(context.Background())
	assert.Equal(t, ElectionWon, outcome)
}

func TestElection_LosesWhenMajorityUnreachable(t *testing.T) {
	voters := threeVoterConfig().Voters()
	proxies := map[PeerId]PeerProxy{
		"b": &fakeVoteProxy{grant: false, term: 1},
		"c": &fakeVoteProxy{grant: false, term: 1},
	}

	var outcome ElectionOutcome
	e := NewElection(
		NormalElection,
		RequestVoteRequest{Term: 1},
		voters,
		"a",
		func(id PeerId) (PeerProxy, error) { return proxies[id], nil },
		func(o ElectionOutcome, term uint64) { outcome = o },
	)
	e.Run(context.Background())
	assert.Equal(t, ElectionLost, outcome)
}

func TestElection_HigherTermInResponseIsSurfaced(t *testing.T) {
	voters := threeVoterConfig().Voters()
	proxies := map[PeerId]PeerProxy{
		"b": &fakeVoteProxy{grant: false, term: 5},
		"c": &fakeVoteProxy{grant: false, term: 5},
	}

	var gotTerm uint64
	e := NewElection(
		NormalElection,
		RequestVoteRequest{Term: 1},
		voters,
		"a",
		func(id PeerId) (PeerProxy, error) { return proxies[id], nil },
		func(o ElectionOutcome, term uint64) { gotTerm = term },
	)
	e.Run(context.Background())
	require.EqualValues(t, 5, gotTerm)
}

func TestElection_ProxyDialErrorCountsAsNoVote(t *testing.T) {
	voters := threeVoterConfig().Voters()

	var outcome ElectionOutcome
	e := NewElection(
		NormalElection,
		RequestVoteRequest{Term: 1},
		voters,
		"a",
		func(id PeerId) (PeerProxy, error) { return nil, assert.AnError },
		func(o ElectionOutcome, term uint64) { outcome = o },
	)
	e.Run(context.Background())
	assert.Equal(t, ElectionLost, outcome)
}

package raft

import (
	"context"
	"sync"

	"github.com/tabletraft/raft/internal/waitgroup"
)

// ElectionMode distinguishes a normal election from a pre-election dry
// run and from the leadership-transfer variant that is allowed to
// proceed even while believing the current leader is alive (§4.4).
type ElectionMode int

const (
	NormalElection ElectionMode = iota
	PreElection
	ElectEvenIfLeaderAlive
)

func (m ElectionMode) String() string {
	switch m {
	case PreElection:
		return "PRE_ELECTION"
	case ElectEvenIfLeaderAlive:
		return "ELECT_EVEN_IF_LEADER_ALIVE"
	default:
		return "NORMAL_ELECTION"
	}
}

// ElectionOutcome is delivered to an Election's result callback exactly
// once.
type ElectionOutcome int

const (
	ElectionWon ElectionOutcome = iota
	ElectionLost
	ElectionError
)

func (o ElectionOutcome) String() string {
	switch o {
	case ElectionWon:
		return "WON"
	case ElectionLost:
		return "LOST"
	default:
		return "ERROR"
	}
}

// Election drives one round of vote solicitation: it requests a vote
// from every voter (including itself, which always votes yes for its
// own candidacy) and reports the outcome once either a majority has
// voted yes, a majority has voted no or errored such that a majority is
// unreachable, or every voter has responded.
type Election struct {
	mode     ElectionMode
	request  RequestVoteRequest
	voters   []PeerInfo
	proxyFor func(PeerId) (PeerProxy, error)

	onOutcome func(outcome ElectionOutcome, highestTerm uint64)

	mu        sync.Mutex
	yes       map[PeerId]struct{}
	no        map[PeerId]struct{}
	responded map[PeerId]struct{}
	highest   uint64
	decided   bool
}

// NewElection builds an election for request against voters, using
// proxyFor to dial each non-self voter. selfUUID's vote is recorded as
// granted immediately, matching the candidate's implicit self-vote.
func NewElection(
	mode ElectionMode,
	request RequestVoteRequest,
	voters []PeerInfo,
	selfUUID PeerId,
	proxyFor func(PeerId) (PeerProxy, error),
	onOutcome func(outcome ElectionOutcome, highestTerm uint64),
) *Election {
	e := &Election{
		mode:      mode,
		request:   request,
		voters:    voters,
		proxyFor:  proxyFor,
		onOutcome: onOutcome,
		yes:       map[PeerId]struct{}{},
		no:        map[PeerId]struct{}{},
		responded: map[PeerId]struct{}{},
		highest:   request.Term,
	}
	e.yes[selfUUID] = struct{}{}
	e.responded[selfUUID] = struct{}{}
	return e
}

// Run solicits votes from every non-self voter concurrently and blocks
// until every solicitation has returned. The outcome callback, if set,
// fires exactly once, as soon as the outcome is determined, and before
// Run returns.
func (e *Election) Run(ctx context.Context) {
	e.mu.Lock()
	quorumConfig := RaftConfig{Members: e.voters}
	if quorumConfig.HasQuorumOf(e.yes) {
		e.mu.Unlock()
		e.decide(ElectionWon)
		return
	}
	self := func() PeerId {
		for id := range e.responded {
			return id
		}
		return ""
	}()
	e.mu.Unlock()

	wg := waitgroup.New()
	for _, voter := range e.voters {
		if voter.UUID == self {
			continue
		}
		v := voter
		wg.Go(func() {
			e.solicit(ctx, v)
		})
	}
	wg.Wait()
}

func (e *Election) solicit(ctx context.Context, voter PeerInfo) {
	proxy, err := e.proxyFor(voter.UUID)
	if err != nil {
		e.recordResponse(voter.UUID, false, 0)
		return
	}

	resp, err := proxy.RequestVoteAsync(ctx, e.request)
	if err != nil {
		e.recordResponse(voter.UUID, false, 0)
		return
	}
	e.recordResponse(voter.UUID, resp.VoteGranted, resp.ResponderTerm)
}

func (e *Election) recordResponse(voter PeerId, granted bool, term uint64) {
	e.mu.Lock()
	if e.decided {
		e.mu.Unlock()
		return
	}
	if _, already := e.responded[voter]; already {
		e.mu.Unlock()
		return
	}
	e.responded[voter] = struct{}{}
	if term > e.highest {
		e.highest = term
	}
	if granted {
		e.yes[voter] = struct{}{}
	} else {
		e.no[voter] = struct{}{}
	}

	quorumConfig := RaftConfig{Members: e.voters}
	won := quorumConfig.HasQuorumOf(e.yes)
	lost := !won && e.majorityUnreachableLocked(quorumConfig)
	e.mu.Unlock()

	if won {
		e.decide(ElectionWon)
	} else if lost {
		e.decide(ElectionLost)
	}
}

// majorityUnreachableLocked reports whether the remaining un-responded
// voters, even if they all voted yes, could not reach quorum — i.e. the
// election is already lost. Must be called with mu held.
func (e *Election) majorityUnreachableLocked(cfg RaftConfig) bool {
	potential := make(map[PeerId]struct{}, len(e.yes)+len(e.voters))
	for id := range e.yes {
		potential[id] = struct{}{}
	}
	for _, v := range e.voters {
		if _, responded := e.responded[v.UUID]; !responded {
			potential[v.UUID] = struct{}{}
		}
	}
	return !cfg.HasQuorumOf(potential)
}

func (e *Election) decide(outcome ElectionOutcome) {
	e.mu.Lock()
	if e.decided {
		e.mu.Unlock()
		return
	}
	e.decided = true
	highest := e.highest
	e.mu.Unlock()

	if e.onOutcome != nil {
		e.onOutcome(outcome, highest)
	}
}

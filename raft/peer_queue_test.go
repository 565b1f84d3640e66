package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedTermAt returns a termAt stub reporting every index as belonging
// to term, as if the whole log were written in one term.
func fixedTermAt(term uint64) func(uint64) (uint64, bool) {
	return func(uint64) (uint64, bool) { return term, true }
}

func newTestQueue(currentTerm uint64) *PeerMessageQueue {
	q := NewPeerMessageQueue(0, fixedTermAt(currentTerm))
	q.SetCurrentTerm(currentTerm)
	return q
}

func TestPeerMessageQueue_CommitAdvancesOnMajority(t *testing.T) {
	q := newTestQueue(1)
	q.SetActiveConfig(threeVoterConfig())

	var advancedTo uint64
	q.SetCommitAdvanceCallback(func(index uint64) { advancedTo = index })

	q.TrackResponse("a", OpId{Term: 1, Index: 5})
	assert.EqualValues(t, 0, q.CommittedIndex())

	q.TrackResponse("b", OpId{Term: 1, Index: 5})
	require.EqualValues(t, 5, q.CommittedIndex())
	assert.EqualValues(t, 5, advancedTo)

	q.TrackResponse("c", OpId{Term: 1, Index: 5})
	assert.EqualValues(t, 5, q.CommittedIndex())
}

func TestPeerMessageQueue_IgnoresUnknownPeer(t *testing.T) {
	q := newTestQueue(1)
	q.SetActiveConfig(threeVoterConfig())

	q.TrackResponse("ghost", OpId{Term: 1, Index: 5})
	assert.EqualValues(t, 0, q.CommittedIndex())
	assert.True(t, q.LastReceivedFrom("ghost").IsZero())
}

func TestPeerMessageQueue_IgnoresStaleResponse(t *testing.T) {
	q := newTestQueue(2)
	q.SetActiveConfig(threeVoterConfig())

	q.TrackResponse("a", OpId{Term: 2, Index: 5})
	q.TrackResponse("a", OpId{Term: 1, Index: 9})

	assert.Equal(t, OpId{Term: 2, Index: 5}, q.LastReceivedFrom("a"))
}

func TestPeerMessageQueue_IsNewFollowerClearsOnAck(t *testing.T) {
	q := newTestQueue(1)
	q.SetActiveConfig(threeVoterConfig())

	assert.True(t, q.IsNewFollower("a"))
	q.TrackResponse("a", OpId{Term: 1, Index: 1})
	assert.False(t, q.IsNewFollower("a"))
}

func TestPeerMessageQueue_TrackFailureFiresOncePerFailure(t *testing.T) {
	q := newTestQueue(1)
	q.SetActiveConfig(threeVoterConfig())

	var failures int
	q.SetFailedFollowerCallback(func(peer PeerId) { failures++ })

	q.TrackFailure("a")
	q.TrackFailure("a")
	assert.Equal(t, 1, failures)

	q.TrackResponse("a", OpId{Term: 1, Index: 1})
	q.TrackFailure("a")
	assert.Equal(t, 2, failures)
}

func TestPeerMessageQueue_SetActiveConfigPreservesExistingProgress(t *testing.T) {
	q := newTestQueue(1)
	q.SetActiveConfig(threeVoterConfig())
	q.TrackResponse("a", OpId{Term: 1, Index: 3})

	grown := threeVoterConfig()
	grown.Members = append(grown.Members, PeerInfo{UUID: "d", MemberType: VOTER})
	q.SetActiveConfig(grown)

	assert.Equal(t, OpId{Term: 1, Index: 3}, q.LastReceivedFrom("a"))
	assert.True(t, q.IsNewFollower("d"))
}

// TestPeerMessageQueue_DoesNotCommitPriorTermEntryOnMajority guards the
// Raft §5.4.2 leader-completeness rule: a majority-replicated entry from
// a term before the leader's current one must never commit on its own,
// even though a bare index-majority count would have advanced past it.
func TestPeerMessageQueue_DoesNotCommitPriorTermEntryOnMajority(t *testing.T) {
	q := NewPeerMessageQueue(0, func(index uint64) (uint64, bool) {
		if index <= 5 {
			return 1, true
		}
		return 2, true
	})
	q.SetCurrentTerm(2)
	q.SetActiveConfig(threeVoterConfig())

	var advances []uint64
	q.SetCommitAdvanceCallback(func(index uint64) { advances = append(advances, index) })

	q.TrackResponse("a", OpId{Term: 1, Index: 5})
	q.TrackResponse("b", OpId{Term: 1, Index: 5})
	assert.EqualValues(t, 0, q.CommittedIndex(), "a term-1 majority must not commit while the leader's term is 2")
	assert.Empty(t, advances)

	q.TrackResponse("a", OpId{Term: 2, Index: 6})
	q.TrackResponse("b", OpId{Term: 2, Index: 6})
	require.EqualValues(t, 6, q.CommittedIndex(), "a current-term majority commits it and every earlier index transitively")
	assert.Equal(t, []uint64{6}, advances)
}

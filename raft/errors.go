package raft

import "fmt"

// Kind is the closed set of consensus error kinds from §7. RPC handlers
// map a Kind to the wire consensus_error field instead of returning it
// as a transport error.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidTerm
	KindNotLeader
	KindIllegalState
	KindPrecedingEntryDidNotMatch
	KindConfigChangeAlreadyPending
	KindCasConfigOpIndexMismatch
	KindInvalidConfig
	KindAborted
	KindServiceUnavailable
	KindCorruption
	KindAlreadyVoted
	KindVoteAlreadyGranted
	KindLastOpIdTooOld
	KindLeaderIsAlive
	KindIsBusy
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTerm:
		return "INVALID_TERM"
	case KindNotLeader:
		return "NOT_LEADER"
	case KindIllegalState:
		return "ILLEGAL_STATE"
	case KindPrecedingEntryDidNotMatch:
		return "PRECEDING_ENTRY_DIDNT_MATCH"
	case KindConfigChangeAlreadyPending:
		return "CONFIG_ALREADY_PENDING"
	case KindCasConfigOpIndexMismatch:
		return "CAS_FAILED"
	case KindInvalidConfig:
		return "INVALID_CONFIG"
	case KindAborted:
		return "ABORTED"
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindCorruption:
		return "CORRUPTION"
	case KindAlreadyVoted:
		return "ALREADY_VOTED"
	case KindVoteAlreadyGranted:
		return "VOTE_ALREADY_GRANTED"
	case KindLastOpIdTooOld:
		return "LAST_OPID_TOO_OLD"
	case KindLeaderIsAlive:
		return "LEADER_IS_ALIVE"
	case KindIsBusy:
		return "IS_BUSY"
	default:
		return "NONE"
	}
}

// ConsensusError wraps a Kind with a human-readable message. Callers use
// errors.As to recover the Kind and decide whether to retry.
type ConsensusError struct {
	Kind Kind
	Msg  string
}

func (e *ConsensusError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// newErr builds a ConsensusError with a formatted message.
func newErr(kind Kind, format string, args ...any) *ConsensusError {
	return &ConsensusError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *ConsensusError of the given kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := err.(*ConsensusError)
	return ok && ce.Kind == kind
}

var (
	ErrNotLeader            = &ConsensusError{Kind: KindNotLeader, Msg: "replica is not the leader in its current term"}
	ErrServiceUnavailable   = &ConsensusError{Kind: KindServiceUnavailable, Msg: "tablet is shutting down"}
	ErrConfigAlreadyPending = &ConsensusError{Kind: KindConfigChangeAlreadyPending, Msg: "a configuration change is already pending"}
)

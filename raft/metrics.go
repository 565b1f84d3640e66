package raft

// Recorder receives consensus events for observability. The no-op
// implementation is the default; PrometheusRecorder (metrics_prometheus.go)
// is supplied via WithMetrics when callers want real metrics exported.
type Recorder interface {
	TermChanged(term uint64)
	RoleChanged(role Role)
	ElectionStarted(mode ElectionMode)
	ElectionDecided(outcome ElectionOutcome)
	CommitIndexAdvanced(index uint64)
	PeerFailed(peer PeerId)
	UpdateLatency(peer PeerId, seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) TermChanged(uint64)                  {}
func (noopRecorder) RoleChanged(Role)                    {}
func (noopRecorder) ElectionStarted(ElectionMode)        {}
func (noopRecorder) ElectionDecided(ElectionOutcome)     {}
func (noopRecorder) CommitIndexAdvanced(uint64)          {}
func (noopRecorder) PeerFailed(PeerId)                   {}
func (noopRecorder) UpdateLatency(PeerId, float64)       {}

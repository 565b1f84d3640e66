package raft

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder by exporting the standard
// consensus gauges and counters described in §9's observability note,
// registered under the raft_consensus subsystem.
type PrometheusRecorder struct {
	term            prometheus.Gauge
	role            *prometheus.GaugeVec
	electionsTotal  *prometheus.CounterVec
	commitIndex     prometheus.Gauge
	peerFailures    *prometheus.CounterVec
	updateLatencies *prometheus.HistogramVec
}

// NewPrometheusRecorder creates and registers the recorder's metrics
// against reg. tablet labels every series so a process hosting multiple
// tablets reports independent curves.
func NewPrometheusRecorder(reg prometheus.Registerer, tablet TabletId) *PrometheusRecorder {
	labels := prometheus.Labels{"tablet": string(tablet)}

	r := &PrometheusRecorder{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft_consensus",
			Name:        "current_term",
			Help:        "Current Raft term of this replica.",
			ConstLabels: labels,
		}),
		role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "raft_consensus",
			Name:        "role",
			Help:        "1 if this replica is currently in the given role, else 0.",
			ConstLabels: labels,
		}, []string{"role"}),
		electionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raft_consensus",
			Name:        "elections_total",
			Help:        "Number of elections started, by mode and outcome.",
			ConstLabels: labels,
		}, []string{"mode", "outcome"}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft_consensus",
			Name:        "committed_index",
			Help:        "Highest log index known to be committed.",
			ConstLabels: labels,
		}),
		peerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "raft_consensus",
			Name:        "peer_failures_total",
			Help:        "Number of times a peer was marked failed.",
			ConstLabels: labels,
		}, []string{"peer"}),
		updateLatencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "raft_consensus",
			Name:        "update_rpc_seconds",
			Help:        "Update RPC round-trip latency to each peer.",
			ConstLabels: labels,
		}, []string{"peer"}),
	}

	reg.MustRegister(r.term, r.role, r.electionsTotal, r.commitIndex, r.peerFailures, r.updateLatencies)
	return r
}

func (r *PrometheusRecorder) TermChanged(term uint64) {
	r.term.Set(float64(term))
}

func (r *PrometheusRecorder) RoleChanged(role Role) {
	for _, candidate := range []Role{RoleFollower, RoleLeader, RoleLearner, RoleNonVoter} {
		v := 0.0
		if candidate == role {
			v = 1.0
		}
		r.role.WithLabelValues(candidate.String()).Set(v)
	}
}

func (r *PrometheusRecorder) ElectionStarted(mode ElectionMode) {
	r.electionsTotal.WithLabelValues(mode.String(), "STARTED").Inc()
}

func (r *PrometheusRecorder) ElectionDecided(outcome ElectionOutcome) {
	r.electionsTotal.WithLabelValues("", outcome.String()).Inc()
}

func (r *PrometheusRecorder) CommitIndexAdvanced(index uint64) {
	r.commitIndex.Set(float64(index))
}

func (r *PrometheusRecorder) PeerFailed(peer PeerId) {
	r.peerFailures.WithLabelValues(string(peer)).Inc()
}

func (r *PrometheusRecorder) UpdateLatency(peer PeerId, seconds float64) {
	r.updateLatencies.WithLabelValues(string(peer)).Observe(seconds)
}

package raft

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RaftOptions configures one RaftConsensus instance. Zero-value fields
// are filled in by DefaultOptions; callers typically start from
// DefaultOptions() and apply Option values.
type RaftOptions struct {
	FailureDetectorBaseTimeout time.Duration `yaml:"failure_detector_base_timeout"`
	FailureDetectorMaxTimeout  time.Duration `yaml:"failure_detector_max_timeout"`
	UpdateRetryMinBackoff      time.Duration `yaml:"update_retry_min_backoff"`
	UpdateRetryMaxBackoff      time.Duration `yaml:"update_retry_max_backoff"`

	// HeartbeatInterval is how often a leader's peer worker re-sends
	// Update to an already-caught-up follower, and the cap on how long a
	// follower waits before the next one arrives. A newly enqueued entry
	// wakes the worker immediately rather than waiting out this interval
	// (§6 raft_heartbeat_interval).
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// EnablePreElections guards against disruptive re-elections by
	// requiring a pre-vote round before a candidate bumps its term
	// (§4.4, §9 design note on pre-election).
	EnablePreElections bool `yaml:"enable_pre_elections"`

	// LeaderStepDownOnFailedWrites is loaded from YAML and printed by
	// raftctl status. RaftConsensus does not read it: a leader that
	// loses its majority of acks does not step down on its own.
	LeaderStepDownOnFailedWrites bool `yaml:"leader_step_down_on_failed_writes"`

	Logger  *zap.Logger `yaml:"-"`
	Metrics Recorder    `yaml:"-"`
}

// Option mutates a RaftOptions in place.
type Option func(*RaftOptions)

// DefaultOptions returns the baseline configuration used when a caller
// supplies no overrides.
func DefaultOptions() RaftOptions {
	return RaftOptions{
		FailureDetectorBaseTimeout:   1500 * time.Millisecond,
		FailureDetectorMaxTimeout:    10 * time.Second,
		UpdateRetryMinBackoff:        10 * time.Millisecond,
		UpdateRetryMaxBackoff:        1 * time.Second,
		HeartbeatInterval:            500 * time.Millisecond,
		EnablePreElections:           true,
		LeaderStepDownOnFailedWrites: true,
		Logger:                       zap.NewNop(),
		Metrics:                      noopRecorder{},
	}
}

// WithLogger overrides the zap.Logger used for all structured log
// output.
func WithLogger(l *zap.Logger) Option {
	return func(o *RaftOptions) { o.Logger = l }
}

// WithMetrics overrides the Recorder used for consensus metrics.
func WithMetrics(r Recorder) Option {
	return func(o *RaftOptions) { o.Metrics = r }
}

// WithFailureDetectorTimeouts overrides the failure detector's base and
// max timeout window.
func WithFailureDetectorTimeouts(base, max time.Duration) Option {
	return func(o *RaftOptions) {
		o.FailureDetectorBaseTimeout = base
		o.FailureDetectorMaxTimeout = max
	}
}

// WithPreElections toggles the pre-election safeguard.
func WithPreElections(enabled bool) Option {
	return func(o *RaftOptions) { o.EnablePreElections = enabled }
}

// WithHeartbeatInterval overrides how often an idle peer worker re-sends
// Update to an already-caught-up follower.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *RaftOptions) { o.HeartbeatInterval = d }
}

// Apply folds opts onto o in order.
func (o *RaftOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = noopRecorder{}
	}
}

// LoadOptionsFile reads a YAML document at path into a RaftOptions
// layered on top of DefaultOptions, so a config file only needs to
// mention the fields it overrides.
func LoadOptionsFile(path string) (RaftOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RaftOptions{}, fmt.Errorf("raft: read options file: %w", err)
	}

	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return RaftOptions{}, fmt.Errorf("raft: parse options file: %w", err)
	}
	opts.Apply()
	return opts, nil
}

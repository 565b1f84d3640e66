package raft

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions_FillsInSafeDefaults(t *testing.T) {
	opts := DefaultOptions()
	assert.NotZero(t, opts.FailureDetectorBaseTimeout)
	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Metrics)
	assert.True(t, opts.EnablePreElections)
}

func TestRaftOptions_ApplyRunsOptionsInOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.Apply(
		WithPreElections(false),
		WithFailureDetectorTimeouts(time.Second, 5*time.Second),
	)

	assert.False(t, opts.EnablePreElections)
	assert.Equal(t, time.Second, opts.FailureDetectorBaseTimeout)
	assert.Equal(t, 5*time.Second, opts.FailureDetectorMaxTimeout)
}

func TestLoadOptionsFile_OverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raft.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enable_pre_elections: false\n"), 0o644))

	opts, err := LoadOptionsFile(path)
	require.NoError(t, err)

	assert.False(t, opts.EnablePreElections)
	assert.Equal(t, DefaultOptions().FailureDetectorBaseTimeout, opts.FailureDetectorBaseTimeout)
}

func TestLoadOptionsFile_MissingFileReturnsError(t *testing.T) {
	_, err := LoadOptionsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

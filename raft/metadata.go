package raft

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConsensusMetadata is the persistent replica state, flushed atomically
// on every term change or vote (§3, §5 ordering guarantees).
type ConsensusMetadata struct {
	CurrentTerm uint64
	// VotedFor is meaningful only for CurrentTerm; cleared on term
	// advance. Empty means "no vote cast this term".
	VotedFor        PeerId
	CommittedConfig RaftConfig
	PendingConfig   *RaftConfig
	SelfUUID        PeerId
}

func (m ConsensusMetadata) clone() ConsensusMetadata {
	out := m
	out.CommittedConfig = m.CommittedConfig.Clone()
	if m.PendingConfig != nil {
		cfg := m.PendingConfig.Clone()
		out.PendingConfig = &cfg
	}
	return out
}

// MetadataStore loads and atomically flushes ConsensusMetadata for a
// tablet. The on-disk layout is policy, not contract (§6); this
// interface is what the core depends on.
type MetadataStore interface {
	Load(tablet TabletId) (ConsensusMetadata, error)
	Flush(tablet TabletId, md ConsensusMetadata) error
}

// ErrNoMetadata is returned by MetadataStore.Load when no record exists
// yet for the tablet (first boot).
var ErrNoMetadata = fmt.Errorf("raft: no consensus metadata on disk")

// FileMetadataStore persists ConsensusMetadata as one JSON file per
// tablet under dir, using the write-temp/fsync/rename discipline from §6
// so a crash mid-flush never leaves a torn record.
type FileMetadataStore struct {
	dir string
}

// NewFileMetadataStore returns a store rooted at dir, creating it if
// necessary.
func NewFileMetadataStore(dir string) (*FileMetadataStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("raft: create metadata dir: %w", err)
	}
	return &FileMetadataStore{dir: dir}, nil
}

func (s *FileMetadataStore) path(tablet TabletId) string {
	return filepath.Join(s.dir, string(tablet)+".meta.json")
}

func (s *FileMetadataStore) Load(tablet TabletId) (ConsensusMetadata, error) {
	data, err := os.ReadFile(s.path(tablet))
	if err != nil {
		if os.IsNotExist(err) {
			return ConsensusMetadata{}, ErrNoMetadata
		}
		return ConsensusMetadata{}, fmt.Errorf("raft: read metadata: %w", err)
	}

	var md ConsensusMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return ConsensusMetadata{}, newErr(KindCorruption, "metadata file is not valid JSON: %v", err)
	}
	return md, nil
}

func (s *FileMetadataStore) Flush(tablet TabletId, md ConsensusMetadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("raft: marshal metadata: %w", err)
	}

	finalPath := s.path(tablet)
	tmp, err := os.CreateTemp(s.dir, string(tablet)+".meta.*.tmp")
	if err != nil {
		return fmt.Errorf("raft: create temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("raft: write temp metadata file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("raft: fsync temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("raft: close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("raft: rename metadata file: %w", err)
	}
	return nil
}

package raftfake

import (
	"sync"

	"github.com/tabletraft/raft/raft"
)

// MetadataStore is an in-memory raft.MetadataStore, one record per
// tablet, with no simulated crash window.
type MetadataStore struct {
	mu      sync.Mutex
	records map[raft.TabletId]raft.ConsensusMetadata

	FlushCount int
}

var _ raft.MetadataStore = &MetadataStore{}

// NewMetadataStore returns an empty store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{records: map[raft.TabletId]raft.ConsensusMetadata{}}
}

func (s *MetadataStore) Load(tablet raft.TabletId) (raft.ConsensusMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.records[tablet]
	if !ok {
		return raft.ConsensusMetadata{}, raft.ErrNoMetadata
	}
	return md, nil
}

func (s *MetadataStore) Flush(tablet raft.TabletId, md raft.ConsensusMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCount++
	s.records[tablet] = md
	return nil
}

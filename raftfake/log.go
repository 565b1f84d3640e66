// Package raftfake provides in-memory stand-ins for raft's external
// collaborator interfaces (Log, MetadataStore, ReplicaTransactionFactory,
// PeerProxy/PeerProxyFactory), modeled on the in-memory fakes the
// teacher uses for its own acceptor and persistence layers.
package raftfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabletraft/raft/raft"
)

// Log is an in-memory raft.Log. It never actually fails an Append
// unless FailNextAppend is armed, which makes the next Append report an
// injected error.
type Log struct {
	mu      sync.Mutex
	entries []raft.LogEntry

	FailNextAppend bool
}

var _ raft.Log = &Log{}

func (l *Log) Append(ctx context.Context, entries []raft.LogEntry, onDurable func(error)) error {
	l.mu.Lock()
	if l.FailNextAppend {
		l.FailNextAppend = false
		l.mu.Unlock()
		err := fmt.Errorf("raftfake: injected append failure")
		onDurable(err)
		return err
	}
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()

	onDurable(nil)
	return nil
}

func (l *Log) TruncateAfter(ctx context.Context, index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.OpId.Index > index {
			break
		}
		n++
	}
	l.entries = l.entries[:n]
	return nil
}

func (l *Log) LastOpId() raft.OpId {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return raft.OpId{}
	}
	return l.entries[len(l.entries)-1].OpId
}

func (l *Log) GetOpId(index uint64) (raft.OpId, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 {
		return raft.OpId{}, true
	}
	for _, e := range l.entries {
		if e.OpId.Index == index {
			return e.OpId, true
		}
	}
	return raft.OpId{}, false
}

func (l *Log) SetRetention(forDurability, forPeers uint64) {}

func (l *Log) Entries(afterIndex uint64) ([]raft.ReplicateMsg, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		if afterIndex == 0 {
			return nil, true
		}
		return nil, false
	}
	first := l.entries[0].OpId.Index
	if afterIndex != 0 && afterIndex < first-1 {
		return nil, false
	}

	start := int(afterIndex - (first - 1))
	if start < 0 {
		start = 0
	}
	if start > len(l.entries) {
		return nil, false
	}
	out := make([]raft.ReplicateMsg, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.Message)
	}
	return out, true
}

// AllEntries returns a snapshot of every entry currently stored, for
// test assertions.
func (l *Log) AllEntries() []raft.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]raft.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

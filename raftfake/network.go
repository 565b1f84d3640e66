package raftfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/tabletraft/raft/raft"
)

// replicaHandle is the subset of *raft.RaftConsensus the network fake
// needs to deliver an RPC to a peer.
type replicaHandle interface {
	Update(ctx context.Context, req raft.UpdateRequest) (raft.UpdateResponse, error)
	RequestVote(req raft.RequestVoteRequest) (raft.RequestVoteResponse, error)
}

// Network is an in-process registry of replicas reachable by PeerId,
// standing in for a real RPC transport. Partition and Heal let tests
// simulate a network split without touching any timer.
type Network struct {
	mu        sync.Mutex
	replicas  map[raft.PeerId]replicaHandle
	unreachable map[raft.PeerId]map[raft.PeerId]bool
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		replicas:    map[raft.PeerId]replicaHandle{},
		unreachable: map[raft.PeerId]map[raft.PeerId]bool{},
	}
}

// Register makes replica reachable under id.
func (n *Network) Register(id raft.PeerId, replica replicaHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replicas[id] = replica
}

// Partition makes RPCs from `from` to `to` fail until Heal is called
// for the same pair.
func (n *Network) Partition(from, to raft.PeerId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unreachable[from] == nil {
		n.unreachable[from] = map[raft.PeerId]bool{}
	}
	n.unreachable[from][to] = true
}

// Heal reverses a prior Partition call.
func (n *Network) Heal(from, to raft.PeerId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.unreachable[from], to)
}

func (n *Network) canReach(from, to raft.PeerId) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.unreachable[from][to]
}

func (n *Network) handleFor(id raft.PeerId) (replicaHandle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.replicas[id]
	return h, ok
}

// ProxyFactory builds Proxy values backed by Network, for use as a
// raft.PeerProxyFactory. from identifies the calling replica so
// Partition can be direction-aware.
type ProxyFactory struct {
	net  *Network
	from raft.PeerId
}

var _ raft.PeerProxyFactory = &ProxyFactory{}

// NewProxyFactory returns a factory that dials other replicas in net on
// behalf of from.
func NewProxyFactory(net *Network, from raft.PeerId) *ProxyFactory {
	return &ProxyFactory{net: net, from: from}
}

func (f *ProxyFactory) NewProxy(peer raft.PeerInfo) (raft.PeerProxy, error) {
	return &Proxy{net: f.net, from: f.from, to: peer.UUID}, nil
}

// Proxy is an in-process raft.PeerProxy that calls straight into the
// target replica's Update/RequestVote methods, subject to Network's
// partition state.
type Proxy struct {
	net  *Network
	from raft.PeerId
	to   raft.PeerId
}

var _ raft.PeerProxy = &Proxy{}

func (p *Proxy) UpdateAsync(ctx context.Context, req raft.UpdateRequest) (raft.UpdateResponse, error) {
	if !p.net.canReach(p.from, p.to) {
		return raft.UpdateResponse{}, fmt.Errorf("raftfake: %s unreachable from %s", p.to, p.from)
	}
	h, ok := p.net.handleFor(p.to)
	if !ok {
		return raft.UpdateResponse{}, fmt.Errorf("raftfake: no replica registered for %s", p.to)
	}
	return h.Update(ctx, req)
}

func (p *Proxy) RequestVoteAsync(ctx context.Context, req raft.RequestVoteRequest) (raft.RequestVoteResponse, error) {
	if !p.net.canReach(p.from, p.to) {
		return raft.RequestVoteResponse{}, fmt.Errorf("raftfake: %s unreachable from %s", p.to, p.from)
	}
	h, ok := p.net.handleFor(p.to)
	if !ok {
		return raft.RequestVoteResponse{}, fmt.Errorf("raftfake: no replica registered for %s", p.to)
	}
	return h.RequestVote(req)
}

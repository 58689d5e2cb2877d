package core

import (
	"fmt"
	"net/netip"
	"sync"

	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
)

// interestKey identifies one (network, multicast group) a peer has announced.
type interestKey struct {
	nwid  domain.NetworkID
	group [2]uint64
}

// Peer is a directly known remote node: its identity, the precomputed
// session key, the last endpoint it was heard from and the multicast groups
// it has announced interest in.
type Peer struct {
	identity *identity.Identity
	key      [32]byte

	mu        sync.Mutex
	endpoint  netip.AddrPort
	lastSeen  int64
	interests map[interestKey]struct{}
}

// Address returns the peer's overlay address.
func (p *Peer) Address() domain.Address { return p.identity.Address() }

// Identity returns the peer's public identity.
func (p *Peer) Identity() *identity.Identity { return p.identity }

// Endpoint returns the last physical endpoint this peer was heard from.
func (p *Peer) Endpoint() netip.AddrPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoint
}

// LastSeen returns when (ms) the last authenticated packet arrived, 0 for
// never.
func (p *Peer) LastSeen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Peer) noteSeen(now int64, from netip.AddrPort) {
	p.mu.Lock()
	p.lastSeen = now
	if from.IsValid() {
		p.endpoint = from
	}
	p.mu.Unlock()
}

func (p *Peer) noteInterest(nwid domain.NetworkID, group domain.MulticastGroup, added bool) {
	k := interestKey{nwid: nwid, group: group.Key()}
	p.mu.Lock()
	if added {
		p.interests[k] = struct{}{}
	} else {
		delete(p.interests, k)
	}
	p.mu.Unlock()
}

// interestedInMAC reports whether the peer announced any group with this MAC
// on the network, regardless of ADI. Frames on the wire carry no ADI, so the
// flood gate matches on the MAC alone.
func (p *Peer) interestedInMAC(nwid domain.NetworkID, mac domain.MAC) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.interests {
		if k.nwid == nwid && domain.MAC(k.group[0]) == mac {
			return true
		}
	}
	return false
}

// peerRegistry holds all directly known peers. Session keys are computed
// once at add time; the per-packet path only does a map read.
type peerRegistry struct {
	self *identity.Identity

	mu    sync.RWMutex
	peers map[domain.Address]*Peer
}

func newPeerRegistry(self *identity.Identity) *peerRegistry {
	return &peerRegistry{self: self, peers: make(map[domain.Address]*Peer)}
}

func (r *peerRegistry) add(id *identity.Identity, endpoint netip.AddrPort) (*Peer, error) {
	if id.Address() == r.self.Address() {
		return nil, fmt.Errorf("refusing to add self as peer")
	}
	key, err := r.self.Agree(id)
	if err != nil {
		return nil, fmt.Errorf("add peer %s: %w", id.Address(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, have := r.peers[id.Address()]; have {
		existing.mu.Lock()
		if endpoint.IsValid() {
			existing.endpoint = endpoint
		}
		existing.mu.Unlock()
		return existing, nil
	}
	p := &Peer{
		identity:  id.Public(),
		key:       key,
		endpoint:  endpoint,
		interests: make(map[interestKey]struct{}),
	}
	r.peers[id.Address()] = p
	return p, nil
}

func (r *peerRegistry) get(addr domain.Address) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[addr]
}

func (r *peerRegistry) all() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

func (r *peerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// anySeenSince reports whether any peer was heard from at or after cutoff.
func (r *peerRegistry) anySeenSince(cutoff int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		p.mu.Lock()
		seen := p.lastSeen
		p.mu.Unlock()
		if seen >= cutoff && seen > 0 {
			return true
		}
	}
	return false
}

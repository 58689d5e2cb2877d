// Package core implements the node engine: the object that owns the
// identity, the joined networks, the peer registry and the background task
// loop, and that moves packets between the physical wire and virtual network
// taps. The engine never reads a wall clock; every entry point takes the
// current time in milliseconds so callers (and tests) control it.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"meshnode/internal/meshnode/controller"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
	"meshnode/internal/meshnode/network"
	"meshnode/internal/meshnode/state"
	"meshnode/internal/meshnode/tap"
	"meshnode/pkg/config"
	"meshnode/pkg/logger"
	"meshnode/pkg/meter"
)

const (
	// backgroundIntervalMax caps the delay ProcessBackgroundTasks may
	// request before being called again (ms).
	backgroundIntervalMax = 250

	// peerPulseInterval is how often peer liveness and the node's online
	// state are re-evaluated (ms).
	peerPulseInterval = 10_000

	// networkHousekeepingInterval is how often unconfigured networks
	// re-request their config (ms).
	networkHousekeepingInterval = 30_000

	// globalHousekeepingInterval is how often slow-moving state such as
	// the controller auth memo is swept (ms).
	globalHousekeepingInterval = 120_000

	// authMemoRetention is how long a local-controller authorization memo
	// entry stays fresh (ms).
	authMemoRetention = 300_000

	// peerActivityTimeout is how long after the last authenticated packet
	// a peer still counts toward the node being online (ms).
	peerActivityTimeout = 30_000
)

// ErrNetworkNotFound is returned for operations on a network this node has
// not joined.
var ErrNetworkNotFound = errors.New("network not found")

// ErrControllerConflict is returned when a join names a controller
// fingerprint that conflicts with the one already pinned for that network.
var ErrControllerConflict = errors.New("controller fingerprint conflict")

// ErrPeerNotFound is returned when a send targets an address with no known
// peer.
var ErrPeerNotFound = errors.New("peer not found")

// Hooks are the engine's outward-facing callbacks, supplied by the embedding
// daemon. All are required except Event.
type Hooks struct {
	// SendWirePacket transmits a sealed packet to a physical endpoint.
	// localSocket is -1 for "any". Returns false if the send was
	// definitely not made.
	SendWirePacket func(localSocket int64, remote netip.AddrPort, data []byte, ttl int) bool

	// CreateTap creates the virtual network port for a newly joined
	// network.
	CreateTap func(nwid domain.NetworkID) (tap.Tap, error)

	// Event receives engine lifecycle and trace events. Optional.
	Event func(event domain.Event, payload []byte)
}

// authMemoKey identifies one (network, member) local-controller
// authorization.
type authMemoKey struct {
	nwid   domain.NetworkID
	member domain.Address
}

// membershipRecord is the durable join intent for one network.
type membershipRecord struct {
	NetworkID  domain.NetworkID            `json:"networkId"`
	Settings   domain.NetworkLocalSettings `json:"settings"`
	Controller *identity.Fingerprint       `json:"controller,omitempty"`
}

// Node is the engine. One per process.
type Node struct {
	identity *identity.Identity
	store    state.Store
	cfg      *config.Config
	hooks    Hooks
	log      *logger.Logger

	peers *peerRegistry

	networksLock sync.RWMutex
	networks     map[domain.NetworkID]*network.Network
	memberships  map[domain.NetworkID]membershipRecord

	// localController is a controller hosted in this process, if any.
	localControllerLock sync.RWMutex
	localController     controller.Controller

	memoLock sync.Mutex
	authMemo map[authMemoKey]int64

	// backgroundLock serializes ProcessBackgroundTasks; a caller that
	// finds it held returns immediately instead of queueing.
	backgroundLock       sync.Mutex
	lastPeerPulse        int64
	lastNetworkHousekeep int64
	lastGlobalHousekeep  int64

	// deadline is when ProcessBackgroundTasks next wants to run; ingress
	// entry points report it and state changes may pull it earlier.
	deadline       atomic.Int64
	configRetryDue atomic.Bool

	onlineLock sync.Mutex
	online     bool

	ifAddrLock sync.Mutex
	ifAddrs    []netip.AddrPort

	bytesIn  meter.Meter
	bytesOut meter.Meter

	startedAt int64
}

// New builds a node engine: it loads or generates the identity, restores
// previously joined networks from the state store and reports EventUp.
func New(cfg *config.Config, store state.Store, hooks Hooks, log *logger.Logger, now int64) (*Node, error) {
	n := &Node{
		store:       store,
		cfg:         cfg,
		hooks:       hooks,
		log:         log.WithField("component", "node"),
		networks:    make(map[domain.NetworkID]*network.Network),
		memberships: make(map[domain.NetworkID]membershipRecord),
		authMemo:    make(map[authMemoKey]int64),
		startedAt:   now,
	}
	n.deadline.Store(now)

	id, err := n.loadOrGenerateIdentity()
	if err != nil {
		return nil, err
	}
	n.identity = id
	n.peers = newPeerRegistry(id)
	n.log = n.log.WithField("address", id.Address().String())

	if err := n.restoreNetworks(now); err != nil {
		return nil, err
	}

	n.log.Info("node up", "networks", len(n.networks))
	n.event(domain.EventUp, nil)
	return n, nil
}

func (n *Node) loadOrGenerateIdentity() (*identity.Identity, error) {
	data, err := n.store.Get(domain.StateObjectIdentitySecret, "")
	if err == nil {
		id, perr := identity.NewFromString(string(data))
		if perr != nil {
			return nil, fmt.Errorf("stored identity is corrupt: %w", perr)
		}
		if !id.HasPrivate() {
			return nil, fmt.Errorf("stored identity has no private key")
		}
		return id, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	secret, err := id.PrivateString()
	if err != nil {
		return nil, err
	}
	if err := n.store.Put(domain.StateObjectIdentitySecret, "", []byte(secret)); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	if err := n.store.Put(domain.StateObjectIdentityPublic, "", []byte(id.String())); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	n.log.Info("generated new identity", "address", id.Address().String())
	return id, nil
}

func (n *Node) restoreNetworks(now int64) error {
	ids, err := n.store.List(domain.StateObjectNetworkMembership)
	if err != nil {
		return fmt.Errorf("restore networks: %w", err)
	}
	for _, idStr := range ids {
		data, err := n.store.Get(domain.StateObjectNetworkMembership, idStr)
		if err != nil {
			continue
		}
		var rec membershipRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			n.log.Warn("dropping corrupt membership record", "id", idStr, "error", err)
			continue
		}
		nw, err := n.joinNetwork(now, rec, false)
		if err != nil {
			n.log.Error("failed to restore network", "network", idStr, "error", err)
			continue
		}

		// re-apply the last cached controller config so addresses and
		// routes come back before the controller is reachable
		if cached, err := n.store.Get(domain.StateObjectNetworkConfig, idStr); err == nil {
			if nc, err := decodeCachedConfig(cached); err == nil {
				if err := nw.ApplyConfig(*nc); err != nil {
					n.log.Warn("cached network config rejected", "network", idStr, "error", err)
				}
			}
		}
	}
	return nil
}

func decodeCachedConfig(data []byte) (*domain.NetworkConfig, error) {
	var nc domain.NetworkConfig
	if err := json.Unmarshal(data, &nc); err != nil {
		return nil, err
	}
	return &nc, nil
}

// Identity returns this node's identity (with private key).
func (n *Node) Identity() *identity.Identity { return n.identity }

// Address returns this node's overlay address.
func (n *Node) Address() domain.Address { return n.identity.Address() }

// SetLocalController hosts a network controller in this process. Requests
// for networks whose controller address equals this node's address are
// routed to it instead of the wire.
func (n *Node) SetLocalController(c controller.Controller) {
	n.localControllerLock.Lock()
	n.localController = c
	n.localControllerLock.Unlock()
	if c != nil {
		c.Attach(n)
	}
}

func (n *Node) localControllerRef() controller.Controller {
	n.localControllerLock.RLock()
	defer n.localControllerLock.RUnlock()
	return n.localController
}

// Join joins a network, creating its tap and persisting the membership so it
// survives restarts. controllerFingerprint, if non-nil, pins the network's
// controller identity; a later join (or config push) from a conflicting
// controller identity fails with ErrControllerConflict. Joining an already
// joined network is idempotent.
func (n *Node) Join(now int64, nwid domain.NetworkID, controllerFingerprint *identity.Fingerprint) (*network.Network, error) {
	rec := membershipRecord{
		NetworkID:  nwid,
		Settings:   n.defaultSettings(),
		Controller: controllerFingerprint,
	}
	return n.joinNetwork(now, rec, true)
}

func (n *Node) joinNetwork(now int64, rec membershipRecord, persist bool) (*network.Network, error) {
	nwid := rec.NetworkID

	n.networksLock.Lock()
	if existing, have := n.networks[nwid]; have {
		pinned := n.memberships[nwid].Controller
		if rec.Controller != nil && pinned != nil && !pinned.Equal(*rec.Controller) {
			n.networksLock.Unlock()
			return nil, ErrControllerConflict
		}
		if rec.Controller != nil && pinned == nil {
			m := n.memberships[nwid]
			m.Controller = rec.Controller
			n.memberships[nwid] = m
			if persist {
				n.persistMembership(m)
			}
		}
		n.networksLock.Unlock()
		return existing, nil
	}
	n.networksLock.Unlock()

	// tap creation can block on the OS; do it outside the lock
	t, err := n.hooks.CreateTap(nwid)
	if err != nil {
		return nil, fmt.Errorf("create tap for %s: %w", nwid, err)
	}

	nw := network.New(nwid, n.identity.Address(), t, rec.Settings, n, n.log)

	n.networksLock.Lock()
	if existing, have := n.networks[nwid]; have {
		// lost a join race; keep the winner
		n.networksLock.Unlock()
		nw.Leave()
		return existing, nil
	}
	n.networks[nwid] = nw
	n.memberships[nwid] = rec
	n.networksLock.Unlock()

	if persist {
		n.persistMembership(rec)
	}
	n.log.Info("joined network", "network", nwid.String())
	n.requestNetworkConfig(now, nw)

	// an unanswered request is retried by housekeeping; pull the deadline
	// in so the retry is prompt rather than a full interval away
	if nw.Config().Status == domain.NetworkStatusRequestingConfiguration {
		n.configRetryDue.Store(true)
		n.pullDeadline(now + backgroundIntervalMax)
	}
	return nw, nil
}

// Leave leaves a network: the tap is released and the membership and cached
// config are removed from the state store.
func (n *Node) Leave(nwid domain.NetworkID) error {
	n.networksLock.Lock()
	nw, have := n.networks[nwid]
	if have {
		delete(n.networks, nwid)
		delete(n.memberships, nwid)
	}
	n.networksLock.Unlock()
	if !have {
		return ErrNetworkNotFound
	}

	nw.Leave()
	if err := n.store.Delete(domain.StateObjectNetworkMembership, nwid.String()); err != nil {
		n.event(domain.EventStateWriteFailed, []byte(nwid.String()))
		n.log.Error("failed to delete membership", "network", nwid.String(), "error", err)
	}
	if err := n.store.Delete(domain.StateObjectNetworkConfig, nwid.String()); err != nil {
		n.log.Warn("failed to delete cached config", "network", nwid.String(), "error", err)
	}
	n.log.Info("left network", "network", nwid.String())
	return nil
}

// Network returns the joined network with the given ID, or nil.
func (n *Node) Network(nwid domain.NetworkID) *network.Network {
	n.networksLock.RLock()
	defer n.networksLock.RUnlock()
	return n.networks[nwid]
}

// Networks returns all joined networks.
func (n *Node) Networks() []*network.Network {
	n.networksLock.RLock()
	defer n.networksLock.RUnlock()
	nws := make([]*network.Network, 0, len(n.networks))
	for _, nw := range n.networks {
		nws = append(nws, nw)
	}
	return nws
}

// SetNetworkSettings replaces a network's local policy settings, re-runs
// reconciliation and persists the new settings.
func (n *Node) SetNetworkSettings(nwid domain.NetworkID, ls domain.NetworkLocalSettings) error {
	nw := n.Network(nwid)
	if nw == nil {
		return ErrNetworkNotFound
	}
	nw.SetLocalSettings(ls)

	n.networksLock.Lock()
	rec, have := n.memberships[nwid]
	if have {
		rec.Settings = ls
		n.memberships[nwid] = rec
	}
	n.networksLock.Unlock()
	if have {
		n.persistMembership(rec)
	}
	return nil
}

func (n *Node) defaultSettings() domain.NetworkLocalSettings {
	return domain.NetworkLocalSettings{
		AllowManagedIPs:           n.cfg.Network.AllowManagedIPs,
		AllowGlobalIPs:            n.cfg.Network.AllowGlobalIPs,
		AllowManagedRoutes:        n.cfg.Network.AllowManagedRoutes,
		AllowGlobalRoutes:         n.cfg.Network.AllowGlobalRoutes,
		AllowDefaultRouteOverride: n.cfg.Network.AllowDefaultRouteOverride,
	}
}

func (n *Node) persistMembership(rec membershipRecord) {
	data, err := json.Marshal(rec)
	if err == nil {
		err = n.store.Put(domain.StateObjectNetworkMembership, rec.NetworkID.String(), data)
	}
	if err != nil {
		n.event(domain.EventStateWriteFailed, []byte(rec.NetworkID.String()))
		n.log.Error("failed to persist membership", "network", rec.NetworkID.String(), "error", err)
	}
}

func (n *Node) persistNetworkConfig(nc *domain.NetworkConfig) {
	data, err := json.Marshal(nc)
	if err == nil {
		err = n.store.Put(domain.StateObjectNetworkConfig, nc.ID.String(), data)
	}
	if err != nil {
		n.event(domain.EventStateWriteFailed, []byte(nc.ID.String()))
		n.log.Error("failed to cache network config", "network", nc.ID.String(), "error", err)
	}
}

// AddPeer introduces a remote node: its public identity plus an initial
// physical endpoint. The session key is agreed immediately.
func (n *Node) AddPeer(id *identity.Identity, endpoint netip.AddrPort) (*Peer, error) {
	return n.peers.add(id, endpoint)
}

// Peer returns the known peer with the given address, or nil.
func (n *Node) Peer(addr domain.Address) *Peer {
	return n.peers.get(addr)
}

// Peers returns all known peers.
func (n *Node) Peers() []*Peer {
	return n.peers.all()
}

// SetInterfaceAddresses tells the engine which local physical addresses are
// currently usable for overlay traffic.
func (n *Node) SetInterfaceAddresses(addrs []netip.AddrPort) {
	n.ifAddrLock.Lock()
	n.ifAddrs = append([]netip.AddrPort(nil), addrs...)
	n.ifAddrLock.Unlock()
}

// LocalInterfaceAddresses returns the currently registered local physical
// addresses.
func (n *Node) LocalInterfaceAddresses() []netip.AddrPort {
	n.ifAddrLock.Lock()
	defer n.ifAddrLock.Unlock()
	return append([]netip.AddrPort(nil), n.ifAddrs...)
}

// Online reports whether this node has recently heard from any peer.
func (n *Node) Online() bool {
	n.onlineLock.Lock()
	defer n.onlineLock.Unlock()
	return n.online
}

func (n *Node) setOnline(online bool) {
	n.onlineLock.Lock()
	changed := n.online != online
	n.online = online
	n.onlineLock.Unlock()
	if !changed {
		return
	}
	if online {
		n.log.Info("node online")
		n.event(domain.EventOnline, nil)
	} else {
		n.log.Info("node offline")
		n.event(domain.EventOffline, nil)
	}
}

// Status is a point-in-time summary of the engine for the control API.
type Status struct {
	Address        domain.Address `json:"address"`
	PublicIdentity string         `json:"publicIdentity"`
	Online         bool           `json:"online"`
	Clock          int64          `json:"clock"`
	UptimeMillis   int64          `json:"uptimeMillis"`
	Networks       int            `json:"networks"`
	Peers          int            `json:"peers"`
	BytesIn        uint64         `json:"bytesIn"`
	BytesOut       uint64         `json:"bytesOut"`
	BytesInPerSec  float64        `json:"bytesInPerSec"`
	BytesOutPerSec float64        `json:"bytesOutPerSec"`
}

// Status returns the engine's current status.
func (n *Node) Status(now int64) Status {
	n.networksLock.RLock()
	networks := len(n.networks)
	n.networksLock.RUnlock()

	inRate, inTotal := n.bytesIn.Rate()
	outRate, outTotal := n.bytesOut.Rate()
	return Status{
		Address:        n.identity.Address(),
		PublicIdentity: n.identity.String(),
		Online:         n.Online(),
		Clock:          now,
		UptimeMillis:   now - n.startedAt,
		Networks:       networks,
		Peers:          n.peers.count(),
		BytesIn:        inTotal,
		BytesOut:       outTotal,
		BytesInPerSec:  inRate,
		BytesOutPerSec: outRate,
	}
}

// Close leaves nothing joined in memory but deliberately does not touch the
// state store, so the node comes back up with the same networks. Taps are
// released and EventDown is reported.
func (n *Node) Close() {
	n.networksLock.Lock()
	nws := make([]*network.Network, 0, len(n.networks))
	for _, nw := range n.networks {
		nws = append(nws, nw)
	}
	n.networks = make(map[domain.NetworkID]*network.Network)
	n.memberships = make(map[domain.NetworkID]membershipRecord)
	n.networksLock.Unlock()

	for _, nw := range nws {
		nw.Leave()
	}
	n.log.Info("node down")
	n.event(domain.EventDown, nil)
}

func (n *Node) event(ev domain.Event, payload []byte) {
	if n.hooks.Event != nil {
		n.hooks.Event(ev, payload)
	}
}

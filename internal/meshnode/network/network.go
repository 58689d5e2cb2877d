// Package network implements one joined virtual network: its controller
// configuration, local policy settings, multicast subscription table and tap
// binding. Config/settings state and multicast state are guarded by separate
// locks so a reconciliation in progress never blocks a concurrent multicast
// change (tap callbacks may re-enter multicast operations while config is
// being applied).
package network

import (
	"errors"
	"sync"

	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/tap"
	"meshnode/pkg/logger"
)

// ErrStaleRevision is returned when a controller pushes a config whose
// revision is lower than the one already applied.
var ErrStaleRevision = errors.New("stale network config revision")

// Announcer receives multicast subscription changes so the transport layer
// can advertise them to the rest of the network. Implemented by the node
// engine; calls are fire-and-forget.
type Announcer interface {
	AnnounceMulticastSubscribe(nwid domain.NetworkID, group *domain.MulticastGroup)
	AnnounceMulticastUnsubscribe(nwid domain.NetworkID, group *domain.MulticastGroup)
}

// Network is a currently joined virtual network.
type Network struct {
	id        domain.NetworkID
	mac       domain.MAC
	tap       tap.Tap
	announcer Announcer
	log       *logger.Logger

	// config and settings share configLock; the subscription table has
	// its own lock. Never hold both at once.
	config     domain.NetworkConfig
	settings   domain.NetworkLocalSettings
	configLock sync.RWMutex

	subscriptions     map[[2]uint64]*domain.MulticastGroup
	subscriptionsLock sync.RWMutex

	leaveOnce sync.Once
}

// New creates a Network bound to the given tap, seeded with a placeholder
// config in the requesting-configuration state. OS-observed multicast group
// changes on the tap are bridged into the subscription table; the bridge is
// one-directional (the table never calls back into the tap).
func New(id domain.NetworkID, member domain.Address, t tap.Tap, defaults domain.NetworkLocalSettings, announcer Announcer, log *logger.Logger) *Network {
	mac := domain.NewMACForNetworkMember(member, id)
	n := &Network{
		id:        id,
		mac:       mac,
		tap:       t,
		announcer: announcer,
		log:       log.WithField("network", id.String()),
		config: domain.NetworkConfig{
			ID:     id,
			MAC:    mac,
			Status: domain.NetworkStatusRequestingConfiguration,
			Type:   domain.NetworkTypePrivate,
			MTU:    domain.DefaultMTU,
		},
		settings:      defaults,
		subscriptions: make(map[[2]uint64]*domain.MulticastGroup),
	}

	t.AddMulticastGroupChangeHandler(func(added bool, group *domain.MulticastGroup) {
		if added {
			n.MulticastSubscribe(group)
		} else {
			n.MulticastUnsubscribe(group)
		}
	})

	return n
}

// ID returns this network's unique ID.
func (n *Network) ID() domain.NetworkID { return n.id }

// MAC returns this node's MAC address on this network.
func (n *Network) MAC() domain.MAC { return n.mac }

// Tap returns this network's tap device.
func (n *Network) Tap() tap.Tap { return n.tap }

// Config returns a snapshot of the current configuration. Callers never get
// a live reference and can read it without holding any lock.
func (n *Network) Config() domain.NetworkConfig {
	n.configLock.RLock()
	defer n.configLock.RUnlock()
	return n.config
}

// LocalSettings returns the current local policy settings.
func (n *Network) LocalSettings() domain.NetworkLocalSettings {
	n.configLock.RLock()
	defer n.configLock.RUnlock()
	return n.settings
}

// SetLocalSettings replaces the local policy settings and re-runs
// reconciliation against the current config.
func (n *Network) SetLocalSettings(ls domain.NetworkLocalSettings) {
	_ = n.updateConfig(nil, &ls)
}

// ApplyConfig applies a controller-pushed configuration, re-running
// reconciliation with unchanged settings. A config whose revision is lower
// than the currently applied one is rejected; an equal revision is an
// idempotent re-push and reconciles to zero device operations.
func (n *Network) ApplyConfig(nc domain.NetworkConfig) error {
	if err := n.updateConfig(&nc, nil); err != nil {
		n.log.Warn("ignoring stale network config", "revision", nc.Revision)
		return err
	}
	return nil
}

// SetStatus records a controller-reported status change (access denied, not
// found, authentication required) that arrives without a config body. The
// rest of the config, and any applied IPs and routes, are left alone.
func (n *Network) SetStatus(status domain.NetworkStatus) {
	n.configLock.Lock()
	n.config.Status = status
	n.configLock.Unlock()
	n.log.Info("network status changed", "status", status.String())
}

// Revision returns the currently applied config revision.
func (n *Network) Revision() uint64 {
	n.configLock.RLock()
	defer n.configLock.RUnlock()
	return n.config.Revision
}

// HandleFrame delivers an Ethernet frame arriving from the overlay into the
// tap device.
func (n *Network) HandleFrame(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte) error {
	return n.tap.PutFrame(src, dst, etherType, vlanID, data)
}

// Leave tears the network down, releasing the tap device. Safe to call more
// than once; the tap is closed exactly once.
func (n *Network) Leave() {
	n.leaveOnce.Do(func() {
		if err := n.tap.Close(); err != nil {
			n.log.Warn("tap close failed", "error", err)
		}
	})
}

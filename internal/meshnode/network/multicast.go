package network

import (
	"sort"

	"meshnode/internal/meshnode/domain"
)

// MulticastSubscribe adds a multicast group subscription. The transport
// layer is notified exactly once per true absent-to-present transition;
// re-subscribing an already subscribed group is a silent no-op.
func (n *Network) MulticastSubscribe(group *domain.MulticastGroup) {
	k := group.Key()
	n.subscriptionsLock.Lock()
	if _, have := n.subscriptions[k]; have {
		n.subscriptionsLock.Unlock()
		return
	}
	g := *group
	n.subscriptions[k] = &g
	n.subscriptionsLock.Unlock()

	n.log.Debug("joined multicast group", "group", group.String())
	if n.announcer != nil {
		n.announcer.AnnounceMulticastSubscribe(n.id, group)
	}
}

// MulticastUnsubscribe removes a multicast group subscription. The removal
// is announced to the transport layer whether or not the group was present;
// unsubscription is idempotent at the notification layer.
func (n *Network) MulticastUnsubscribe(group *domain.MulticastGroup) {
	n.subscriptionsLock.Lock()
	delete(n.subscriptions, group.Key())
	n.subscriptionsLock.Unlock()

	n.log.Debug("left multicast group", "group", group.String())
	if n.announcer != nil {
		n.announcer.AnnounceMulticastUnsubscribe(n.id, group)
	}
}

// SubscribedTo reports whether this network currently subscribes to group.
func (n *Network) SubscribedTo(group *domain.MulticastGroup) bool {
	n.subscriptionsLock.RLock()
	_, have := n.subscriptions[group.Key()]
	n.subscriptionsLock.RUnlock()
	return have
}

// SubscribedToMAC reports whether any subscription exists for the MAC,
// regardless of ADI. Ethernet frames carry no ADI, so delivery gates match
// on the MAC alone.
func (n *Network) SubscribedToMAC(mac domain.MAC) bool {
	n.subscriptionsLock.RLock()
	defer n.subscriptionsLock.RUnlock()
	for _, g := range n.subscriptions {
		if g.MAC == mac {
			return true
		}
	}
	return false
}

// MulticastSubscriptions enumerates all current subscriptions in the total
// order (MAC, ADI), for stable diffing and display.
func (n *Network) MulticastSubscriptions() []*domain.MulticastGroup {
	n.subscriptionsLock.RLock()
	groups := make([]*domain.MulticastGroup, 0, len(n.subscriptions))
	for _, g := range n.subscriptions {
		groups = append(groups, g)
	}
	n.subscriptionsLock.RUnlock()
	sort.Slice(groups, func(a, b int) bool { return groups[a].Less(groups[b]) })
	return groups
}

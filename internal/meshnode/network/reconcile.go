package network

import "meshnode/internal/meshnode/domain"

// managedIPAllowed decides whether a managed IP assignment is permitted
// under the given settings. Unspecified, loopback, link-local and multicast
// addresses are never allowed; globally routable addresses additionally
// require the global gate.
func managedIPAllowed(ip *domain.InetAddress, ls *domain.NetworkLocalSettings) bool {
	if !ls.AllowManagedIPs {
		return false
	}
	switch domain.ClassifyIP(ip.IP) {
	case domain.IPClassificationNone, domain.IPClassificationLoopback,
		domain.IPClassificationLinkLocal, domain.IPClassificationMulticast:
		return false
	case domain.IPClassificationGlobal:
		return ls.AllowGlobalIPs
	}
	return true
}

// managedRouteAllowed decides whether a managed route is permitted under the
// given settings. The default route is special: it requires the explicit
// override gate, independent of the global-routes gate.
func managedRouteAllowed(r *domain.Route, ls *domain.NetworkLocalSettings) bool {
	if !ls.AllowManagedRoutes {
		return false
	}
	if r.IsDefault() {
		return ls.AllowDefaultRouteOverride
	}
	switch domain.ClassifyIP(r.Target.IP) {
	case domain.IPClassificationNone, domain.IPClassificationLoopback,
		domain.IPClassificationLinkLocal, domain.IPClassificationMulticast:
		return false
	case domain.IPClassificationGlobal:
		return ls.AllowGlobalRoutes
	}
	return true
}

// updateConfig reconciles the device against a new config and/or new local
// settings. A nil argument means "keep the current value but still re-derive
// wanted state". The delta applied to the tap is computed from what the
// previous (config, settings) pair proves we added earlier, never from
// querying the device, so IPs and routes assigned externally (e.g. by the
// operator with OS tooling) are left alone. Re-running with identical inputs
// applies zero device operations.
//
// Staleness is decided inside the same critical section that commits:
// concurrent pushes are ordered by configLock, and whichever applies second
// sees the first one's revision.
func (n *Network) updateConfig(nc *domain.NetworkConfig, ls *domain.NetworkLocalSettings) error {
	n.configLock.Lock()
	defer n.configLock.Unlock()

	if n.tap == nil { // sanity check, should never happen
		return nil
	}
	if nc != nil && nc.Revision < n.config.Revision {
		return ErrStaleRevision
	}

	if nc == nil {
		nc = &n.config
	}
	if ls == nil {
		ls = &n.settings
	}

	// Managed IPs: have = allowed under the old settings from the old
	// config, want = allowed under the new settings from the new config.
	haveIPs := make(map[[3]uint64]*domain.InetAddress)
	if n.settings.AllowManagedIPs {
		for i := range n.config.AssignedAddresses {
			ip := &n.config.AssignedAddresses[i]
			if managedIPAllowed(ip, &n.settings) {
				haveIPs[ip.Key()] = ip
			}
		}
	}
	wantIPs := make(map[[3]uint64]bool)
	if ls.AllowManagedIPs {
		for i := range nc.AssignedAddresses {
			ip := &nc.AssignedAddresses[i]
			if managedIPAllowed(ip, ls) {
				k := ip.Key()
				wantIPs[k] = true
				if _, have := haveIPs[k]; !have {
					n.log.Info("adding managed IP", "ip", ip.String())
					if err := n.tap.AddIP(ip); err != nil {
						n.log.Warn("tap add IP failed", "ip", ip.String(), "error", err)
					}
				}
			}
		}
	}
	for k, ip := range haveIPs {
		if !wantIPs[k] {
			n.log.Info("removing managed IP", "ip", ip.String())
			if err := n.tap.RemoveIP(ip); err != nil {
				n.log.Warn("tap remove IP failed", "ip", ip.String(), "error", err)
			}
		}
	}

	// Managed routes, same dance.
	haveRoutes := make(map[[6]uint64]*domain.Route)
	if n.settings.AllowManagedRoutes {
		for i := range n.config.Routes {
			r := &n.config.Routes[i]
			if managedRouteAllowed(r, &n.settings) {
				haveRoutes[r.Key()] = r
			}
		}
	}
	wantRoutes := make(map[[6]uint64]bool)
	if ls.AllowManagedRoutes {
		for i := range nc.Routes {
			r := &nc.Routes[i]
			if managedRouteAllowed(r, ls) {
				k := r.Key()
				wantRoutes[k] = true
				if _, have := haveRoutes[k]; !have {
					n.log.Info("adding managed route", "route", r.String())
					if err := n.tap.AddRoute(r); err != nil {
						n.log.Warn("tap add route failed", "route", r.String(), "error", err)
					}
				}
			}
		}
	}
	for k, r := range haveRoutes {
		if !wantRoutes[k] {
			n.log.Info("removing managed route", "route", r.String())
			if err := n.tap.RemoveRoute(r); err != nil {
				n.log.Warn("tap remove route failed", "route", r.String(), "error", err)
			}
		}
	}

	// Commit: these become the "old" state of the next reconciliation.
	if nc != &n.config {
		n.config = *nc
	}
	if ls != &n.settings {
		n.settings = *ls
	}
	return nil
}

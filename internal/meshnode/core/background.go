package core

import (
	"meshnode/internal/meshnode/domain"
)

// ProcessBackgroundTasks runs the engine's periodic work: peer liveness and
// online-state evaluation, config re-requests for unconfigured networks and
// slow sweeps of the controller auth memo. It returns the time (ms) by which
// it wants to be called again.
//
// Concurrent calls coalesce: if a run is already in progress the caller
// returns immediately with a short deadline instead of queueing behind it.
func (n *Node) ProcessBackgroundTasks(now int64) int64 {
	if !n.backgroundLock.TryLock() {
		return now + backgroundIntervalMax
	}
	defer n.backgroundLock.Unlock()

	if now-n.lastPeerPulse >= peerPulseInterval {
		n.lastPeerPulse = now
		n.pulsePeers(now)
	}
	if n.configRetryDue.Swap(false) || now-n.lastNetworkHousekeep >= networkHousekeepingInterval {
		n.lastNetworkHousekeep = now
		n.housekeepNetworks(now)
	}
	if now-n.lastGlobalHousekeep >= globalHousekeepingInterval {
		n.lastGlobalHousekeep = now
		n.sweepAuthMemo(now)
	}

	next := minDeadline(
		n.lastPeerPulse+peerPulseInterval,
		n.lastNetworkHousekeep+networkHousekeepingInterval,
		n.lastGlobalHousekeep+globalHousekeepingInterval,
	)
	if next <= now {
		next = now + backgroundIntervalMax
	}
	n.deadline.Store(next)
	return next
}

// nextDeadline returns the stored next background deadline, clamped so it is
// never in the past.
func (n *Node) nextDeadline(now int64) int64 {
	if d := n.deadline.Load(); d > now {
		return d
	}
	return now
}

// pullDeadline moves the next background deadline earlier, never later.
func (n *Node) pullDeadline(d int64) {
	for {
		cur := n.deadline.Load()
		if cur <= d {
			return
		}
		if n.deadline.CompareAndSwap(cur, d) {
			return
		}
	}
}

func minDeadline(deadlines ...int64) int64 {
	m := deadlines[0]
	for _, d := range deadlines[1:] {
		if d < m {
			m = d
		}
	}
	return m
}

// pulsePeers recomputes the node's online state from recent peer activity.
func (n *Node) pulsePeers(now int64) {
	n.setOnline(n.peers.anySeenSince(now - peerActivityTimeout))
}

// housekeepNetworks re-requests configuration for networks that still have
// none (or lost their controller mid-request).
func (n *Node) housekeepNetworks(now int64) {
	for _, nw := range n.Networks() {
		status := nw.Config().Status
		if status == domain.NetworkStatusRequestingConfiguration {
			n.requestNetworkConfig(now, nw)
		}
	}
}

// NoteLocalControllerAuthorized records that the in-process controller
// authorized a member on a network. The memo is advisory: it lets the next
// config request within the retention window skip a full authorization
// re-check. It is never persisted.
func (n *Node) NoteLocalControllerAuthorized(now int64, nwid domain.NetworkID, member domain.Address) {
	n.memoLock.Lock()
	n.authMemo[authMemoKey{nwid: nwid, member: member}] = now
	n.memoLock.Unlock()
}

// LocalControllerHasAuthorized reports whether the member was authorized on
// the network within the retention window. A false answer means "do the full
// check", not "denied".
func (n *Node) LocalControllerHasAuthorized(now int64, nwid domain.NetworkID, member domain.Address) bool {
	n.memoLock.Lock()
	ts, have := n.authMemo[authMemoKey{nwid: nwid, member: member}]
	n.memoLock.Unlock()
	return have && now-ts <= authMemoRetention
}

func (n *Node) sweepAuthMemo(now int64) {
	n.memoLock.Lock()
	for k, ts := range n.authMemo {
		if now-ts > authMemoRetention {
			delete(n.authMemo, k)
		}
	}
	n.memoLock.Unlock()
}

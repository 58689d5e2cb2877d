package core

import (
	"encoding/json"
	"net/netip"

	"meshnode/internal/meshnode/controller"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/network"
	"meshnode/internal/meshnode/wire"
)

// ProcessWirePacket handles one packet arriving from the physical network.
// Unparseable, unauthenticated or misaddressed packets are dropped with
// ResultOK (the wire is allowed to carry garbage); only genuinely local
// failures produce other codes. The second return is the time (ms) by which
// ProcessBackgroundTasks next wants to run, so embedders driving the engine
// directly learn when ingress moved the deadline.
func (n *Node) ProcessWirePacket(now int64, localSocket int64, remote netip.AddrPort, data []byte) (domain.ResultCode, int64) {
	return n.processWirePacket(now, remote, data), n.nextDeadline(now)
}

func (n *Node) processWirePacket(now int64, remote netip.AddrPort, data []byte) domain.ResultCode {
	src, err := wire.PeekSource(data)
	if err != nil {
		n.event(domain.EventPacketInvalid, nil)
		return domain.ResultOK
	}
	peer := n.peers.get(src)
	if peer == nil {
		n.log.Debug("packet from unknown peer", "src", src.String())
		return domain.ResultOK
	}

	pkt, err := wire.Open(data, &peer.key)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(src.String()))
		return domain.ResultOK
	}
	if pkt.Dest != n.identity.Address() {
		// not ours; this engine does not relay
		return domain.ResultOK
	}

	peer.noteSeen(now, remote)
	n.bytesIn.Log(now, uint64(len(data)))
	n.setOnline(true)

	switch pkt.Verb {
	case wire.VerbFrame:
		return n.handleFrame(pkt)
	case wire.VerbExtFrame:
		return n.handleExtFrame(pkt)
	case wire.VerbMulticastLike, wire.VerbMulticastGone:
		return n.handleMulticastLike(peer, pkt)
	case wire.VerbNetworkConfigRequest:
		return n.handleConfigRequest(now, peer, pkt)
	case wire.VerbNetworkConfig:
		return n.handleNetworkConfig(peer, pkt)
	case wire.VerbError:
		return n.handleError(peer, pkt)
	case wire.VerbRevocation:
		return n.handleRevocation(pkt)
	default:
		n.event(domain.EventPacketInvalid, []byte(src.String()))
		return domain.ResultOK
	}
}

func (n *Node) handleFrame(pkt *wire.Packet) domain.ResultCode {
	fp, err := wire.DecodeFrame(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	nw := n.Network(fp.NetworkID)
	if nw == nil {
		return domain.ResultErrNetworkNotFound
	}

	// plain frames imply the members' derived MACs
	srcMAC := domain.NewMACForNetworkMember(pkt.Src, fp.NetworkID)
	if err := nw.HandleFrame(srcMAC, nw.MAC(), fp.EtherType, 0, fp.Data); err != nil {
		n.log.Debug("tap rejected frame", "network", fp.NetworkID.String(), "error", err)
	}
	return domain.ResultOK
}

func (n *Node) handleExtFrame(pkt *wire.Packet) domain.ResultCode {
	fp, err := wire.DecodeExtFrame(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	nw := n.Network(fp.NetworkID)
	if nw == nil {
		return domain.ResultErrNetworkNotFound
	}

	if fp.DestMAC.IsBroadcast() {
		if !nw.Config().BroadcastEnabled {
			return domain.ResultOK
		}
	} else if fp.DestMAC.IsMulticast() {
		// the frame carries no ADI; gate on the MAC across all ADIs
		if !nw.SubscribedToMAC(fp.DestMAC) {
			return domain.ResultOK
		}
	}

	if err := nw.HandleFrame(fp.SrcMAC, fp.DestMAC, fp.EtherType, fp.VlanID, fp.Data); err != nil {
		n.log.Debug("tap rejected frame", "network", fp.NetworkID.String(), "error", err)
	}
	return domain.ResultOK
}

func (n *Node) handleMulticastLike(peer *Peer, pkt *wire.Packet) domain.ResultCode {
	ml, err := wire.DecodeMulticastLike(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	added := pkt.Verb == wire.VerbMulticastLike
	for _, g := range ml.Groups {
		peer.noteInterest(ml.NetworkID, g, added)
	}
	return domain.ResultOK
}

func (n *Node) handleConfigRequest(now int64, peer *Peer, pkt *wire.Packet) domain.ResultCode {
	req, err := wire.DecodeConfigRequest(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}

	ctrl := n.localControllerRef()
	if ctrl == nil || req.NetworkID.Controller() != n.identity.Address() {
		_ = n.SendError(req.NetworkID, pkt.ID, pkt.Src, controller.ErrorObjectNotFound)
		return domain.ResultOK
	}
	ctrl.Request(now, req.NetworkID, pkt.ID, peer.Identity(), req.Revision)
	return domain.ResultOK
}

func (n *Node) handleNetworkConfig(peer *Peer, pkt *wire.Packet) domain.ResultCode {
	nc, err := wire.DecodeNetworkConfig(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	return n.acceptNetworkConfig(nc, pkt.Src, peer)
}

// acceptNetworkConfig is the single entry point for configs from every
// source (wire, local controller loopback). It enforces that the sender is
// the network's controller, and the pinned fingerprint when one exists.
func (n *Node) acceptNetworkConfig(nc *domain.NetworkConfig, from domain.Address, fromPeer *Peer) domain.ResultCode {
	nw := n.Network(nc.ID)
	if nw == nil {
		return domain.ResultErrNetworkNotFound
	}
	if from != nc.ID.Controller() {
		n.log.Warn("network config from non-controller", "network", nc.ID.String(), "from", from.String())
		n.event(domain.EventPacketInvalid, []byte(from.String()))
		return domain.ResultOK
	}

	n.networksLock.RLock()
	pinned := n.memberships[nc.ID].Controller
	n.networksLock.RUnlock()
	if pinned != nil {
		if pinned.Address != from {
			return domain.ResultErrControllerConflict
		}
		if fromPeer != nil && !pinned.Equal(fromPeer.Identity().Fingerprint()) {
			n.log.Warn("controller fingerprint mismatch", "network", nc.ID.String())
			return domain.ResultErrControllerConflict
		}
	}

	if err := nw.ApplyConfig(*nc); err != nil {
		n.log.Debug("network config not applied", "network", nc.ID.String(), "error", err)
		return domain.ResultOK
	}
	n.persistNetworkConfig(nc)
	n.event(domain.EventConfigReceived, []byte(nc.ID.String()))
	return domain.ResultOK
}

func (n *Node) handleError(peer *Peer, pkt *wire.Packet) domain.ResultCode {
	ep, err := wire.DecodeError(pkt.Payload)
	if err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	nw := n.Network(ep.NetworkID)
	if nw == nil {
		return domain.ResultOK
	}
	if pkt.Src != ep.NetworkID.Controller() {
		return domain.ResultOK
	}
	if status := controller.ErrorCode(ep.Code).NetworkStatus(); status != domain.NetworkStatusRequestingConfiguration {
		nw.SetStatus(status)
	}
	return domain.ResultOK
}

func (n *Node) handleRevocation(pkt *wire.Packet) domain.ResultCode {
	var rev controller.Revocation
	if err := json.Unmarshal(pkt.Payload, &rev); err != nil {
		n.event(domain.EventPacketInvalid, []byte(pkt.Src.String()))
		return domain.ResultOK
	}
	if pkt.Src != rev.NetworkID.Controller() {
		return domain.ResultOK
	}
	if nw := n.Network(rev.NetworkID); nw != nil && rev.Target == n.identity.Address() {
		nw.SetStatus(domain.NetworkStatusAccessDenied)
		n.log.Info("credential revoked", "network", rev.NetworkID.String())
	}
	return domain.ResultOK
}

// ProcessVirtualNetworkFrame handles an Ethernet frame leaving a local tap:
// it resolves the destination to overlay addresses and ships the frame to
// the corresponding peers. Like ProcessWirePacket it also reports the next
// background task deadline.
func (n *Node) ProcessVirtualNetworkFrame(now int64, nwid domain.NetworkID, srcMAC, destMAC domain.MAC, etherType uint16, vlanID uint16, frame []byte) (domain.ResultCode, int64) {
	return n.processVirtualNetworkFrame(now, nwid, srcMAC, destMAC, etherType, vlanID, frame), n.nextDeadline(now)
}

func (n *Node) processVirtualNetworkFrame(now int64, nwid domain.NetworkID, srcMAC, destMAC domain.MAC, etherType uint16, vlanID uint16, frame []byte) domain.ResultCode {
	nw := n.Network(nwid)
	if nw == nil {
		return domain.ResultErrNetworkNotFound
	}

	if destMAC.IsBroadcast() || destMAC.IsMulticast() {
		return n.floodFrame(now, nw, srcMAC, destMAC, etherType, vlanID, frame)
	}

	dest := destMAC.ToAddress(nwid)
	if dest == n.identity.Address() {
		// hairpin to ourselves; the OS bridge should have handled this
		return domain.ResultOK
	}
	peer := n.peers.get(dest)
	if peer == nil {
		n.log.Debug("no peer for frame destination", "network", nwid.String(), "dest", dest.String())
		n.event(domain.EventSendFailed, []byte(dest.String()))
		return domain.ResultOK
	}

	payload := wire.EncodeFrame(&wire.FramePayload{NetworkID: nwid, EtherType: etherType, Data: frame})
	n.sendToPeer(now, peer, wire.VerbFrame, payload)
	return domain.ResultOK
}

// floodFrame sends a broadcast or multicast frame to every peer that wants
// it: all peers for broadcast (when enabled), announced subscribers for
// multicast.
func (n *Node) floodFrame(now int64, nw *network.Network, srcMAC, destMAC domain.MAC, etherType uint16, vlanID uint16, frame []byte) domain.ResultCode {
	nwid := nw.ID()
	if destMAC.IsBroadcast() && !nw.Config().BroadcastEnabled {
		return domain.ResultOK
	}

	payload := wire.EncodeExtFrame(&wire.ExtFramePayload{
		NetworkID: nwid,
		DestMAC:   destMAC,
		SrcMAC:    srcMAC,
		EtherType: etherType,
		VlanID:    vlanID,
		Data:      frame,
	})
	for _, peer := range n.peers.all() {
		if !destMAC.IsBroadcast() && !peer.interestedInMAC(nwid, destMAC) {
			continue
		}
		n.sendToPeer(now, peer, wire.VerbExtFrame, payload)
	}
	return domain.ResultOK
}

// sendToPeer seals and transmits one packet. Send failures are reported via
// EventSendFailed but otherwise swallowed; the overlay is datagram
// best-effort.
func (n *Node) sendToPeer(now int64, peer *Peer, verb wire.Verb, payload []byte) {
	sealed := wire.Seal(&wire.Packet{
		ID:      wire.NewPacketID(),
		Dest:    peer.Address(),
		Src:     n.identity.Address(),
		Verb:    verb,
		Payload: payload,
	}, &peer.key)

	endpoint := peer.Endpoint()
	if !endpoint.IsValid() || !n.hooks.SendWirePacket(-1, endpoint, sealed, 0) {
		n.event(domain.EventSendFailed, []byte(peer.Address().String()))
		return
	}
	if now > 0 {
		n.bytesOut.Log(now, uint64(len(sealed)))
	}
}

// requestNetworkConfig asks a network's controller for the current config:
// through the in-process controller when this node hosts it, over the wire
// otherwise. Best effort; housekeeping retries while the network stays
// unconfigured.
func (n *Node) requestNetworkConfig(now int64, nw *network.Network) {
	nwid := nw.ID()
	ctrlAddr := nwid.Controller()

	if ctrlAddr == n.identity.Address() {
		if ctrl := n.localControllerRef(); ctrl != nil {
			ctrl.Request(now, nwid, 0, n.identity.Public(), nw.Revision())
		}
		return
	}

	peer := n.peers.get(ctrlAddr)
	if peer == nil {
		n.log.Debug("controller not yet known", "network", nwid.String(), "controller", ctrlAddr.String())
		return
	}
	payload := wire.EncodeConfigRequest(&wire.ConfigRequestPayload{NetworkID: nwid, Revision: nw.Revision()})
	n.sendToPeer(now, peer, wire.VerbNetworkConfigRequest, payload)
}

// AnnounceMulticastSubscribe implements network.Announcer: the new
// subscription is advertised to every known peer.
func (n *Node) AnnounceMulticastSubscribe(nwid domain.NetworkID, group *domain.MulticastGroup) {
	n.announceMulticast(nwid, group, wire.VerbMulticastLike)
}

// AnnounceMulticastUnsubscribe implements network.Announcer.
func (n *Node) AnnounceMulticastUnsubscribe(nwid domain.NetworkID, group *domain.MulticastGroup) {
	n.announceMulticast(nwid, group, wire.VerbMulticastGone)
}

func (n *Node) announceMulticast(nwid domain.NetworkID, group *domain.MulticastGroup, verb wire.Verb) {
	payload := wire.EncodeMulticastLike(&wire.MulticastLikePayload{
		NetworkID: nwid,
		Groups:    []domain.MulticastGroup{*group},
	})
	// announcements arrive via tap callbacks that carry no clock; they
	// skip the byte meters (now == 0)
	for _, peer := range n.peers.all() {
		n.sendToPeer(0, peer, verb, payload)
	}
}

// SendConfig implements controller.Sender. A config addressed to this node
// short-circuits the wire and is applied directly.
func (n *Node) SendConfig(nwid domain.NetworkID, requestID uint64, dest domain.Address, nc *domain.NetworkConfig) error {
	if dest == n.identity.Address() {
		n.acceptNetworkConfig(nc, nwid.Controller(), nil)
		return nil
	}
	peer := n.peers.get(dest)
	if peer == nil {
		return ErrPeerNotFound
	}
	payload, err := wire.EncodeNetworkConfig(nc)
	if err != nil {
		return err
	}
	n.sendToPeer(0, peer, wire.VerbNetworkConfig, payload)
	return nil
}

// SendError implements controller.Sender.
func (n *Node) SendError(nwid domain.NetworkID, requestID uint64, dest domain.Address, code controller.ErrorCode) error {
	if dest == n.identity.Address() {
		if nw := n.Network(nwid); nw != nil {
			if status := code.NetworkStatus(); status != domain.NetworkStatusRequestingConfiguration {
				nw.SetStatus(status)
			}
		}
		return nil
	}
	peer := n.peers.get(dest)
	if peer == nil {
		return ErrPeerNotFound
	}
	payload := wire.EncodeError(&wire.ErrorPayload{NetworkID: nwid, RequestID: requestID, Code: uint8(code)})
	n.sendToPeer(0, peer, wire.VerbError, payload)
	return nil
}

// SendRevocation implements controller.Sender.
func (n *Node) SendRevocation(dest domain.Address, rev *controller.Revocation) error {
	if dest == n.identity.Address() {
		if nw := n.Network(rev.NetworkID); nw != nil {
			nw.SetStatus(domain.NetworkStatusAccessDenied)
		}
		return nil
	}
	peer := n.peers.get(dest)
	if peer == nil {
		return ErrPeerNotFound
	}
	payload, err := json.Marshal(rev)
	if err != nil {
		return err
	}
	n.sendToPeer(0, peer, wire.VerbRevocation, payload)
	return nil
}

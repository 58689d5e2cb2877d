package core

import (
	"io"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshnode/internal/meshnode/controller"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
	"meshnode/internal/meshnode/state"
	"meshnode/internal/meshnode/tap"
	"meshnode/internal/meshnode/wire"
	"meshnode/pkg/config"
	"meshnode/pkg/logger"
)

// testNode wraps a Node with captured taps, events and a pluggable wire.
type testNode struct {
	*Node
	store state.Store

	mu      sync.Mutex
	taps    map[domain.NetworkID]*tap.SimTap
	events  []domain.Event
	deliver func(data []byte) // nil drops outbound packets
}

func quietLogger() *logger.Logger {
	return logger.NewWithConfig(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func newTestNode(t *testing.T, dir string, now int64) *testNode {
	t.Helper()

	tn := &testNode{taps: make(map[domain.NetworkID]*tap.SimTap)}

	st, err := state.Open("file", dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig
	hooks := Hooks{
		SendWirePacket: func(localSocket int64, remote netip.AddrPort, data []byte, ttl int) bool {
			tn.mu.Lock()
			deliver := tn.deliver
			tn.mu.Unlock()
			if deliver != nil {
				deliver(data)
			}
			return true
		},
		CreateTap: func(nwid domain.NetworkID) (tap.Tap, error) {
			sim := tap.NewSim("sim-" + nwid.String())
			tn.mu.Lock()
			tn.taps[nwid] = sim
			tn.mu.Unlock()
			return sim, nil
		},
		Event: func(ev domain.Event, payload []byte) {
			tn.mu.Lock()
			tn.events = append(tn.events, ev)
			tn.mu.Unlock()
		},
	}

	n, err := New(&cfg, st, hooks, quietLogger(), now)
	require.NoError(t, err)
	tn.Node = n
	tn.store = st
	return tn
}

func (tn *testNode) tap(nwid domain.NetworkID) *tap.SimTap {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.taps[nwid]
}

func (tn *testNode) sawEvent(ev domain.Event) bool {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	for _, e := range tn.events {
		if e == ev {
			return true
		}
	}
	return false
}

// connect wires two nodes back to back: packets one sends arrive at the
// other synchronously, stamped with *clock.
func connect(a, b *testNode, clock *int64) {
	epA := netip.MustParseAddrPort("192.0.2.1:9993")
	epB := netip.MustParseAddrPort("192.0.2.2:9993")
	a.mu.Lock()
	a.deliver = func(data []byte) { b.ProcessWirePacket(*clock, -1, epA, data) }
	a.mu.Unlock()
	b.mu.Lock()
	b.deliver = func(data []byte) { a.ProcessWirePacket(*clock, -1, epB, data) }
	b.mu.Unlock()

	if _, err := a.AddPeer(b.Identity().Public(), epB); err != nil {
		panic(err)
	}
	if _, err := b.AddPeer(a.Identity().Public(), epA); err != nil {
		panic(err)
	}
}

// fakeController answers config requests for exactly one network.
type fakeController struct {
	sender   controller.Sender
	nwid     domain.NetworkID
	revision uint64
	assign   string
	deny     bool
}

func (c *fakeController) Attach(s controller.Sender) { c.sender = s }

func (c *fakeController) Request(now int64, nwid domain.NetworkID, requestID uint64, member *identity.Identity, haveRevision uint64) {
	if nwid != c.nwid {
		_ = c.sender.SendError(nwid, requestID, member.Address(), controller.ErrorObjectNotFound)
		return
	}
	if c.deny {
		_ = c.sender.SendError(nwid, requestID, member.Address(), controller.ErrorAccessDenied)
		return
	}
	addr, err := domain.NewInetAddressFromString(c.assign)
	if err != nil {
		panic(err)
	}
	_ = c.sender.SendConfig(nwid, requestID, member.Address(), &domain.NetworkConfig{
		ID:                nwid,
		MAC:               domain.NewMACForNetworkMember(member.Address(), nwid),
		Name:              "testnet",
		Status:            domain.NetworkStatusOK,
		MTU:               domain.DefaultMTU,
		Revision:          c.revision,
		AssignedAddresses: []domain.InetAddress{addr},
	})
}

func networkFor(n *testNode, low uint64) domain.NetworkID {
	return domain.NetworkID(uint64(n.Address())<<24 | (low & 0xffffff))
}

func TestNew_GeneratesAndPersistsIdentity(t *testing.T) {
	dir := t.TempDir()
	a := newTestNode(t, dir, 1_000)
	addr := a.Address()
	assert.False(t, addr.IsReserved())
	assert.True(t, a.sawEvent(domain.EventUp))
	a.Close()

	// same store, same identity
	b := newTestNode(t, dir, 2_000)
	assert.Equal(t, addr, b.Address())
}

func TestJoin_LocalControllerConfiguresNetwork(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 1)
	a.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.17.2/24"})

	nw, err := a.Join(1_000, nwid, nil)
	require.NoError(t, err)

	cfg := nw.Config()
	assert.Equal(t, domain.NetworkStatusOK, cfg.Status)
	assert.Equal(t, uint64(1), cfg.Revision)
	assert.Equal(t, "testnet", cfg.Name)

	ip, err := domain.NewInetAddressFromString("10.147.17.2/24")
	require.NoError(t, err)
	assert.True(t, a.tap(nwid).HasIP(ip))
	assert.True(t, a.sawEvent(domain.EventConfigReceived))
}

func TestJoin_IsIdempotentAndPersists(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 2)

	nw1, err := a.Join(1_000, nwid, nil)
	require.NoError(t, err)
	nw2, err := a.Join(1_500, nwid, nil)
	require.NoError(t, err)
	assert.Same(t, nw1, nw2)

	ids, err := a.store.List(domain.StateObjectNetworkMembership)
	require.NoError(t, err)
	assert.Equal(t, []string{nwid.String()}, ids)
}

func TestJoin_ControllerFingerprintConflict(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 3)

	ctrl1, err := identity.Generate()
	require.NoError(t, err)
	ctrl2, err := identity.Generate()
	require.NoError(t, err)

	fp1 := ctrl1.Fingerprint()
	_, err = a.Join(1_000, nwid, &fp1)
	require.NoError(t, err)

	fp2 := ctrl2.Fingerprint()
	_, err = a.Join(1_100, nwid, &fp2)
	assert.ErrorIs(t, err, ErrControllerConflict)

	// re-joining with the pinned fingerprint stays fine
	_, err = a.Join(1_200, nwid, &fp1)
	assert.NoError(t, err)
}

func TestLeave_ReleasesTapAndState(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 4)
	_, err := a.Join(1_000, nwid, nil)
	require.NoError(t, err)

	require.NoError(t, a.Leave(nwid))
	assert.True(t, a.tap(nwid).Closed())
	assert.Nil(t, a.Network(nwid))

	ids, err := a.store.List(domain.StateObjectNetworkMembership)
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.ErrorIs(t, a.Leave(nwid), ErrNetworkNotFound)
}

func TestRestore_RejoinsAndReappliesCachedConfig(t *testing.T) {
	dir := t.TempDir()
	now := int64(1_000)

	a := newTestNode(t, dir, now)
	nwid := networkFor(a, 5)
	a.SetLocalController(&fakeController{nwid: nwid, revision: 3, assign: "10.147.17.9/24"})
	_, err := a.Join(now, nwid, nil)
	require.NoError(t, err)
	a.Close()

	// new process, same state dir, no controller this time
	b := newTestNode(t, dir, now+60_000)
	nw := b.Network(nwid)
	require.NotNil(t, nw)
	assert.Equal(t, uint64(3), nw.Revision())

	ip, err := domain.NewInetAddressFromString("10.147.17.9/24")
	require.NoError(t, err)
	assert.True(t, b.tap(nwid).HasIP(ip))
}

func TestWire_ConfigRequestOverWire(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	nwid := networkFor(b, 6)
	b.SetLocalController(&fakeController{nwid: nwid, revision: 2, assign: "10.147.18.2/24"})

	// joining on a triggers request -> b's controller -> config back to a
	nw, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)

	cfg := nw.Config()
	assert.Equal(t, domain.NetworkStatusOK, cfg.Status)
	assert.Equal(t, uint64(2), cfg.Revision)
	assert.True(t, a.Online())
	assert.True(t, b.Online())
}

func TestWire_AccessDeniedSetsStatus(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	nwid := networkFor(b, 7)
	b.SetLocalController(&fakeController{nwid: nwid, deny: true})

	nw, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkStatusAccessDenied, nw.Config().Status)
}

func TestWire_UnicastFrameDelivery(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	nwid := networkFor(b, 8)
	b.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.19.1/24"})
	_, err := b.Join(clock, nwid, nil)
	require.NoError(t, err)
	aNet, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)

	destMAC := domain.NewMACForNetworkMember(b.Address(), nwid)
	rc, _ := a.ProcessVirtualNetworkFrame(clock, nwid, aNet.MAC(), destMAC, 0x0800, 0, []byte("ping"))
	assert.True(t, rc.OK())

	frames := b.tap(nwid).Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, aNet.MAC(), frames[0].Src)
	assert.Equal(t, b.Network(nwid).MAC(), frames[0].Dst)
	assert.Equal(t, uint16(0x0800), frames[0].EtherType)
	assert.Equal(t, []byte("ping"), frames[0].Data)
}

func TestWire_MulticastFollowsAnnouncedInterest(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	nwid := networkFor(b, 9)
	b.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.20.1/24"})
	_, err := b.Join(clock, nwid, nil)
	require.NoError(t, err)
	aNet, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)

	group := domain.MulticastGroup{MAC: 0x3333ff000001}
	mcast := group.MAC
	bNet := b.Network(nwid)

	// no interest announced yet: flood skips a
	rc, _ := b.ProcessVirtualNetworkFrame(clock, nwid, bNet.MAC(), mcast, 0x86dd, 0, []byte("early"))
	assert.True(t, rc.OK())
	assert.Empty(t, a.tap(nwid).Frames())

	// a subscribes; the subscription is announced to b over the wire
	aNet.MulticastSubscribe(&group)

	rc, _ = b.ProcessVirtualNetworkFrame(clock, nwid, bNet.MAC(), mcast, 0x86dd, 0, []byte("hello"))
	assert.True(t, rc.OK())
	frames := a.tap(nwid).Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, mcast, frames[0].Dst)
	assert.Equal(t, []byte("hello"), frames[0].Data)

	// unsubscribe withdraws the interest
	aNet.MulticastUnsubscribe(&group)
	rc, _ = b.ProcessVirtualNetworkFrame(clock, nwid, bNet.MAC(), mcast, 0x86dd, 0, []byte("late"))
	assert.True(t, rc.OK())
	assert.Len(t, a.tap(nwid).Frames(), 1)
}

// IPv4-style groups carry the address in the ADI; delivery still has to match
// because frames on the wire identify the group by MAC alone.
func TestWire_MulticastGroupWithADIStillDelivers(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	nwid := networkFor(b, 15)
	b.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.20.2/24"})
	_, err := b.Join(clock, nwid, nil)
	require.NoError(t, err)
	aNet, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)

	group := domain.MulticastGroup{MAC: 0x0100_5e13_1402, ADI: 0x0a93_1402}
	aNet.MulticastSubscribe(&group)

	bNet := b.Network(nwid)
	rc, _ := b.ProcessVirtualNetworkFrame(clock, nwid, bNet.MAC(), group.MAC, 0x0800, 0, []byte("v4"))
	assert.True(t, rc.OK())

	frames := a.tap(nwid).Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, group.MAC, frames[0].Dst)
	assert.Equal(t, []byte("v4"), frames[0].Data)
}

func TestProcessWirePacket_DropsGarbage(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	ep := netip.MustParseAddrPort("192.0.2.9:9993")

	rc, _ := a.ProcessWirePacket(1_000, -1, ep, []byte("short"))
	assert.True(t, rc.OK())
	assert.True(t, a.sawEvent(domain.EventPacketInvalid))
	assert.False(t, a.Online())
}

func TestProcessWirePacket_UnknownNetworkFrame(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	key, err := a.Identity().Agree(b.Identity().Public())
	require.NoError(t, err)

	payload := wire.EncodeFrame(&wire.FramePayload{
		NetworkID: domain.NetworkID(0xdeadbeef00000001),
		EtherType: 0x0800,
		Data:      []byte("x"),
	})
	sealed := wire.Seal(&wire.Packet{
		ID:      wire.NewPacketID(),
		Dest:    b.Address(),
		Src:     a.Address(),
		Verb:    wire.VerbFrame,
		Payload: payload,
	}, &key)

	rc, _ := b.ProcessWirePacket(clock, -1, netip.MustParseAddrPort("192.0.2.1:9993"), sealed)
	assert.Equal(t, domain.ResultErrNetworkNotFound, rc)
}

func TestProcessWirePacket_TamperedPacketInvalid(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	key, err := a.Identity().Agree(b.Identity().Public())
	require.NoError(t, err)
	sealed := wire.Seal(&wire.Packet{
		ID:   wire.NewPacketID(),
		Dest: b.Address(),
		Src:  a.Address(),
		Verb: wire.VerbFrame,
	}, &key)
	sealed[len(sealed)-1] ^= 0xff

	rc, _ := b.ProcessWirePacket(clock, -1, netip.MustParseAddrPort("192.0.2.1:9993"), sealed)
	assert.True(t, rc.OK())
	assert.True(t, b.sawEvent(domain.EventPacketInvalid))
}

func TestBackgroundTasks_CoalesceWhenBusy(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)

	a.backgroundLock.Lock()
	next := a.ProcessBackgroundTasks(50_000)
	a.backgroundLock.Unlock()
	assert.Equal(t, int64(50_000+backgroundIntervalMax), next)

	next = a.ProcessBackgroundTasks(50_000)
	assert.Greater(t, next, int64(50_000))
}

func TestIngress_ReportsNextBackgroundDeadline(t *testing.T) {
	clock := int64(10_000)
	a := newTestNode(t, t.TempDir(), clock)

	next := a.ProcessBackgroundTasks(clock)
	require.Greater(t, next, clock)

	// quiescent: ingress reports the deadline the background run computed
	ep := netip.MustParseAddrPort("192.0.2.9:9993")
	rc, deadline := a.ProcessWirePacket(clock, -1, ep, []byte("short"))
	assert.True(t, rc.OK())
	assert.Equal(t, next, deadline)

	// a join whose config request goes unanswered pulls the deadline in
	nwid := networkFor(a, 16)
	_, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)
	rc, deadline = a.ProcessVirtualNetworkFrame(clock, nwid, 0, 0, 0x0800, 0, []byte("x"))
	assert.True(t, rc.OK())
	assert.Equal(t, clock+backgroundIntervalMax, deadline)

	// and the run at that deadline retries the config request
	a.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.23.2/24"})
	a.ProcessBackgroundTasks(deadline)
	assert.Equal(t, domain.NetworkStatusOK, a.Network(nwid).Config().Status)
}

func TestBackgroundTasks_OnlineOfflineTransitions(t *testing.T) {
	clock := int64(100_000)
	a := newTestNode(t, t.TempDir(), clock)
	b := newTestNode(t, t.TempDir(), clock)
	connect(a, b, &clock)

	// any authenticated packet marks the node online
	nwid := networkFor(b, 10)
	b.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.21.1/24"})
	_, err := a.Join(clock, nwid, nil)
	require.NoError(t, err)
	require.True(t, a.Online())

	// silence past the activity timeout flips it back at the next pulse
	a.ProcessBackgroundTasks(clock + peerActivityTimeout + peerPulseInterval)
	assert.False(t, a.Online())
	assert.True(t, a.sawEvent(domain.EventOffline))
}

func TestAuthMemo_RetentionAndSweep(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 11)
	member := domain.Address(0x0011223344)

	now := int64(500_000)
	assert.False(t, a.LocalControllerHasAuthorized(now, nwid, member))

	a.NoteLocalControllerAuthorized(now, nwid, member)
	assert.True(t, a.LocalControllerHasAuthorized(now+authMemoRetention, nwid, member))
	assert.False(t, a.LocalControllerHasAuthorized(now+authMemoRetention+1, nwid, member))

	// the sweep removes expired entries outright
	a.sweepAuthMemo(now + authMemoRetention + 1)
	a.memoLock.Lock()
	assert.Empty(t, a.authMemo)
	a.memoLock.Unlock()
}

func TestSetNetworkSettings_PersistsAndReconciles(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 12)
	a.SetLocalController(&fakeController{nwid: nwid, revision: 1, assign: "10.147.22.2/24"})
	nw, err := a.Join(1_000, nwid, nil)
	require.NoError(t, err)

	ip, err := domain.NewInetAddressFromString("10.147.22.2/24")
	require.NoError(t, err)
	require.True(t, a.tap(nwid).HasIP(ip))

	ls := nw.LocalSettings()
	ls.AllowManagedIPs = false
	require.NoError(t, a.SetNetworkSettings(nwid, ls))
	assert.False(t, a.tap(nwid).HasIP(ip))

	assert.ErrorIs(t, a.SetNetworkSettings(domain.NetworkID(0xdeadbeef00000002), ls), ErrNetworkNotFound)
}

func TestStatus(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	nwid := networkFor(a, 13)
	_, err := a.Join(2_000, nwid, nil)
	require.NoError(t, err)

	st := a.Status(5_000)
	assert.Equal(t, a.Address(), st.Address)
	assert.Equal(t, 1, st.Networks)
	assert.Equal(t, int64(4_000), st.UptimeMillis)
	assert.False(t, st.Online)
}

func TestSetInterfaceAddresses(t *testing.T) {
	a := newTestNode(t, t.TempDir(), 1_000)
	addrs := []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:9993"),
		netip.MustParseAddrPort("[2001:db8::1]:9993"),
	}
	a.SetInterfaceAddresses(addrs)
	assert.Equal(t, addrs, a.LocalInterfaceAddresses())

	// returned slice is a copy
	got := a.LocalInterfaceAddresses()
	got[0] = netip.MustParseAddrPort("192.0.2.99:1")
	assert.Equal(t, addrs, a.LocalInterfaceAddresses())
}

package tap

import (
	"errors"
	"net"
	"sync"

	"meshnode/internal/meshnode/domain"
)

// ErrTapClosed is returned by operations on a closed device.
var ErrTapClosed = errors.New("tap device closed")

// SimFrame is one Ethernet frame delivered into a SimTap.
type SimFrame struct {
	Src       domain.MAC
	Dst       domain.MAC
	EtherType uint16
	VlanID    uint16
	Data      []byte
}

// SimStats counts configuration operations applied to a SimTap, used by
// tests asserting reconciliation deltas.
type SimStats struct {
	AddIP       int
	RemoveIP    int
	AddRoute    int
	RemoveRoute int
}

// SimTap is an in-memory Tap. It records assigned IPs, routes and injected
// frames instead of touching the OS, and lets callers simulate OS-observed
// multicast group changes.
type SimTap struct {
	mu       sync.Mutex
	name     string
	enabled  bool
	closed   bool
	ips      map[[3]uint64]domain.InetAddress
	routes   map[[6]uint64]domain.Route
	frames   []SimFrame
	handlers []MulticastGroupHandler
	stats    SimStats
}

// NewSim creates an enabled in-memory tap device.
func NewSim(name string) *SimTap {
	return &SimTap{
		name:    name,
		enabled: true,
		ips:     make(map[[3]uint64]domain.InetAddress),
		routes:  make(map[[6]uint64]domain.Route),
	}
}

func (t *SimTap) Type() string { return "sim" }

func (t *SimTap) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *SimTap) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *SimTap) AddIP(ip *domain.InetAddress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.stats.AddIP++
	t.ips[ip.Key()] = *ip
	return nil
}

func (t *SimTap) RemoveIP(ip *domain.InetAddress) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.stats.RemoveIP++
	delete(t.ips, ip.Key())
	return nil
}

func (t *SimTap) IPs() ([]net.IPNet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTapClosed
	}
	out := make([]net.IPNet, 0, len(t.ips))
	for _, ip := range t.ips {
		out = append(out, *ip.Net())
	}
	return out, nil
}

func (t *SimTap) AddRoute(r *domain.Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.stats.AddRoute++
	t.routes[r.Key()] = *r
	return nil
}

func (t *SimTap) RemoveRoute(r *domain.Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	t.stats.RemoveRoute++
	delete(t.routes, r.Key())
	return nil
}

func (t *SimTap) DeviceName() string { return t.name }

func (t *SimTap) PutFrame(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	if !t.enabled {
		return nil // disabled taps drop silently, same as a real device
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.frames = append(t.frames, SimFrame{Src: src, Dst: dst, EtherType: etherType, VlanID: vlanID, Data: buf})
	return nil
}

func (t *SimTap) AddMulticastGroupChangeHandler(handler MulticastGroupHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}

func (t *SimTap) Close() error {
	t.mu.Lock()
	t.closed = true
	t.enabled = false
	t.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (t *SimTap) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Frames returns all frames injected so far.
func (t *SimTap) Frames() []SimFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SimFrame, len(t.frames))
	copy(out, t.frames)
	return out
}

// Stats returns a snapshot of the operation counters.
func (t *SimTap) Stats() SimStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// HasIP reports whether the given assignment is currently on the device.
func (t *SimTap) HasIP(ip domain.InetAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ips[ip.Key()]
	return ok
}

// HasRoute reports whether the given route is currently on the device.
func (t *SimTap) HasRoute(r domain.Route) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.routes[r.Key()]
	return ok
}

// SimulateMulticastChange drives the registered handlers as if the OS had
// observed a group join or leave on the device.
func (t *SimTap) SimulateMulticastChange(added bool, group *domain.MulticastGroup) {
	t.mu.Lock()
	handlers := make([]MulticastGroupHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()
	for _, h := range handlers {
		h(added, group)
	}
}

var _ Tap = (*SimTap)(nil)

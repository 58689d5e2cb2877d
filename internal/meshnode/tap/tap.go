// Package tap defines the capability interface for the virtual Ethernet
// device a joined network binds to, plus an in-memory implementation used
// for embedding and tests. The engine only ever talks to this interface;
// platform drivers live behind it.
package tap

import (
	"net"

	"meshnode/internal/meshnode/domain"
)

// FrameHandler receives Ethernet frames read from a tap device (OS to
// overlay direction).
type FrameHandler func(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte)

// MulticastGroupHandler is called when the device observes a multicast group
// join (added=true) or leave (added=false) at the OS level. Handlers may be
// called from any goroutine.
type MulticastGroupHandler func(added bool, group *domain.MulticastGroup)

// Tap is the capability surface of one virtual network interface. All
// methods must be safe for concurrent use. Implementations never get to
// decide policy: the engine tells them exactly which IPs and routes to
// carry, and they report multicast group changes they observe.
type Tap interface {
	// Type returns a short human-readable implementation name.
	Type() string

	// SetEnabled starts or stops packet processing on the device.
	SetEnabled(enabled bool)

	// Enabled returns true if the device is currently processing packets.
	Enabled() bool

	// AddIP assigns an IP (with prefix) to the device.
	AddIP(ip *domain.InetAddress) error

	// RemoveIP removes an IP (with prefix) from the device.
	RemoveIP(ip *domain.InetAddress) error

	// IPs enumerates all IPs currently on the device, including any
	// assigned externally (e.g. by the operator with OS tooling).
	IPs() ([]net.IPNet, error)

	// AddRoute installs a managed route via this device.
	AddRoute(r *domain.Route) error

	// RemoveRoute removes a managed route from this device.
	RemoveRoute(r *domain.Route) error

	// DeviceName returns the OS-level device name, if any.
	DeviceName() string

	// PutFrame injects an Ethernet frame into the device (overlay to OS).
	PutFrame(src, dst domain.MAC, etherType uint16, vlanID uint16, data []byte) error

	// AddMulticastGroupChangeHandler registers a handler for OS-observed
	// multicast group changes.
	AddMulticastGroupChangeHandler(handler MulticastGroupHandler)

	// Close releases the device. Called exactly once, when its network is
	// left.
	Close() error
}

package domain

import (
	"encoding/binary"
	"net"
)

// Route is a static route assigned by a network controller. Via may be nil
// for on-link routes.
type Route struct {
	// Target is the destination prefix.
	Target InetAddress `json:"target"`

	// Via is the gateway, or nil if the target is directly reachable on
	// the network's interface.
	Via net.IP `json:"via,omitempty"`

	// Flags are reserved route flags passed through to the tap layer.
	Flags uint16 `json:"flags"`

	// Metric is the route metric/priority.
	Metric uint16 `json:"metric"`
}

// IsDefault returns true for the all-zero target with a zero prefix length,
// i.e. a default route override.
func (r *Route) IsDefault() bool {
	return r.Target.Bits == 0 && (len(r.Target.IP) == 0 || AllZero(r.Target.IP))
}

// Key returns a fixed-size comparable form used when diffing route sets.
func (r *Route) Key() (k [6]uint64) {
	tk := r.Target.Key()
	k[0], k[1], k[2] = tk[0], tk[1], tk[2]
	if via := r.Via.To16(); via != nil {
		k[3] = binary.BigEndian.Uint64(via[0:8])
		k[4] = binary.BigEndian.Uint64(via[8:16])
	}
	k[5] = (uint64(r.Flags) << 16) | uint64(r.Metric)
	return
}

// String returns "target" or "target via gateway".
func (r Route) String() string {
	if len(r.Via) == 0 {
		return r.Target.String()
	}
	return r.Target.String() + " via " + r.Via.String()
}

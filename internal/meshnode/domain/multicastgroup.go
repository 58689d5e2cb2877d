package domain

import "fmt"

// MulticastGroup identifies a multicast subscription: an Ethernet multicast
// MAC plus a 32-bit additional distinguishing value (for IPv4 ARP-style
// groups the ADI carries the IP; otherwise it is usually zero).
type MulticastGroup struct {
	MAC MAC    `json:"mac"`
	ADI uint32 `json:"adi"`
}

// Key returns a comparable map key for this group.
func (g *MulticastGroup) Key() [2]uint64 {
	return [2]uint64{uint64(g.MAC), uint64(g.ADI)}
}

// Less provides the total order (MAC, then ADI) used for deterministic
// enumeration.
func (g *MulticastGroup) Less(other *MulticastGroup) bool {
	return g.MAC < other.MAC || (g.MAC == other.MAC && g.ADI < other.ADI)
}

// String returns "mac/adi".
func (g MulticastGroup) String() string {
	return fmt.Sprintf("%s/%d", g.MAC.String(), g.ADI)
}

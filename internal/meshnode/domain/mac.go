package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMAC is returned when parsing an Ethernet MAC fails.
var ErrInvalidMAC = errors.New("invalid MAC address")

// MAC is a 48-bit Ethernet address stored in the low bits of a uint64.
type MAC uint64

// NewMACFromString parses a MAC in colon-separated hex form.
func NewMACFromString(s string) (MAC, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return 0, ErrInvalidMAC
	}
	var m uint64
	for _, p := range parts {
		var b uint64
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil || b > 0xff {
			return 0, ErrInvalidMAC
		}
		m = (m << 8) | b
	}
	return MAC(m), nil
}

// NewMACForNetworkMember computes the deterministic MAC a member with the
// given address presents on the given network. The first octet is derived
// from the network ID (forced locally-administered and unicast, with the
// 0x52 value remapped to dodge a known KVM/libvirt prefix clash) and the
// remaining 40 bits are the member address XOR-folded with the rest of the
// network ID so that the same node gets distinct MACs on distinct networks.
func NewMACForNetworkMember(addr Address, nwid NetworkID) MAC {
	first := (uint64(nwid) & 0xfe) | 0x02
	if first == 0x52 {
		first = 0x32
	}
	m := first << 40
	m |= uint64(addr)
	m ^= ((uint64(nwid) >> 8) & 0xff) << 32
	m ^= ((uint64(nwid) >> 16) & 0xff) << 24
	m ^= ((uint64(nwid) >> 24) & 0xff) << 16
	m ^= ((uint64(nwid) >> 32) & 0xff) << 8
	m ^= (uint64(nwid) >> 40) & 0xff
	return MAC(m & 0xffffffffffff)
}

// ToAddress inverts NewMACForNetworkMember, recovering the member address
// from a MAC observed on the given network. The result is only meaningful
// for MACs that were derived this way; bridged MACs map to garbage.
func (m MAC) ToAddress(nwid NetworkID) Address {
	a := uint64(m) & 0xffffffffff
	a ^= ((uint64(nwid) >> 8) & 0xff) << 32
	a ^= ((uint64(nwid) >> 16) & 0xff) << 24
	a ^= ((uint64(nwid) >> 24) & 0xff) << 16
	a ^= ((uint64(nwid) >> 32) & 0xff) << 8
	a ^= (uint64(nwid) >> 40) & 0xff
	return Address(a)
}

// IsBroadcast returns true for the all-ones Ethernet broadcast address.
func (m MAC) IsBroadcast() bool { return m == 0xffffffffffff }

// IsMulticast returns true if the group bit is set.
func (m MAC) IsMulticast() bool { return (m & 0x010000000000) != 0 }

// String returns the colon-separated lowercase hex form.
func (m MAC) String() string {
	return fmt.Sprintf("%.2x:%.2x:%.2x:%.2x:%.2x:%.2x",
		byte(m>>40), byte(m>>32), byte(m>>24), byte(m>>16), byte(m>>8), byte(m))
}

// MarshalJSON marshals this MAC as a string.
func (m MAC) MarshalJSON() ([]byte, error) {
	return []byte("\"" + m.String() + "\""), nil
}

// UnmarshalJSON unmarshals this MAC from a string.
func (m *MAC) UnmarshalJSON(j []byte) error {
	var s string
	if err := json.Unmarshal(j, &s); err != nil {
		return err
	}
	parsed, err := NewMACFromString(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

package domain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidInetAddress is returned when parsing an IP/prefix fails.
var ErrInvalidInetAddress = errors.New("invalid IP address")

// InetAddress is an IP address with a prefix length, the unit of managed IP
// assignment and of route targets.
type InetAddress struct {
	IP   net.IP
	Bits int
}

// NewInetAddressFromString parses "ip/bits". A missing prefix defaults to
// the full host prefix for the address family.
func NewInetAddressFromString(s string) (InetAddress, error) {
	ipStr, bitsStr, hasBits := strings.Cut(s, "/")
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return InetAddress{}, ErrInvalidInetAddress
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	bits := len(ip) * 8
	if hasBits {
		b, err := strconv.Atoi(bitsStr)
		if err != nil || b < 0 || b > len(ip)*8 {
			return InetAddress{}, ErrInvalidInetAddress
		}
		bits = b
	}
	return InetAddress{IP: ip, Bits: bits}, nil
}

// Family returns 4 or 6, or 0 if the address is empty/invalid.
func (a *InetAddress) Family() int {
	switch len(a.IP) {
	case net.IPv4len:
		return 4
	case net.IPv6len:
		if v4 := a.IP.To4(); v4 != nil {
			return 4
		}
		return 6
	}
	return 0
}

// Net converts to a net.IPNet.
func (a *InetAddress) Net() *net.IPNet {
	return &net.IPNet{IP: a.IP, Mask: net.CIDRMask(a.Bits, len(a.normalIP())*8)}
}

// Key returns a fixed-size comparable form used as a map key when diffing
// address sets. IPv4 is mapped into the IPv6 space so mixed representations
// of the same address collide as intended.
func (a *InetAddress) Key() (k [3]uint64) {
	ip := a.normalIP().To16()
	if ip != nil {
		k[0] = binary.BigEndian.Uint64(ip[0:8])
		k[1] = binary.BigEndian.Uint64(ip[8:16])
	}
	k[2] = uint64(a.Bits)
	return
}

func (a *InetAddress) normalIP() net.IP {
	if v4 := a.IP.To4(); v4 != nil {
		return v4
	}
	return a.IP
}

// String returns "ip/bits".
func (a InetAddress) String() string {
	return a.normalIP().String() + "/" + strconv.Itoa(a.Bits)
}

// MarshalJSON marshals this InetAddress as an "ip/bits" string.
func (a InetAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON unmarshals this InetAddress from a string.
func (a *InetAddress) UnmarshalJSON(j []byte) error {
	var s string
	if err := json.Unmarshal(j, &s); err != nil {
		return err
	}
	parsed, err := NewInetAddressFromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IPClassification buckets an IP by routing scope for local policy checks.
type IPClassification int

const (
	IPClassificationNone IPClassification = iota
	IPClassificationLoopback
	IPClassificationLinkLocal
	IPClassificationMulticast
	IPClassificationPrivate
	IPClassificationGlobal
)

func (c IPClassification) String() string {
	switch c {
	case IPClassificationNone:
		return "none"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationLinkLocal:
		return "linklocal"
	case IPClassificationMulticast:
		return "multicast"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationGlobal:
		return "global"
	}
	return fmt.Sprintf("IPClassification(%d)", int(c))
}

// ClassifyIP determines the routing scope of an IP address. Empty and
// unspecified addresses classify as none.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case len(ip) == 0 || ip.IsUnspecified():
		return IPClassificationNone
	case ip.IsLoopback():
		return IPClassificationLoopback
	case ip.IsMulticast():
		return IPClassificationMulticast
	case ip.IsLinkLocalUnicast():
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	default:
		return IPClassificationGlobal
	}
}

// AllZero returns true if every byte of ip is zero (or ip is empty).
func AllZero(ip net.IP) bool {
	for _, b := range ip {
		if b != 0 {
			return false
		}
	}
	return true
}

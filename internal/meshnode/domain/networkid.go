package domain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidNetworkID is returned when parsing a network ID fails.
var ErrInvalidNetworkID = errors.New("invalid network ID")

// NetworkID is a virtual network's 64-bit globally unique identifier. The
// top 40 bits are the address of the network's controller.
type NetworkID uint64

// NewNetworkIDFromString parses a network ID in its 16-hex-digit string form.
func NewNetworkIDFromString(s string) (NetworkID, error) {
	if len(s) != 16 {
		return 0, ErrInvalidNetworkID
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, ErrInvalidNetworkID
	}
	return NetworkID(n), nil
}

// NewNetworkIDFromBytes reads an 8-byte big-endian network ID.
func NewNetworkIDFromBytes(b []byte) (NetworkID, error) {
	if len(b) < 8 {
		return 0, ErrInvalidNetworkID
	}
	return NetworkID(binary.BigEndian.Uint64(b)), nil
}

// Controller returns the address of this network's controller.
func (n NetworkID) Controller() Address {
	return Address(uint64(n) >> 24)
}

// String returns this network ID's 16-digit lowercase hex form.
func (n NetworkID) String() string {
	return fmt.Sprintf("%.16x", uint64(n))
}

// Bytes returns this network ID as 8 big-endian bytes.
func (n NetworkID) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

// MarshalJSON marshals this NetworkID as a string.
func (n NetworkID) MarshalJSON() ([]byte, error) {
	return []byte("\"" + n.String() + "\""), nil
}

// UnmarshalJSON unmarshals this NetworkID from a string.
func (n *NetworkID) UnmarshalJSON(j []byte) error {
	var s string
	if err := json.Unmarshal(j, &s); err != nil {
		return err
	}
	parsed, err := NewNetworkIDFromString(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

package domain

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ErrInvalidAddress is returned when parsing or validating a node address fails.
var ErrInvalidAddress = errors.New("invalid node address")

// Address is a node's 40-bit overlay address, the short identifier derived
// from its identity. The upper 24 bits of the underlying uint64 are always
// zero.
type Address uint64

// NewAddressFromString parses a 10-hex-digit node address.
func NewAddressFromString(s string) (Address, error) {
	if len(s) != 10 {
		return 0, ErrInvalidAddress
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, ErrInvalidAddress
	}
	return Address(n), nil
}

// NewAddressFromBytes reads a 5-byte big-endian node address.
func NewAddressFromBytes(b []byte) (Address, error) {
	if len(b) < 5 {
		return 0, ErrInvalidAddress
	}
	return Address(uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])), nil
}

// IsReserved returns true for addresses that can never be assigned: zero and
// anything in the 0xff prefix (reserved for future protocol use).
func (a Address) IsReserved() bool {
	return a == 0 || (uint64(a)>>32) == 0xff
}

// String returns the canonical 10-hex-digit lowercase form.
func (a Address) String() string {
	s := strconv.FormatUint(uint64(a), 16)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

// Bytes returns the address as 5 big-endian bytes.
func (a Address) Bytes() []byte {
	return []byte{
		byte(a >> 32), byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a),
	}
}

// MarshalJSON marshals this Address as a 10-hex-digit string.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte("\"" + a.String() + "\""), nil
}

// UnmarshalJSON unmarshals this Address from a string.
func (a *Address) UnmarshalJSON(j []byte) error {
	var s string
	if err := json.Unmarshal(j, &s); err != nil {
		return err
	}
	parsed, err := NewAddressFromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

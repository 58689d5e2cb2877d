// Package wire frames and seals overlay packets. The envelope is a small
// cleartext header (packet ID, destination, source, verb) followed by a
// salsa20/poly1305 sealed payload keyed by the sender/receiver session key.
// Fragmentation and path selection are transport concerns and live elsewhere.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"meshnode/internal/meshnode/domain"
)

// Verb identifies what a packet's payload carries.
type Verb byte

const (
	// VerbFrame is a unicast Ethernet frame for a virtual network.
	VerbFrame Verb = iota + 1

	// VerbExtFrame is an Ethernet frame carrying explicit MACs, used when
	// bridging or when the MACs are not the members' derived ones.
	VerbExtFrame

	// VerbMulticastLike advertises multicast group subscriptions.
	VerbMulticastLike

	// VerbMulticastGone withdraws multicast group subscriptions.
	VerbMulticastGone

	// VerbNetworkConfigRequest asks a network's controller for config.
	VerbNetworkConfigRequest

	// VerbNetworkConfig pushes a network configuration to a member.
	VerbNetworkConfig

	// VerbError reports a controller or protocol error.
	VerbError

	// VerbRevocation revokes a member credential.
	VerbRevocation
)

func (v Verb) String() string {
	switch v {
	case VerbFrame:
		return "FRAME"
	case VerbExtFrame:
		return "EXT_FRAME"
	case VerbMulticastLike:
		return "MULTICAST_LIKE"
	case VerbMulticastGone:
		return "MULTICAST_GONE"
	case VerbNetworkConfigRequest:
		return "NETWORK_CONFIG_REQUEST"
	case VerbNetworkConfig:
		return "NETWORK_CONFIG"
	case VerbError:
		return "ERROR"
	case VerbRevocation:
		return "REVOCATION"
	}
	return fmt.Sprintf("VERB_%d", byte(v))
}

// HeaderSize is the cleartext envelope size: packet ID (8) + destination
// address (5) + source address (5) + verb (1).
const HeaderSize = 19

// Overhead is the total sealing overhead on top of the payload.
const Overhead = HeaderSize + secretbox.Overhead

// ErrPacketTooShort is returned for data shorter than a sealed empty packet.
var ErrPacketTooShort = errors.New("packet too short")

// ErrAuthenticationFailed is returned when the poly1305 check fails, i.e.
// the packet is corrupt, replayed under a different header, or keyed wrong.
var ErrAuthenticationFailed = errors.New("packet authentication failed")

// Packet is one decoded overlay packet.
type Packet struct {
	ID      uint64
	Dest    domain.Address
	Src     domain.Address
	Verb    Verb
	Payload []byte
}

// NewPacketID returns a random 64-bit packet ID. IDs double as nonce
// material, so they must never repeat under the same session key within a
// key's lifetime; random 64-bit draws make collisions negligible.
func NewPacketID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// Seal encodes and encrypts p under key. The header is authenticated by
// using it as part of the nonce: any header tamper breaks the poly1305 tag.
func Seal(p *Packet, key *[32]byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(p.Payload)+secretbox.Overhead)
	binary.BigEndian.PutUint64(out[0:8], p.ID)
	copy(out[8:13], p.Dest.Bytes())
	copy(out[13:18], p.Src.Bytes())
	out[18] = byte(p.Verb)

	nonce := nonceFor(out[:HeaderSize])
	return secretbox.Seal(out, p.Payload, &nonce, key)
}

// Open decrypts and decodes a sealed packet.
func Open(data []byte, key *[32]byte) (*Packet, error) {
	if len(data) < Overhead {
		return nil, ErrPacketTooShort
	}
	header := data[:HeaderSize]
	nonce := nonceFor(header)
	payload, ok := secretbox.Open(nil, data[HeaderSize:], &nonce, key)
	if !ok {
		return nil, ErrAuthenticationFailed
	}

	dest, err := domain.NewAddressFromBytes(header[8:13])
	if err != nil {
		return nil, err
	}
	src, err := domain.NewAddressFromBytes(header[13:18])
	if err != nil {
		return nil, err
	}
	return &Packet{
		ID:      binary.BigEndian.Uint64(header[0:8]),
		Dest:    dest,
		Src:     src,
		Verb:    Verb(header[18]),
		Payload: payload,
	}, nil
}

// PeekSource reads the cleartext source address so the receiver can pick
// the session key before attempting to open the packet.
func PeekSource(data []byte) (domain.Address, error) {
	if len(data) < HeaderSize {
		return 0, ErrPacketTooShort
	}
	return domain.NewAddressFromBytes(data[13:18])
}

func nonceFor(header []byte) (nonce [24]byte) {
	copy(nonce[:HeaderSize], header)
	return
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshnode/internal/meshnode/domain"
)

var testKey = [32]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

func TestSealOpen_RoundTrip(t *testing.T) {
	p := &Packet{
		ID:      NewPacketID(),
		Dest:    domain.Address(0x8bd5124fd6),
		Src:     domain.Address(0x0123456789),
		Verb:    VerbFrame,
		Payload: []byte("hello overlay"),
	}

	sealed := Seal(p, &testKey)
	assert.Len(t, sealed, len(p.Payload)+Overhead)

	got, err := Open(sealed, &testKey)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Dest, got.Dest)
	assert.Equal(t, p.Src, got.Src)
	assert.Equal(t, p.Verb, got.Verb)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestOpen_RejectsTamperedHeader(t *testing.T) {
	p := &Packet{ID: 42, Dest: 0x01, Src: 0x02, Verb: VerbExtFrame, Payload: []byte("x")}
	sealed := Seal(p, &testKey)

	// flip a bit in the destination address
	sealed[9] ^= 0x01
	_, err := Open(sealed, &testKey)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpen_RejectsTamperedCiphertext(t *testing.T) {
	p := &Packet{ID: 42, Dest: 0x01, Src: 0x02, Verb: VerbFrame, Payload: []byte("payload")}
	sealed := Seal(p, &testKey)

	sealed[len(sealed)-1] ^= 0xff
	_, err := Open(sealed, &testKey)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	p := &Packet{ID: 1, Dest: 0x01, Src: 0x02, Verb: VerbFrame}
	sealed := Seal(p, &testKey)

	other := testKey
	other[0] ^= 1
	_, err := Open(sealed, &other)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpen_RejectsShortData(t *testing.T) {
	_, err := Open(make([]byte, Overhead-1), &testKey)
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestPeekSource(t *testing.T) {
	p := &Packet{ID: 7, Dest: 0x01, Src: domain.Address(0x8bd5124fd6), Verb: VerbFrame}
	sealed := Seal(p, &testKey)

	src, err := PeekSource(sealed)
	require.NoError(t, err)
	assert.Equal(t, p.Src, src)

	_, err = PeekSource(sealed[:HeaderSize-1])
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestFramePayload_RoundTrip(t *testing.T) {
	in := &FramePayload{
		NetworkID: domain.NetworkID(0x8056c2e21c000001),
		EtherType: 0x0800,
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
	}
	out, err := DecodeFrame(EncodeFrame(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeFrame(make([]byte, 9))
	assert.ErrorIs(t, err, ErrPayloadTruncated)
}

func TestExtFramePayload_RoundTrip(t *testing.T) {
	in := &ExtFramePayload{
		NetworkID: domain.NetworkID(0x8056c2e21c000001),
		DestMAC:   domain.MAC(0xffffffffffff),
		SrcMAC:    domain.NewMACForNetworkMember(0x8bd5124fd6, 0x8056c2e21c000001),
		EtherType: 0x86dd,
		VlanID:    0,
		Data:      []byte("frame body"),
	}
	out, err := DecodeExtFrame(EncodeExtFrame(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMulticastLikePayload_RoundTrip(t *testing.T) {
	in := &MulticastLikePayload{
		NetworkID: domain.NetworkID(0x8056c2e21c000001),
		Groups: []domain.MulticastGroup{
			{MAC: 0xffffffffffff, ADI: 0},
			{MAC: 0x3333ff000001, ADI: 7},
		},
	}
	out, err := DecodeMulticastLike(EncodeMulticastLike(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// record boundary violations are rejected, not truncated silently
	_, err = DecodeMulticastLike(EncodeMulticastLike(in)[:13])
	assert.ErrorIs(t, err, ErrPayloadTruncated)
}

func TestNetworkConfigPayload_RoundTrip(t *testing.T) {
	addr, err := domain.NewInetAddressFromString("10.147.17.5/24")
	require.NoError(t, err)
	in := &domain.NetworkConfig{
		ID:                domain.NetworkID(0x8056c2e21c000001),
		MAC:               domain.NewMACForNetworkMember(0x8bd5124fd6, 0x8056c2e21c000001),
		Name:              "lab",
		Status:            domain.NetworkStatusOK,
		MTU:               domain.DefaultMTU,
		Revision:          3,
		AssignedAddresses: []domain.InetAddress{addr},
	}

	data, err := EncodeNetworkConfig(in)
	require.NoError(t, err)
	out, err := DecodeNetworkConfig(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNetworkConfigPayload_RejectsIDMismatch(t *testing.T) {
	in := &domain.NetworkConfig{ID: domain.NetworkID(0x8056c2e21c000001), Revision: 1}
	data, err := EncodeNetworkConfig(in)
	require.NoError(t, err)

	data[7] ^= 0xff
	_, err = DecodeNetworkConfig(data)
	assert.Error(t, err)
}

func TestErrorPayload_RoundTrip(t *testing.T) {
	in := &ErrorPayload{NetworkID: domain.NetworkID(0x8056c2e21c000001), RequestID: 99, Code: 2}
	out, err := DecodeError(EncodeError(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConfigRequestPayload_RoundTrip(t *testing.T) {
	in := &ConfigRequestPayload{NetworkID: domain.NetworkID(0x8056c2e21c000001), Revision: 12}
	out, err := DecodeConfigRequest(EncodeConfigRequest(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

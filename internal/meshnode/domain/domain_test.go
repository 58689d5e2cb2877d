package domain

import (
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkID_StringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"8056c2e21c000001",
		"0000000000000001",
		"ffffffffffffffff",
		"8BD5124FD6206425", // mixed case in, lowercase out
	} {
		id, err := NewNetworkIDFromString(s)
		require.NoError(t, err, s)
		assert.Equal(t, strings.ToLower(s), id.String())
	}
}

func TestNetworkID_Invalid(t *testing.T) {
	for _, s := range []string{"", "8056c2e21c00", "8056c2e21c0000010", "zzzzzzzzzzzzzzzz"} {
		_, err := NewNetworkIDFromString(s)
		assert.Error(t, err, s)
	}
}

func TestNetworkID_Controller(t *testing.T) {
	id, err := NewNetworkIDFromString("8056c2e21c000001")
	require.NoError(t, err)
	assert.Equal(t, "8056c2e21c", id.Controller().String())
}

func TestNetworkID_BytesRoundTrip(t *testing.T) {
	id := NetworkID(0x8056c2e21c000001)
	b := id.Bytes()
	require.Len(t, b, 8)
	back, err := NewNetworkIDFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestNetworkID_JSON(t *testing.T) {
	id := NetworkID(0x8056c2e21c000001)
	j, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"8056c2e21c000001"`, string(j))

	var back NetworkID
	require.NoError(t, json.Unmarshal(j, &back))
	assert.Equal(t, id, back)
}

func TestAddress_StringAndBytes(t *testing.T) {
	a, err := NewAddressFromString("8bd5124fd6")
	require.NoError(t, err)
	assert.Equal(t, "8bd5124fd6", a.String())

	back, err := NewAddressFromBytes(a.Bytes())
	require.NoError(t, err)
	assert.Equal(t, a, back)

	// leading zeros preserved
	small := Address(0x2a)
	assert.Equal(t, "000000002a", small.String())
}

func TestAddress_Reserved(t *testing.T) {
	assert.True(t, Address(0).IsReserved())
	ff, err := NewAddressFromString("ff00000001")
	require.NoError(t, err)
	assert.True(t, ff.IsReserved())
	ok, err := NewAddressFromString("8bd5124fd6")
	require.NoError(t, err)
	assert.False(t, ok.IsReserved())
}

func TestMAC_ForNetworkMember(t *testing.T) {
	addr := Address(0x8bd5124fd6)
	nwid := NetworkID(0x8056c2e21c000001)

	m := NewMACForNetworkMember(addr, nwid)

	// Locally administered, unicast.
	first := byte(m >> 40)
	assert.NotZero(t, first&0x02)
	assert.Zero(t, first&0x01)

	// Deterministic, and distinct across networks for the same member.
	assert.Equal(t, m, NewMACForNetworkMember(addr, nwid))
	assert.NotEqual(t, m, NewMACForNetworkMember(addr, NetworkID(0x1234567890abcdef)))
}

func TestMAC_ToAddressInvertsDerivation(t *testing.T) {
	for _, addr := range []Address{0x8bd5124fd6, 0x0000000001, 0xfeffffffff} {
		for _, nwid := range []NetworkID{0x8056c2e21c000001, 0x1234567890abcdef} {
			m := NewMACForNetworkMember(addr, nwid)
			assert.Equal(t, addr, m.ToAddress(nwid))
		}
	}
}

func TestMAC_StringRoundTrip(t *testing.T) {
	m := NewMACForNetworkMember(Address(0x8bd5124fd6), NetworkID(0x8056c2e21c000001))
	parsed, err := NewMACFromString(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestInetAddress_ParseAndString(t *testing.T) {
	a, err := NewInetAddressFromString("10.0.0.5/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5/24", a.String())
	assert.Equal(t, 4, a.Family())

	b, err := NewInetAddressFromString("fd00::1/64")
	require.NoError(t, err)
	assert.Equal(t, "fd00::1/64", b.String())
	assert.Equal(t, 6, b.Family())

	// missing prefix defaults to host bits
	c, err := NewInetAddressFromString("192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, 32, c.Bits)
}

func TestInetAddress_ParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-an-ip/24", "10.0.0.5/33", "10.0.0.5/-1", "fd00::1/129"} {
		_, err := NewInetAddressFromString(s)
		assert.Error(t, err, s)
	}
}

func TestInetAddress_KeyCollapsesV4Representations(t *testing.T) {
	a, _ := NewInetAddressFromString("10.0.0.5/24")
	b := InetAddress{IP: net.ParseIP("10.0.0.5"), Bits: 24} // 16-byte form
	assert.Equal(t, a.Key(), b.Key())

	c, _ := NewInetAddressFromString("10.0.0.5/25")
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestInetAddress_JSON(t *testing.T) {
	a, _ := NewInetAddressFromString("10.0.0.5/24")
	j, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"10.0.0.5/24"`, string(j))

	var back InetAddress
	require.NoError(t, json.Unmarshal(j, &back))
	assert.Equal(t, a.Key(), back.Key())
}

func TestClassifyIP(t *testing.T) {
	tests := []struct {
		ip   string
		want IPClassification
	}{
		{"0.0.0.0", IPClassificationNone},
		{"127.0.0.1", IPClassificationLoopback},
		{"169.254.10.1", IPClassificationLinkLocal},
		{"224.0.0.1", IPClassificationMulticast},
		{"10.1.2.3", IPClassificationPrivate},
		{"192.168.0.1", IPClassificationPrivate},
		{"8.8.8.8", IPClassificationGlobal},
		{"::", IPClassificationNone},
		{"::1", IPClassificationLoopback},
		{"fe80::1", IPClassificationLinkLocal},
		{"ff02::1", IPClassificationMulticast},
		{"fd00::1", IPClassificationPrivate},
		{"2001:4860:4860::8888", IPClassificationGlobal},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIP(net.ParseIP(tt.ip)), tt.ip)
		})
	}
	assert.Equal(t, IPClassificationNone, ClassifyIP(nil))
}

func TestRoute_IsDefault(t *testing.T) {
	def, _ := NewInetAddressFromString("0.0.0.0/0")
	r := Route{Target: def}
	assert.True(t, r.IsDefault())

	def6, _ := NewInetAddressFromString("::/0")
	assert.True(t, (&Route{Target: def6}).IsDefault())

	nonDef, _ := NewInetAddressFromString("10.0.0.0/8")
	assert.False(t, (&Route{Target: nonDef}).IsDefault())
}

func TestRoute_KeyIncludesVia(t *testing.T) {
	target, _ := NewInetAddressFromString("10.0.0.0/8")
	a := Route{Target: target}
	b := Route{Target: target, Via: net.ParseIP("10.0.0.1")}
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestMulticastGroup_Order(t *testing.T) {
	a := &MulticastGroup{MAC: 0x0100_5e00_0001, ADI: 0}
	b := &MulticastGroup{MAC: 0x0100_5e00_0001, ADI: 7}
	c := &MulticastGroup{MAC: 0x0100_5e00_0002, ADI: 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.False(t, a.Less(a))
}

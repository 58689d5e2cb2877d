package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	assert.False(t, id.Address().IsReserved())
	assert.True(t, id.HasPrivate())
	assert.Len(t, id.Address().String(), 10)
}

func TestStringRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	// public form drops the private key
	pub, err := NewFromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id.Address(), pub.Address())
	assert.False(t, pub.HasPrivate())

	// private form keeps it
	secret, err := id.PrivateString()
	require.NoError(t, err)
	full, err := NewFromString(secret)
	require.NoError(t, err)
	assert.True(t, full.HasPrivate())
	assert.Equal(t, id.String(), full.String())
}

func TestNewFromString_RejectsTamperedAddress(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	parts := strings.SplitN(id.String(), ":", 2)
	forged := "0000000001:" + parts[1]
	_, err = NewFromString(forged)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestNewFromString_RejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "8bd5124fd6:1:00", "8bd5124fd6:0:zz"} {
		_, err := NewFromString(s)
		assert.Error(t, err, s)
	}
}

func TestAgree_SharedKeyMatches(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	ab, err := a.Agree(b.Public())
	require.NoError(t, err)
	ba, err := b.Agree(a.Public())
	require.NoError(t, err)

	assert.Equal(t, ab, ba, "key agreement must commute")

	c, err := Generate()
	require.NoError(t, err)
	ac, err := a.Agree(c.Public())
	require.NoError(t, err)
	assert.NotEqual(t, ab, ac)
}

func TestAgree_RequiresPrivateKey(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	_, err = a.Public().Agree(b)
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestFingerprint_StringRoundTrip(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)

	fp, err := NewFingerprintFromString(a.Fingerprint().String())
	require.NoError(t, err)
	assert.True(t, fp.Equal(a.Fingerprint()))

	_, err = NewFingerprintFromString("8bd5124fd6")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = NewFingerprintFromString("8bd5124fd6-zz")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestFingerprint(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.True(t, a.Fingerprint().Equal(a.Public().Fingerprint()))
	assert.False(t, a.Fingerprint().Equal(b.Fingerprint()))
}

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshnode/internal/meshnode/domain"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	stores := make(map[string]Store)
	for _, backend := range []string{"sqlite", "file"} {
		s, err := Open(backend, t.TempDir())
		require.NoError(t, err, backend)
		t.Cleanup(func() { _ = s.Close() })
		stores[backend] = s
	}
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(domain.StateObjectNetworkMembership, "8056c2e21c000001")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(domain.StateObjectNetworkMembership, "8056c2e21c000001", []byte(`{"joined":true}`)))

			data, err := s.Get(domain.StateObjectNetworkMembership, "8056c2e21c000001")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"joined":true}`), data)

			// overwrite
			require.NoError(t, s.Put(domain.StateObjectNetworkMembership, "8056c2e21c000001", []byte(`{}`)))
			data, err = s.Get(domain.StateObjectNetworkMembership, "8056c2e21c000001")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{}`), data)
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(domain.StateObjectPeer, "8bd5124fd6", []byte("x")))
			require.NoError(t, s.Delete(domain.StateObjectPeer, "8bd5124fd6"))
			require.NoError(t, s.Delete(domain.StateObjectPeer, "8bd5124fd6"))

			_, err := s.Get(domain.StateObjectPeer, "8bd5124fd6")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListSortedPerType(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(domain.StateObjectNetworkMembership, "ffffffffffffffff", []byte("z")))
			require.NoError(t, s.Put(domain.StateObjectNetworkMembership, "8056c2e21c000001", []byte("a")))
			require.NoError(t, s.Put(domain.StateObjectPeer, "8bd5124fd6", []byte("b")))

			ids, err := s.List(domain.StateObjectNetworkMembership)
			require.NoError(t, err)
			assert.Equal(t, []string{"8056c2e21c000001", "ffffffffffffffff"}, ids)

			ids, err = s.List(domain.StateObjectPeer)
			require.NoError(t, err)
			assert.Equal(t, []string{"8bd5124fd6"}, ids)

			empty, err := s.List(domain.StateObjectIdentityPublic)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStore_SingletonID(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(domain.StateObjectIdentitySecret, "", []byte("secret")))
			data, err := s.Get(domain.StateObjectIdentitySecret, "")
			require.NoError(t, err)
			assert.Equal(t, []byte("secret"), data)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("etcd", t.TempDir())
	assert.Error(t, err)
}

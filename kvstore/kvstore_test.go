package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacks-network/marf-go/kvstore"
)

func TestMemStoreGetSetDelete(t *testing.T) {
	store := kvstore.NewMemStore()

	require.Nil(t, store.Get([]byte("a")))
	require.False(t, store.Has([]byte("a")))

	store.Set([]byte("a"), []byte("1"))
	require.Equal(t, []byte("1"), store.Get([]byte("a")))
	require.True(t, store.Has([]byte("a")))

	store.Set([]byte("a"), nil)
	require.False(t, store.Has([]byte("a")))
}

func TestPartitionIsolatesKeys(t *testing.T) {
	store := kvstore.NewMemStore()
	a := kvstore.Partition(store, []byte("A"))
	b := kvstore.Partition(store, []byte("B"))

	a.Set([]byte("k"), []byte("va"))
	b.Set([]byte("k"), []byte("vb"))

	require.Equal(t, []byte("va"), a.Get([]byte("k")))
	require.Equal(t, []byte("vb"), b.Get([]byte("k")))
	require.Nil(t, a.Get([]byte("other")))
}

func TestPartitionIteratePrefix(t *testing.T) {
	store := kvstore.NewMemStore()
	p := kvstore.Partition(store, []byte("blk1/"))
	p.Set([]byte("n1"), []byte("v1"))
	p.Set([]byte("n2"), []byte("v2"))
	store.Set([]byte("blk2/n1"), []byte("other"))

	seen := map[string]string{}
	p.IteratePrefix(nil, func(k, v []byte) bool {
		seen[string(k)] = string(v)
		return true
	})
	require.Equal(t, map[string]string{"n1": "v1", "n2": "v2"}, seen)
}

package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacks-network/marf-go/backpointer"
	"github.com/stacks-network/marf-go/cursor"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/kvstore"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
)

// buildSingleBlock commits one block whose trie is: root Node4 (empty path
// segment) with a single child at nibble 1, a leaf with terminal path [2]
// (matching the path 0x12 -> nibbles [1, 2]).
func buildSingleBlock(t *testing.T, store *pagestore.Store, forks *forktable.Table, blockID [32]byte) (rootOffset uint64) {
	t.Helper()
	h, err := store.Open(blockID, forktable.Sentinel, true)
	require.NoError(t, err)

	leaf := node.NewLeaf([]byte{2}, []byte("v1"), nil)
	leaf.Hash = node.ComputeHash(leaf)
	leafOffset := h.WriteNode(leaf)

	root := node.NewInner(nil)
	root, err = node.InsertChild(root, 1, &node.ChildRef{LocalOffset: leafOffset, Hash: leaf.Hash})
	require.NoError(t, err)
	root.Hash = node.ComputeHash(root)
	rootOffset = h.WriteNode(root)

	require.NoError(t, h.Commit(1, rootOffset, hash.Content{}, hash.Content{}))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockID, ParentID: forktable.Sentinel, Height: 1}))
	return rootOffset
}

func TestWalkFindsExistingKey(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())
	var blockA [32]byte
	blockA[0] = 0xA
	rootOffset := buildSingleBlock(t, store, forks, blockA)

	w := cursor.New(store, backpointer.New(store, forks), forks)
	res, err := w.Walk(blockA, rootOffset, []byte{0x12})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingFound, res.Ending)
	require.Equal(t, []byte("v1"), res.Value)
	require.Len(t, res.Trace, 2) // root, then leaf
}

func TestWalkMissingKeyEmptySlot(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())
	var blockA [32]byte
	blockA[0] = 0xA
	rootOffset := buildSingleBlock(t, store, forks, blockA)

	w := cursor.New(store, backpointer.New(store, forks), forks)
	res, err := w.Walk(blockA, rootOffset, []byte{0x72}) // nibble 7 has no child
	require.NoError(t, err)
	require.Equal(t, cursor.EndingEmptySlot, res.Ending)
}

func TestWalkMissingKeyDifferentLeaf(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())
	var blockA [32]byte
	blockA[0] = 0xA
	rootOffset := buildSingleBlock(t, store, forks, blockA)

	w := cursor.New(store, backpointer.New(store, forks), forks)
	// Same branch nibble (1), but a different trailing nibble than the
	// leaf's terminal path [2].
	res, err := w.Walk(blockA, rootOffset, []byte{0x19})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingDifferentLeaf, res.Ending)
}

func TestWalkCrossesBackPointerIntoAncestorBlock(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA, blockB [32]byte
	blockA[0] = 0xA
	blockB[0] = 0xB

	// Block A: root Node4, child at nibble 1 -> leaf with terminal path [2].
	hA, err := store.Open(blockA, forktable.Sentinel, true)
	require.NoError(t, err)
	leafA := node.NewLeaf([]byte{2}, []byte("old"), nil)
	leafA.Hash = node.ComputeHash(leafA)
	leafAOffset := hA.WriteNode(leafA)
	rootA := node.NewInner(nil)
	rootA, err = node.InsertChild(rootA, 1, &node.ChildRef{LocalOffset: leafAOffset, Hash: leafA.Hash})
	require.NoError(t, err)
	rootA.Hash = node.ComputeHash(rootA)
	rootAOffset := hA.WriteNode(rootA)
	require.NoError(t, hA.Commit(1, rootAOffset, hash.Content{}, hash.Content{}))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockA, ParentID: forktable.Sentinel, Height: 1}))

	// Block B: root Node4, same structural shape, but the nibble-1 slot is
	// now a back-pointer into A's leaf (the subtree under it is unchanged),
	// plus a new local leaf at nibble 3 to make B a genuinely new block.
	hB, err := store.Open(blockB, blockA, false)
	require.NoError(t, err)
	newLeaf := node.NewLeaf([]byte{5}, []byte("new"), nil)
	newLeaf.Hash = node.ComputeHash(newLeaf)
	newLeafOffset := hB.WriteNode(newLeaf)
	rootB := node.NewInner(nil)
	rootB, err = node.InsertChild(rootB, 1, &node.ChildRef{
		IsBackPointer:  true,
		AncestorBlock:  blockA,
		AncestorOffset: leafAOffset,
		Hash:           leafA.Hash,
	})
	require.NoError(t, err)
	rootB, err = node.InsertChild(rootB, 3, &node.ChildRef{LocalOffset: newLeafOffset, Hash: newLeaf.Hash})
	require.NoError(t, err)
	rootB.Hash = node.ComputeHash(rootB)
	rootBOffset := hB.WriteNode(rootB)
	require.NoError(t, hB.Commit(2, rootBOffset, hash.Content{}, hash.Content{}))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockB, ParentID: blockA, Height: 2}))

	w := cursor.New(store, backpointer.New(store, forks), forks)

	res, err := w.Walk(blockB, rootBOffset, []byte{0x12})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingFound, res.Ending)
	require.Equal(t, []byte("old"), res.Value)
	// Trace should show the crossing: root in B, leaf in A.
	require.Len(t, res.Trace, 2)
	require.Equal(t, blockB, res.Trace[0].BlockID)
	require.Equal(t, blockA, res.Trace[1].BlockID)

	res2, err := w.Walk(blockB, rootBOffset, []byte{0x35})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingFound, res2.Ending)
	require.Equal(t, []byte("new"), res2.Value)
}

package proof_test

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
	"github.com/stacks-network/marf-go/proof"
	"github.com/stacks-network/marf-go/roothash"
)

// singleBlockFixture builds one committed block: root Node4 with a single
// child at nibble 1, a leaf with terminal path [2] (path 0x12).
func singleBlockFixture(t *testing.T) (store *pagestore.Store, forks *forktable.Table, blockID [32]byte, rootOffset uint64, blockRootHash hash.Content) {
	t.Helper()
	store = pagestore.New(kvstore.NewMemStore())
	forks = forktable.New(kvstore.NewMemStore())
	blockID[0] = 0xA

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

	ancestorVector, err := forks.AncestorRootHashVectorForHeight(forktable.Sentinel, 1)
	require.NoError(t, err)
	blockRootHash = roothash.Compute(root.Hash, ancestorVector)
	require.NoError(t, h.Commit(1, rootOffset, root.Hash, blockRootHash))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockID, ParentID: forktable.Sentinel, Height: 1, RootHash: blockRootHash, TrieRootHash: root.Hash}))
	return store, forks, blockID, rootOffset, blockRootHash
}

func TestProofRoundTripFound(t *testing.T) {
	store, forks, blockID, rootOffset, blockRootHash := singleBlockFixture(t)
	w := cursor.New(store, backpointer.New(store, forks), forks)

	res, err := w.Walk(blockID, rootOffset, []byte{0x12})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingFound, res.Ending)

	p, err := proof.Build([]byte{0x12}, res.Trace, forks, blockID)
	require.NoError(t, err)

	require.True(t, proof.Verify(p, blockRootHash, []byte{0x12}, []byte("v1"), false))
}

func TestProofRoundTripAbsentEmptySlot(t *testing.T) {
	store, forks, blockID, rootOffset, blockRootHash := singleBlockFixture(t)
	w := cursor.New(store, backpointer.New(store, forks), forks)

	res, err := w.Walk(blockID, rootOffset, []byte{0x72})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingEmptySlot, res.Ending)

	p, err := proof.Build([]byte{0x72}, res.Trace, forks, blockID)
	require.NoError(t, err)

	require.True(t, proof.Verify(p, blockRootHash, []byte{0x72}, nil, true))
}

func TestProofRejectsWrongValue(t *testing.T) {
	store, forks, blockID, rootOffset, blockRootHash := singleBlockFixture(t)
	w := cursor.New(store, backpointer.New(store, forks), forks)

	res, err := w.Walk(blockID, rootOffset, []byte{0x12})
	require.NoError(t, err)
	p, err := proof.Build([]byte{0x12}, res.Trace, forks, blockID)
	require.NoError(t, err)

	require.False(t, proof.Verify(p, blockRootHash, []byte{0x12}, []byte("wrong"), false))
}

func TestProofRejectsSingleBitMutation(t *testing.T) {
	store, forks, blockID, rootOffset, blockRootHash := singleBlockFixture(t)
	w := cursor.New(store, backpointer.New(store, forks), forks)

	res, err := w.Walk(blockID, rootOffset, []byte{0x12})
	require.NoError(t, err)
	p, err := proof.Build([]byte{0x12}, res.Trace, forks, blockID)
	require.NoError(t, err)

	require.True(t, proof.Verify(p, blockRootHash, []byte{0x12}, []byte("v1"), false))

	// Flip a bit in the leaf entry's recorded value.
	mutated := *p
	mutatedNodes := append([]proof.NodeEntry(nil), p.Nodes...)
	mutatedNodes[len(mutatedNodes)-1].Value = []byte("V1") // bit flip in first byte
	mutated.Nodes = mutatedNodes
	require.False(t, proof.Verify(&mutated, blockRootHash, []byte{0x12}, []byte("v1"), false))

	// Flip a bit in the claimed root hash.
	tamperedRoot := blockRootHash
	tamperedRoot[0] ^= 0x01
	require.False(t, proof.Verify(p, tamperedRoot, []byte{0x12}, []byte("v1"), false))

	// Flip a bit in the key.
	require.False(t, proof.Verify(p, blockRootHash, []byte{0x13}, []byte("v1"), false))
}

func TestProofCrossesBackPointerAndVerifies(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA, blockB [32]byte
	blockA[0] = 0xA
	blockB[0] = 0xB

	// Block A.
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
	ancestorVectorA, err := forks.AncestorRootHashVectorForHeight(forktable.Sentinel, 1)
	require.NoError(t, err)
	blockRootA := roothash.Compute(rootA.Hash, ancestorVectorA)
	require.NoError(t, hA.Commit(1, rootAOffset, rootA.Hash, blockRootA))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockA, ParentID: forktable.Sentinel, Height: 1, RootHash: blockRootA, TrieRootHash: rootA.Hash}))

	// Block B: nibble 1 -> back-pointer into A's leaf.
	hB, err := store.Open(blockB, blockA, false)
	require.NoError(t, err)
	rootB := node.NewInner(nil)
	rootB, err = node.InsertChild(rootB, 1, &node.ChildRef{
		IsBackPointer:  true,
		AncestorBlock:  blockA,
		AncestorOffset: leafAOffset,
		Hash:           leafA.Hash,
	})
	require.NoError(t, err)
	rootB.Hash = node.ComputeHash(rootB)
	rootBOffset := hB.WriteNode(rootB)

	ancestorVector, err := forks.AncestorRootHashVectorForHeight(blockA, 2)
	require.NoError(t, err)
	blockRootB := roothash.Compute(rootB.Hash, ancestorVector)
	require.NoError(t, hB.Commit(2, rootBOffset, rootB.Hash, blockRootB))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockB, ParentID: blockA, Height: 2, RootHash: blockRootB, TrieRootHash: rootB.Hash}))

	w := cursor.New(store, backpointer.New(store, forks), forks)
	res, err := w.Walk(blockB, rootBOffset, []byte{0x12})
	require.NoError(t, err)
	require.Equal(t, cursor.EndingFound, res.Ending)

	p, err := proof.Build([]byte{0x12}, res.Trace, forks, blockB)
	require.NoError(t, err)
	require.Len(t, p.Crossings, 1)
	require.Len(t, p.Crossings[0].Hops, 1)
	require.Equal(t, blockA, p.Crossings[0].Hops[0].BlockID)

	require.True(t, proof.Verify(p, blockRootB, []byte{0x12}, []byte("old"), false))

	// Tamper with the claimed ancestor root hash at the crossing.
	tampered := *p
	tampered.Crossings = append([]proof.Crossing(nil), p.Crossings...)
	tampered.Crossings[0].Hops = append([]forktable.ShuntHop(nil), p.Crossings[0].Hops...)
	tampered.Crossings[0].Hops[0].RootHash[0] ^= 0x01
	require.False(t, proof.Verify(&tampered, blockRootB, []byte{0x12}, []byte("old"), false))
}

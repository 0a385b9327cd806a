package backpointer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacks-network/marf-go/backpointer"
	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/kvstore"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
)

func commitBlock(t *testing.T, store *pagestore.Store, forks *forktable.Table, blockID, parentID [32]byte, leaf *node.Node) uint64 {
	t.Helper()
	parentIsSentinel := parentID == forktable.Sentinel
	h, err := store.Open(blockID, parentID, parentIsSentinel)
	require.NoError(t, err)
	leaf.Hash = node.ComputeHash(leaf)
	offset := h.WriteNode(leaf)
	height, ok := forks.NextHeight(parentID)
	require.True(t, ok)
	require.NoError(t, h.Commit(height, offset, hash.Content{}, hash.Content{}))
	require.NoError(t, forks.Put(&forktable.Entry{BlockID: blockID, ParentID: parentID, Height: height}))
	return offset
}

func TestResolveLocalRef(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA [32]byte
	blockA[0] = 0xA
	leaf := node.NewLeaf([]byte{1, 2}, []byte("v1"), nil)
	offset := commitBlock(t, store, forks, blockA, forktable.Sentinel, leaf)

	r := backpointer.New(store, forks)
	ref := &node.ChildRef{IsBackPointer: false, LocalOffset: offset}

	targetBlock, targetHeight, n, err := r.Resolve(blockA, 1, ref)
	require.NoError(t, err)
	require.Equal(t, blockA, targetBlock)
	require.Equal(t, uint64(1), targetHeight)
	require.Equal(t, leaf, n)
}

func TestResolveBackPointerCrossesToAncestor(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA, blockB [32]byte
	blockA[0] = 0xA
	blockB[0] = 0xB

	ancestorLeaf := node.NewLeaf([]byte{9, 9}, []byte("old"), nil)
	ancestorOffset := commitBlock(t, store, forks, blockA, forktable.Sentinel, ancestorLeaf)
	_ = commitBlock(t, store, forks, blockB, blockA, node.NewLeaf([]byte{1}, []byte("new"), nil))

	r := backpointer.New(store, forks)
	ref := &node.ChildRef{IsBackPointer: true, AncestorBlock: blockA, AncestorOffset: ancestorOffset}

	targetBlock, targetHeight, n, err := r.Resolve(blockB, 2, ref)
	require.NoError(t, err)
	require.Equal(t, blockA, targetBlock)
	require.Equal(t, uint64(1), targetHeight)
	require.Equal(t, ancestorLeaf, n)
}

func TestResolveBackPointerRejectsNonOlderAncestor(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA, blockB [32]byte
	blockA[0] = 0xA
	blockB[0] = 0xB
	commitBlock(t, store, forks, blockA, forktable.Sentinel, node.NewLeaf([]byte{1}, []byte("a"), nil))
	commitBlock(t, store, forks, blockB, blockA, node.NewLeaf([]byte{2}, []byte("b"), nil))

	r := backpointer.New(store, forks)
	ref := &node.ChildRef{IsBackPointer: true, AncestorBlock: blockB, AncestorOffset: 0}

	// currentHeight equal to the "ancestor"'s height must be rejected.
	_, _, _, err := r.Resolve(blockB, 2, ref)
	require.Error(t, err)
	require.True(t, errs.IsFatal(err))
}

func TestResolveBackPointerRejectsUnknownAncestor(t *testing.T) {
	store := pagestore.New(kvstore.NewMemStore())
	forks := forktable.New(kvstore.NewMemStore())

	var blockA, ghost [32]byte
	blockA[0] = 0xA
	ghost[0] = 0xFF
	commitBlock(t, store, forks, blockA, forktable.Sentinel, node.NewLeaf([]byte{1}, []byte("a"), nil))

	r := backpointer.New(store, forks)
	ref := &node.ChildRef{IsBackPointer: true, AncestorBlock: ghost, AncestorOffset: 0}

	_, _, _, err := r.Resolve(blockA, 1, ref)
	require.Error(t, err)
}

// Package backpointer implements cross-block traversal (spec.md §4.6):
// when a cursor's descent meets a child slot that names an ancestor
// block's node rather than one in the current block, the resolver reads
// that ancestor node and hands the walk back to the cursor to continue,
// possibly recursively, in the ancestor's own trie.
//
// This component has no analogue in the reference trie library (which
// has one trie, not a forest sharing subtrees) — it is new, built
// directly on spec.md §4.6's contract, using the same store/height
// primitives pagestore and forktable already expose.
package backpointer

import (
	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
)

// Resolver follows child-ref slots to their target node, whether that
// target lives in the current open/committed block or in an ancestor's
// committed storage.
type Resolver struct {
	store *pagestore.Store
	forks *forktable.Table
}

// New creates a resolver over store and forks.
func New(store *pagestore.Store, forks *forktable.Table) *Resolver {
	return &Resolver{store: store, forks: forks}
}

// Resolve reads the node that ref points to, starting the walk from
// currentBlockID/currentHeight. It returns the block-id the returned
// node actually lives in (== currentBlockID for a local ref) and the
// node itself.
//
// Invariant (spec.md §4.6): the ancestor chain followed by any single
// lookup is monotonically older in height. Crossing a back-pointer to a
// block at height >= currentHeight is an invariant violation — it would
// either cycle or point into the future, both impossible for a
// committed, acyclic fork table.
func (r *Resolver) Resolve(currentBlockID [32]byte, currentHeight uint64, ref *node.ChildRef) (targetBlockID [32]byte, targetHeight uint64, n *node.Node, err error) {
	return r.ResolveWithStats(currentBlockID, currentHeight, ref, nil)
}

// ResolveWithStats is Resolve, additionally accumulating node-read and
// back-pointer-hop counts into stats (spec.md §9 instrumentation
// supplement, node.Stats). A nil stats behaves exactly like Resolve.
func (r *Resolver) ResolveWithStats(currentBlockID [32]byte, currentHeight uint64, ref *node.ChildRef, stats *node.Stats) (targetBlockID [32]byte, targetHeight uint64, n *node.Node, err error) {
	if !ref.IsBackPointer {
		n, err = r.store.ReadNode(currentBlockID, ref.LocalOffset)
		if err != nil {
			return currentBlockID, currentHeight, nil, err
		}
		stats.RecordNodeRead()
		return currentBlockID, currentHeight, n, nil
	}

	ancHeight, ok := r.forks.GetHeight(ref.AncestorBlock)
	if !ok {
		return [32]byte{}, 0, nil, errs.InvariantViolation("back-pointer targets unknown ancestor block")
	}
	if ancHeight >= currentHeight {
		return [32]byte{}, 0, nil, errs.InvariantViolation(
			"back-pointer crosses to height %d, not older than current height %d", ancHeight, currentHeight)
	}
	n, err = r.store.ReadNode(ref.AncestorBlock, ref.AncestorOffset)
	if err != nil {
		return ref.AncestorBlock, ancHeight, nil, err
	}
	stats.RecordNodeRead()
	stats.RecordBackPointerHop()
	return ref.AncestorBlock, ancHeight, n, nil
}

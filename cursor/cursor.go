// Package cursor implements the MARF's single-walk navigator (spec.md
// §4.5): it follows a hashed key-path nibble by nibble from a trie root,
// descending through same-block children and handing off to the
// back-pointer resolver whenever a child slot names an ancestor's
// subtree, recording the full touched-node trace for proof construction
// along the way.
//
// Grounded on the reference trie library's traverseImmutablePath/
// traverseMutatedPath (immutable/traverse.go), generalized from a
// single-trie walk to one that can cross into another block's storage
// mid-walk (spec.md §4.6) and that records a node-level trace rather
// than path keys, since the MARF's proof (spec.md §4.8) needs whole
// sibling node data, not just keys.
package cursor

import (
	"bytes"

	"github.com/stacks-network/marf-go/backpointer"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
)

// Ending classifies how a walk terminated, per spec.md §4.5.
type Ending int

const (
	// EndingFound: the path led to a leaf whose terminal path matches
	// the remaining path exactly.
	EndingFound Ending = iota
	// EndingMismatch: an inner node's path segment diverged from the
	// remaining path.
	EndingMismatch
	// EndingEmptySlot: the path's next nibble names a child slot that
	// does not exist.
	EndingEmptySlot
	// EndingExhausted: the path ran out at a non-leaf node.
	EndingExhausted
	// EndingDifferentLeaf: the path led to a leaf whose terminal path
	// does not match the remaining path (absence proof case).
	EndingDifferentLeaf
)

// TraceEntry records one node touched during the walk: which block it
// lives in, the node itself, and (for every non-terminal entry) the
// nibble used to descend out of it. Proof construction (package proof)
// turns this into sibling-hash lists; get() only needs the final
// entry's leaf value.
type TraceEntry struct {
	BlockID     [32]byte
	Node        *node.Node
	DescendedOn byte
	HasChild    bool
}

// Result is the outcome of a single Walk.
type Result struct {
	Ending Ending
	Value  []byte // populated only when Ending == EndingFound
	Trace  []TraceEntry
	Stats  node.Stats
}

// Walker ties together the storage and resolver a walk needs.
type Walker struct {
	store    *pagestore.Store
	resolver *backpointer.Resolver
	forks    *forktable.Table
}

// New creates a Walker over the given store/resolver/fork table.
func New(store *pagestore.Store, resolver *backpointer.Resolver, forks *forktable.Table) *Walker {
	return &Walker{store: store, resolver: resolver, forks: forks}
}

// Walk navigates path (a fixed-width hashed key, spec.md §3) from
// blockID's trie root, following back-pointers into ancestor blocks as
// needed, and returns the terminal outcome plus a full trace for proof
// construction.
func (w *Walker) Walk(blockID [32]byte, rootOffset uint64, path []byte) (*Result, error) {
	nibbles := node.PathToNibbles(path)

	curBlockID := blockID
	curHeight, ok := w.forks.GetHeight(blockID)
	if !ok {
		curHeight = 0
	}
	var stats node.Stats
	curNode, err := w.store.ReadNode(curBlockID, rootOffset)
	if err != nil {
		return nil, err
	}
	stats.RecordNodeRead()

	var trace []TraceEntry
	pos := 0
	for {
		if curNode.Variant == node.Leaf {
			entry := TraceEntry{BlockID: curBlockID, Node: curNode}
			trace = append(trace, entry)
			if bytes.Equal(nibbles[pos:], curNode.TerminalPath) {
				return &Result{Ending: EndingFound, Value: curNode.Value, Trace: trace, Stats: stats}, nil
			}
			return &Result{Ending: EndingDifferentLeaf, Trace: trace, Stats: stats}, nil
		}

		remaining := nibbles[pos:]
		if !bytes.HasPrefix(remaining, curNode.PathSegment) {
			trace = append(trace, TraceEntry{BlockID: curBlockID, Node: curNode})
			return &Result{Ending: EndingMismatch, Trace: trace, Stats: stats}, nil
		}
		pos += len(curNode.PathSegment)

		if pos >= len(nibbles) {
			trace = append(trace, TraceEntry{BlockID: curBlockID, Node: curNode})
			return &Result{Ending: EndingExhausted, Trace: trace, Stats: stats}, nil
		}

		childNibble := nibbles[pos]
		ref, ok := node.GetChild(curNode, childNibble)
		if !ok {
			trace = append(trace, TraceEntry{BlockID: curBlockID, Node: curNode, DescendedOn: childNibble, HasChild: false})
			return &Result{Ending: EndingEmptySlot, Trace: trace, Stats: stats}, nil
		}
		pos++

		trace = append(trace, TraceEntry{BlockID: curBlockID, Node: curNode, DescendedOn: childNibble, HasChild: true})

		nextBlockID, nextHeight, nextNode, err := w.resolver.ResolveWithStats(curBlockID, curHeight, ref, &stats)
		if err != nil {
			return nil, err
		}
		curBlockID, curHeight, curNode = nextBlockID, nextHeight, nextNode
	}
}

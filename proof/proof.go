// Package proof builds and verifies the MARF's Merkle-style inclusion and
// absence proofs (spec.md §4.8): a self-contained bundle of hash-trace
// entries recording every node the cursor touched, plus the ancestor
// geometric-series vector the block-root hash commits to, sufficient to
// recompute that root hash from nothing but the claimed key, value (or
// absence), and proof bytes.
//
// The reference trie library already has a proof model (immutable/proof.go:
// ProofGeneric/ProofGenericElement, plus the blake2b_20 codec's
// CommitmentLogic.UpdateCommitment-style hash chaining) built around a
// single trie. This package keeps its shape — an ordered trace of sibling
// commitments reduced bottom-up — but generalizes the trace entries to
// additionally carry which block each node lives in, since the MARF's
// trace can cross block boundaries at a back-pointer (spec.md §4.6).
package proof

import (
	"bytes"

	"github.com/stacks-network/marf-go/cursor"
	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/roothash"
)

// NodeEntry is one hash-trace element: the minimum information needed to
// recompute a touched node's content hash without holding the node's full
// in-memory representation.
type NodeEntry struct {
	BlockID [32]byte
	Variant node.Variant

	// Inner-node fields.
	PathSegment []byte
	ChildHashes map[byte]hash.Content

	// Leaf-only fields.
	TerminalPath []byte
	Value        []byte

	// DescendedOn is the nibble the walk followed out of this node; valid
	// only when HasNext is true.
	DescendedOn byte
	HasNext     bool
}

func (e *NodeEntry) rebuildHash() hash.Content {
	if e.Variant == node.Leaf {
		return node.ComputeHash(node.NewLeaf(e.TerminalPath, e.Value, nil))
	}
	n := &node.Node{
		Variant:     e.Variant,
		PathSegment: e.PathSegment,
		Children:    make(map[byte]*node.ChildRef, len(e.ChildHashes)),
	}
	for nibble, h := range e.ChildHashes {
		n.Children[nibble] = &node.ChildRef{Hash: h}
	}
	return node.ComputeHash(n)
}

// Crossing records one back-pointer within the trace: at NodeIndex (the
// entry where the hop lands), the walk continues in an ancestor block's
// own committed storage. A back-pointer may jump straight past more than
// one geometric offset (a re-homed child left untouched since it was
// already cross-block, per marf/txn.go's rehome), so Hops is the full
// chain of geometric-offset steps — mirroring the fork table's own
// skip-pointer walk — that independently re-derives each intermediate
// block's commitment down to the one the hop actually lands on, per
// spec.md §4.6/§4.9.
type Crossing struct {
	NodeIndex int
	Hops      []forktable.ShuntHop
}

// Proof is the full self-contained artifact spec.md §4.8 describes.
type Proof struct {
	Key            []byte
	Nodes          []NodeEntry
	Crossings      []Crossing
	AncestorVector []hash.Content
}

// Build turns a cursor walk's trace into a self-contained proof for
// blockID, blockID's own ancestor vector, and the geometric-series offset
// ladder implied by its height.
func Build(key []byte, trace []cursor.TraceEntry, forks *forktable.Table, blockID [32]byte) (*Proof, error) {
	if len(trace) == 0 {
		return nil, errs.InvariantViolation("proof: empty walk trace")
	}

	if _, ok := forks.GetHeight(blockID); !ok {
		return nil, errs.ErrUnknownBlock
	}
	ancestorVector, err := forks.AncestorRootHashVector(blockID)
	if err != nil {
		return nil, err
	}

	p := &Proof{Key: append([]byte(nil), key...), AncestorVector: ancestorVector}

	for i, t := range trace {
		entry := NodeEntry{
			BlockID:     t.BlockID,
			Variant:     t.Node.Variant,
			DescendedOn: t.DescendedOn,
			HasNext:     i < len(trace)-1,
		}
		if t.Node.Variant == node.Leaf {
			entry.TerminalPath = append([]byte(nil), t.Node.TerminalPath...)
			entry.Value = append([]byte(nil), t.Node.Value...)
		} else {
			entry.PathSegment = append([]byte(nil), t.Node.PathSegment...)
			entry.ChildHashes = make(map[byte]hash.Content, len(t.Node.Children))
			for nibble, c := range t.Node.Children {
				entry.ChildHashes[nibble] = c.ChildHash()
			}
		}
		p.Nodes = append(p.Nodes, entry)

		if i > 0 && trace[i-1].BlockID != t.BlockID {
			ancestorHeight, ok := forks.GetHeight(t.BlockID)
			if !ok {
				return nil, errs.InvariantViolation("proof: crossing into an unknown ancestor block")
			}
			hops, err := forks.ShuntChain(trace[i-1].BlockID, ancestorHeight)
			if err != nil {
				return nil, err
			}
			if len(hops) == 0 || hops[len(hops)-1].BlockID != t.BlockID {
				return nil, errs.InvariantViolation("proof: shunt chain did not land on the crossed-into block")
			}
			p.Crossings = append(p.Crossings, Crossing{NodeIndex: i, Hops: hops})
		}
	}
	return p, nil
}

// crossingAt finds the Crossing (if any) landing at nodeIndex.
func (p *Proof) crossingAt(nodeIndex int) (Crossing, bool) {
	for _, c := range p.Crossings {
		if c.NodeIndex == nodeIndex {
			return c, true
		}
	}
	return Crossing{}, false
}

// Verify checks p against a claimed block-root hash, matching spec.md
// §4.8's verification contract exactly: it independently re-derives the
// walk's outcome from the trace (never trusting a stored "found" flag),
// rebuilds every node hash bottom-up, checks the chain reduces to the
// claimed root, and checks every back-pointer crossing's hop chain against
// the ancestor vector of the block the walk was in just before it: the
// claimed block's own vector for the first crossing, and for each later
// crossing the vector carried by the previous crossing's last hop.
//
// expectedValue is ignored when expectAbsent is true.
func Verify(p *Proof, claimedRootHash hash.Content, key []byte, expectedValue []byte, expectAbsent bool) bool {
	if p == nil || len(p.Nodes) == 0 {
		return false
	}
	if !bytes.Equal(p.Key, key) {
		return false
	}

	nibbles := node.PathToNibbles(key)
	pos := 0
	found := false
	var foundValue []byte
	trustedVector := p.AncestorVector

	for i, e := range p.Nodes {
		if e.Variant == node.Leaf {
			if i != len(p.Nodes)-1 {
				return false
			}
			if bytes.Equal(nibbles[pos:], e.TerminalPath) {
				found = true
				foundValue = e.Value
			}
			break
		}

		if !bytes.HasPrefix(nibbles[pos:], e.PathSegment) {
			if i != len(p.Nodes)-1 {
				return false
			}
			break // mismatch: absence confirmed
		}
		pos += len(e.PathSegment)

		if pos >= len(nibbles) {
			if i != len(p.Nodes)-1 {
				return false
			}
			break // exhausted at non-leaf: absence confirmed
		}

		childNibble := nibbles[pos]
		childHash, hasChild := e.ChildHashes[childNibble]
		if !e.HasNext || !hasChild {
			if i != len(p.Nodes)-1 {
				return false
			}
			break // empty slot: absence confirmed
		}
		pos++
		if e.DescendedOn != childNibble {
			return false
		}

		next := p.Nodes[i+1]
		if !bytes.Equal(next.rebuildHash()[:], childHash[:]) {
			return false
		}

		if cr, ok := p.crossingAt(i + 1); ok {
			if len(cr.Hops) == 0 || cr.Hops[len(cr.Hops)-1].BlockID != next.BlockID {
				return false
			}
			currentVector := trustedVector
			for _, hop := range cr.Hops {
				if hop.OffsetIndex < 0 || hop.OffsetIndex >= len(currentVector) {
					return false
				}
				if currentVector[hop.OffsetIndex] != hop.RootHash {
					return false
				}
				if roothash.Compute(hop.TrieRootHash, hop.AncestorVector) != hop.RootHash {
					return false
				}
				currentVector = hop.AncestorVector
			}
			trustedVector = currentVector
		}
	}

	if found == expectAbsent {
		return false
	}
	if found && !bytes.Equal(foundValue, expectedValue) {
		return false
	}

	trieRoot := p.Nodes[0].rebuildHash()
	recomputedRoot := roothash.Compute(trieRoot, p.AncestorVector)
	return recomputedRoot == claimedRootHash
}

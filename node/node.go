// Package node implements the MARF's tagged-union trie node: the four
// inner-node fan-out variants (Node4/16/48/256) plus Leaf, their
// promotion rule, and content hashing.
//
// Grounded on the reference trie library's node model
// (common/nodedata.go, trie256p/node.go) — path-compression segment plus
// an ordered set of child commitments — generalized from the reference's
// flat 256-ary map to the MARF's explicit, cache-tuned fan-out variants
// (spec.md §3, §4.2). Dispatch is a switch on the variant tag read from
// the node header, per spec.md §9 ("no open-ended class hierarchy and no
// virtual table").
package node

import (
	"fmt"

	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/hash"
)

// Variant is the node's tagged-union discriminant, matching the wire
// tag byte in spec.md §6.
type Variant byte

const (
	Node4   Variant = 0
	Node16  Variant = 1
	Node48  Variant = 2
	Node256 Variant = 3
	Leaf    Variant = 4
)

func (v Variant) String() string {
	switch v {
	case Node4:
		return "Node4"
	case Node16:
		return "Node16"
	case Node48:
		return "Node48"
	case Node256:
		return "Node256"
	case Leaf:
		return "Leaf"
	default:
		return fmt.Sprintf("Variant(%d)", byte(v))
	}
}

// capacity returns the number of child slots a variant provides. Nibbles
// are 4-bit (spec.md §4.2), so only values 0-15 are ever used as an
// index in practice; Node48/Node256 exist for structural completeness
// with the reference's cache/IO-tuned fan-out ladder and are never
// actually filled past 16.
func (v Variant) capacity() int {
	switch v {
	case Node4:
		return 4
	case Node16:
		return 16
	case Node48:
		return 48
	case Node256:
		return 256
	default:
		return 0
	}
}

func promoted(v Variant) Variant {
	switch v {
	case Node4:
		return Node16
	case Node16:
		return Node48
	case Node48:
		return Node256
	default:
		return v
	}
}

// ChildRef names a child slot's target: either a node written in the
// same open block (LocalOffset) or a back-pointer into a committed
// ancestor block's trie (spec.md §3, §4.6). Hash is always populated —
// for a back-pointer it is the referenced ancestor node's hash, so the
// owning node can be content-hashed without dereferencing the pointer
// (spec.md §4.1).
type ChildRef struct {
	IsBackPointer bool
	LocalOffset   uint64
	AncestorBlock [32]byte
	AncestorOffset uint64
	Hash          hash.Content
}

// Node is the MARF's tagged-union trie node.
type Node struct {
	Variant Variant

	// PathSegment is the path-compression segment, in nibbles, shared by
	// every descendant of this node before the next branch (spec.md §3).
	PathSegment []byte

	// Children maps nibble -> child slot. Only Variant != Leaf nodes
	// populate this.
	Children map[byte]*ChildRef

	// Leaf-only fields.
	TerminalPath []byte   // the leaf's terminal path segment (spec.md §3)
	Value        []byte   // fixed-width value identifier (spec.md §3)
	Superseded   *ChildRef // back-pointer to the leaf this supersedes in the parent trie, if any

	// Hash is the node's content hash, set once the node is finalized
	// during commit (spec.md §4.1: "a node's on-disk representation is
	// written once").
	Hash hash.Content
}

// NewLeaf creates a new terminal node.
func NewLeaf(terminalPath, value []byte, superseded *ChildRef) *Node {
	return &Node{
		Variant:      Leaf,
		TerminalPath: append([]byte(nil), terminalPath...),
		Value:        append([]byte(nil), value...),
		Superseded:   superseded,
	}
}

// NewInner creates an empty Node4, the smallest inner variant — every
// inner node starts at Node4 and promotes up as children are added
// (spec.md §3 "nodes promote to the next larger variant when full").
func NewInner(pathSegment []byte) *Node {
	return &Node{
		Variant:     Node4,
		PathSegment: append([]byte(nil), pathSegment...),
		Children:    make(map[byte]*ChildRef),
	}
}

// GetChild returns the child at nibble, if any.
func GetChild(n *Node, nibble byte) (*ChildRef, bool) {
	if n.Variant == Leaf {
		return nil, false
	}
	c, ok := n.Children[nibble]
	return c, ok
}

// InsertChild sets (or replaces) the child at nibble, promoting n to the
// next larger variant if this insert would exceed n's current capacity.
// Returns the (possibly new) node to use in n's place — callers must
// replace their reference to n with the return value, matching spec.md
// §4.2's `insert_child(node, nibble, child_ref) → node'`.
//
// Fails with InvariantViolation only if Node256's 256 slots are
// exceeded, which spec.md §4.2 notes is unreachable since nibbles are
// 4-bit (at most 16 distinct values).
func InsertChild(n *Node, nibble byte, child *ChildRef) (*Node, error) {
	if n.Variant == Leaf {
		return nil, errs.InvariantViolation("InsertChild called on a Leaf node")
	}
	_, replacing := n.Children[nibble]
	if !replacing && len(n.Children) >= n.Variant.capacity() {
		if n.Variant == Node256 {
			return nil, errs.InvariantViolation("node256 overflow: attempted to insert a 257th distinct nibble")
		}
		n = promote(n)
	}
	n.Children[nibble] = child
	return n, nil
}

// promote copies an inner node's children into a freshly allocated node
// of the next larger variant. The old node is left untouched — callers
// in an open block discard it; callers walking committed storage never
// mutate in place at all (spec.md §9: "the old node is discarded (open
// block) or simply unreferenced (committed)").
func promote(n *Node) *Node {
	next := &Node{
		Variant:     promoted(n.Variant),
		PathSegment: append([]byte(nil), n.PathSegment...),
		Children:    make(map[byte]*ChildRef, len(n.Children)+1),
	}
	for k, v := range n.Children {
		next.Children[k] = v
	}
	return next
}

// RemoveChild clears the child slot at nibble, a structural removal. The
// facade implements no delete and never calls it.
func RemoveChild(n *Node, nibble byte) {
	delete(n.Children, nibble)
}

// SplitPath divides an inner node's path segment at sharedPrefixLen,
// producing a fresh Node4 ("upper") that takes n's old position and a
// child ("lower") that keeps n's identity and payload but with a
// shortened path segment. Used when an insert diverges mid-segment
// (spec.md §4.2).
func SplitPath(n *Node, sharedPrefixLen int) (upper, lower *Node) {
	if sharedPrefixLen > len(n.PathSegment) {
		panic(errs.InvariantViolation("SplitPath: shared prefix longer than the node's path segment"))
	}
	upper = NewInner(n.PathSegment[:sharedPrefixLen])
	lower = &Node{
		Variant:      n.Variant,
		PathSegment:  append([]byte(nil), n.PathSegment[sharedPrefixLen+1:]...),
		Children:     n.Children,
		TerminalPath: n.TerminalPath,
		Value:        n.Value,
		Superseded:   n.Superseded,
	}
	return upper, lower
}

// NibbleAt splits the byte immediately following the shared prefix off
// a path segment, used by callers of SplitPath to find which child slot
// 'lower' must be reattached under.
func NibbleAt(pathSegment []byte, i int) byte {
	return pathSegment[i]
}

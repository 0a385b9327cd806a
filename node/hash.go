package node

import (
	"github.com/stacks-network/marf-go/hash"
)

// ChildHash resolves the hash to fold in for one child slot — either the
// hash of a same-block child or, for a back-pointer, the referenced
// ancestor node's hash, per spec.md §4.1 ("with back-pointer children
// contributing the referenced ancestor node's hash").
func (c *ChildRef) ChildHash() hash.Content {
	if c == nil {
		return hash.Zero
	}
	return c.Hash
}

// ComputeHash computes n's content hash from its path segment, its
// ordered child hashes, and — for leaves — its value, per spec.md §4.1.
// Absent child slots contribute hash.Zero (spec.md §4.2 tie-break
// policy). Child order is nibble order (0..255); variants that never
// use slots above 15 simply contribute Zero there, which keeps the
// combining function uniform across all four inner variants.
func ComputeHash(n *Node) hash.Content {
	if n.Variant == Leaf {
		salt := leafSalt(n)
		return hash.Combine(salt, nil)
	}
	children := make([]hash.Content, 256)
	for i := range children {
		children[i] = hash.Zero
	}
	for nibble, child := range n.Children {
		children[int(nibble)] = child.ChildHash()
	}
	salt := innerSalt(n)
	return hash.Combine(salt, children)
}

func innerSalt(n *Node) []byte {
	salt := make([]byte, 0, 2+len(n.PathSegment))
	salt = append(salt, byte(n.Variant))
	salt = append(salt, byte(len(n.PathSegment)))
	salt = append(salt, n.PathSegment...)
	return salt
}

func leafSalt(n *Node) []byte {
	salt := make([]byte, 0, 2+len(n.TerminalPath)+len(n.Value))
	salt = append(salt, byte(Leaf))
	salt = append(salt, byte(len(n.TerminalPath)))
	salt = append(salt, n.TerminalPath...)
	salt = append(salt, n.Value...)
	return salt
}

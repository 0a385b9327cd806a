// Package hash implements the MARF's two digest sizes and the keyed
// combining function used to fold a node's children into its content
// hash.
//
// Grounded on the reference trie library's blake2b commitment model
// (trie_blake2b_20/model.go: hashVector/commitToData), generalized from
// that model's fixed 258-slot vector (256 children + terminal + path
// fragment) to the MARF's variable node fan-out (4/16/48/256 children +
// path segment + value).
package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentSize is the width of a node's content hash (spec.md §4.1).
const ContentSize = 32

// IDSize is the width of the truncated identifier exposed to external
// collaborators (spec.md §4.1).
const IDSize = 20

// Content is a 32-byte node content hash.
type Content [ContentSize]byte

// ID is a 20-byte truncated digest, used where a compact externally
// visible identifier is needed rather than a full content hash.
type ID [IDSize]byte

// Zero is the well-known hash contributed by an absent child slot
// during combining (spec.md §4.2 tie-break policy).
var Zero Content

func (c Content) String() string  { return hex.EncodeToString(c[:]) }
func (c Content) IsZero() bool    { return c == Zero }
func (id ID) String() string      { return hex.EncodeToString(id[:]) }

// Sum256 computes the plain 32-byte content hash of data. Used for
// leaf values and any other flat byte string that needs to be folded
// into a combine step.
func Sum256(data []byte) Content {
	return Content(blake2b.Sum256(data))
}

// Truncate derives the 20-byte external identifier from a content hash,
// mirroring trie_blake2b_20's choice to expose a narrower commitment
// than the internal one for external plumbing.
func Truncate(c Content) ID {
	var id ID
	copy(id[:], c[:IDSize])
	return id
}

// Combine folds a node-local salt (variant tag, path segment bytes,
// value bytes for leaves) together with an ordered slice of child
// hashes into the node's content hash. Absent children must be passed
// as Zero by the caller — this function does not special-case missing
// slots, since "missing" is a property of the node layout (§4.2), not of
// the hash primitive.
//
// Combine is associative only in the weak sense spec.md §4.1 requires:
// re-serializing identical (salt, children) inputs always yields the
// same output, but it is not commutative — child order matters, exactly
// as the reference's hashVector treats position i as significant.
func Combine(salt []byte, children []Content) Content {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on an oversized key, and we pass none.
		panic(err)
	}
	for _, c := range children {
		_, _ = h.Write(c[:])
	}
	_, _ = h.Write(salt)
	var out Content
	copy(out[:], h.Sum(nil))
	return out
}

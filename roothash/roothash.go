// Package roothash computes the MARF's block-root hash (spec.md §4.9):
// the trie's own state root combined with the geometric-series vector of
// ancestor block-root hashes, giving O(log N) inclusion proofs over the
// fork history.
//
// Grounded on the reference trie library's commitment-combining style
// (trie_blake2b_20/model.go's hashVector), reused via the hash package's
// Combine rather than reimplemented, since the combining primitive is
// identical in shape — a salt plus an ordered list of 32-byte hashes.
package roothash

import "github.com/stacks-network/marf-go/hash"

// blockRootSalt tags the combine call so a block-root hash can never
// collide with a plain node content hash even if the child-hash list
// happened to match (defensive against cross-protocol hash reuse).
var blockRootSalt = []byte("marf-block-root")

// Compute returns H(T || A_0 || A_1 || ...) per spec.md §4.9, where T is
// the trie's state root and ancestors is the geometric-series vector of
// ancestor block-root hashes, in canonical order (offset 1 first).
func Compute(trieRoot hash.Content, ancestors []hash.Content) hash.Content {
	children := make([]hash.Content, 0, 1+len(ancestors))
	children = append(children, trieRoot)
	children = append(children, ancestors...)
	return hash.Combine(blockRootSalt, children)
}

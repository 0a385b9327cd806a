// Package marf implements the MARF facade (spec.md §4.7): the
// begin/insert/get/commit/drop_open transaction API that ties the node,
// pagestore, forktable, cursor, back-pointer, and proof packages together
// into the single entry point callers use.
//
// Grounded on the reference trie library's top-level Trie type
// (immutable/trie.go), which exposes the same shape of API
// (UpdateStr/DeleteStr/Root/...) over one trie; generalized here to a
// forest of tries sharing a fork table, with an explicit open/committed
// transaction split (spec.md §4.3/§4.7) the reference's single always-open
// trie does not need.
package marf

import (
	"github.com/stacks-network/marf-go/backpointer"
	"github.com/stacks-network/marf-go/cursor"
	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/kvstore"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
	"github.com/stacks-network/marf-go/proof"
)

// Store is the process-wide MARF: one page store, one fork table, both
// backed by caller-supplied kvstore.KVStore instances (spec.md §9's
// "parameterizable for tests" requirement — pass *kvstore.MemStore in
// tests, *kvstore.BadgerStore in production).
type Store struct {
	pages *pagestore.Store
	forks *forktable.Table
}

// Open creates a MARF over the given committed-node and fork-table
// backing stores. The two are logically separate namespaces; callers may
// point them at the same physical kvstore.KVStore (e.g. different key
// prefixes of one badger.DB) or at two distinct ones.
func Open(committedNodes, forkTableStore kvstore.KVStore) *Store {
	return &Store{
		pages: pagestore.New(committedNodes),
		forks: forktable.New(forkTableStore),
	}
}

func (s *Store) walker() *cursor.Walker {
	return cursor.New(s.pages, backpointer.New(s.pages, s.forks), s.forks)
}

// Get returns the value last written to key on the path from the
// sentinel to blockID, or (nil, nil) if absent.
func (s *Store) Get(blockID [32]byte, key []byte) ([]byte, error) {
	hdr, err := s.pages.ReadHeader(blockID)
	if err != nil {
		return nil, err
	}
	path := hash.Sum256(key)
	res, err := s.walker().Walk(blockID, hdr.RootOffset, path[:])
	if err != nil {
		return nil, err
	}
	if res.Ending != cursor.EndingFound {
		return nil, nil
	}
	return res.Value, nil
}

// GetWithProof is Get plus a proof verifiable against blockID's published
// block-root hash (spec.md §4.7/§4.8). The returned proof is populated
// whether or not the key is present, so absence can be proven too.
func (s *Store) GetWithProof(blockID [32]byte, key []byte) ([]byte, *proof.Proof, error) {
	v, p, _, err := s.GetWithProofAndStats(blockID, key)
	return v, p, err
}

// GetWithProofAndStats is GetWithProof, additionally returning the walk's
// instrumentation counters (SPEC_FULL.md cursor-stats supplement: nodes
// read, back-pointer hops crossed), for callers that report per-lookup
// cost — cmd/marf-bench's verify subcommand is one — without paying for a
// second walk just to recover them.
func (s *Store) GetWithProofAndStats(blockID [32]byte, key []byte) ([]byte, *proof.Proof, node.Stats, error) {
	hdr, err := s.pages.ReadHeader(blockID)
	if err != nil {
		return nil, nil, node.Stats{}, err
	}
	path := hash.Sum256(key)
	res, err := s.walker().Walk(blockID, hdr.RootOffset, path[:])
	if err != nil {
		return nil, nil, node.Stats{}, err
	}
	p, err := proof.Build(path[:], res.Trace, s.forks, blockID)
	if err != nil {
		return nil, nil, node.Stats{}, err
	}
	if res.Ending != cursor.EndingFound {
		return nil, p, res.Stats, nil
	}
	return res.Value, p, res.Stats, nil
}

// GetRootHash returns blockID's published block-root hash.
func (s *Store) GetRootHash(blockID [32]byte) (hash.Content, error) {
	h, ok := s.forks.GetRootHash(blockID)
	if !ok {
		return hash.Content{}, errs.ErrUnknownBlock
	}
	return h, nil
}

// IsAncestor reports whether maybeAncestor lies on the path from the
// sentinel to descendant.
func (s *Store) IsAncestor(maybeAncestor, descendant [32]byte) bool {
	return s.forks.IsAncestor(maybeAncestor, descendant)
}

// GetBurnHeight returns the burnchain height recorded for blockID via
// Txn.CommitWithBurnHeight, if any (SPEC_FULL.md fork-table supplement).
// It never participates in any hash.
func (s *Store) GetBurnHeight(blockID [32]byte) (uint64, bool) {
	return s.forks.GetBurnHeight(blockID)
}

// Verify checks a proof obtained from GetWithProof against a published
// block-root hash, hashing key down to the path the proof was built over
// so callers never touch the hashing scheme directly (spec.md §4.8's
// `verify(proof, block_root_hash, key, expected_value_or_absent) → bool`).
func Verify(p *proof.Proof, blockRootHash hash.Content, key []byte, expectedValue []byte, expectAbsent bool) bool {
	path := hash.Sum256(key)
	return proof.Verify(p, blockRootHash, path[:], expectedValue, expectAbsent)
}

// ReadOnlyHandle is a lookup surface bound to a single committed block,
// for a collaborator (the VM, per spec.md §6: "a read-only handle bound
// to a block-id") that repeatedly queries one block and would rather not
// repeat the block-id on every call. It never touches the writer lock —
// a handle may be held and used for as long as its block stays committed,
// concurrently with an unrelated open write transaction, matching
// immutable.TrieReader's split from the mutable immutable.Trie in the
// reference.
type ReadOnlyHandle struct {
	store   *Store
	blockID [32]byte
}

// Handle binds a ReadOnlyHandle to blockID. It does not itself check that
// blockID is committed; that surfaces naturally as ErrUnknownBlock (or
// an absent read) on first use, mirroring Get's own laziness.
func (s *Store) Handle(blockID [32]byte) *ReadOnlyHandle {
	return &ReadOnlyHandle{store: s, blockID: blockID}
}

// BlockID returns the block this handle is bound to.
func (h *ReadOnlyHandle) BlockID() [32]byte { return h.blockID }

// Get is Store.Get against the handle's bound block.
func (h *ReadOnlyHandle) Get(key []byte) ([]byte, error) {
	return h.store.Get(h.blockID, key)
}

// GetWithProof is Store.GetWithProof against the handle's bound block.
func (h *ReadOnlyHandle) GetWithProof(key []byte) ([]byte, *proof.Proof, error) {
	return h.store.GetWithProof(h.blockID, key)
}

// GetWithProofAndStats is Store.GetWithProofAndStats against the handle's
// bound block.
func (h *ReadOnlyHandle) GetWithProofAndStats(key []byte) ([]byte, *proof.Proof, node.Stats, error) {
	return h.store.GetWithProofAndStats(h.blockID, key)
}

// GetRootHash is Store.GetRootHash against the handle's bound block.
func (h *ReadOnlyHandle) GetRootHash() (hash.Content, error) {
	return h.store.GetRootHash(h.blockID)
}

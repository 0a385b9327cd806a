// Package forktable implements the MARF's fork table (spec.md §4.4): the
// persistent block_id -> (parent, storage location, root hash, height)
// index, with geometric skip-pointers accelerating ancestor-at-height
// lookups to O(log N).
//
// The reference trie library has no multi-trie forest of its own — this
// package is new relative to the teacher, but follows its storage idiom
// throughout: a kvstore.KVStore-backed table (same abstraction
// pagestore.Store uses, grounded on trie/nodestore.go's layering of a
// node cache over a KVReader/KVWriter pair) plus fixed-width big-endian
// keys, matching spec.md §6's schema.
package forktable

import (
	"encoding/binary"
	"sync"

	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/kvstore"
)

// Sentinel is the distinguished root-of-all-blocks (spec.md §3, §4.4):
// its own parent, with a zero root hash.
var Sentinel [32]byte

// Entry is one fork-table row: blocks(block_id, parent_id, height,
// root_hash, storage_ref) per spec.md §6. storage_ref is implicit here —
// the pagestore uses the block_id itself as its storage key prefix, so
// no separate storage_ref column is needed.
type Entry struct {
	BlockID       [32]byte
	ParentID      [32]byte
	Height        uint64
	RootHash      hash.Content
	TrieRootHash  hash.Content // the committed trie's own root hash, pre-ancestor-vector fold
	BurnHeight    uint64       // optional; see SPEC_FULL.md fork table supplement
	HasBurnHeight bool
}

const (
	entryPrefix = "e/" // blockID -> Entry
	skipPrefix  = "s/" // blockID + offsetIndex(1 byte) -> ancestor blockID
)

// geometricOffsets is the ancestor skip-distance ladder (1, 3, 7, 15, ...,
// 2^k-1) spec.md §4.4/§4.9 mandates.
func geometricOffsets(maxHeight uint64) []uint64 {
	var offsets []uint64
	for k := uint64(1); ; k++ {
		off := (uint64(1) << k) - 1
		if off > maxHeight {
			break
		}
		offsets = append(offsets, off)
		if k > 63 {
			break
		}
	}
	return offsets
}

// Table is the fork table, backed by a kvstore.KVStore. A single-writer
// / multi-reader lock guards it, per spec.md §5.
type Table struct {
	mu    sync.RWMutex
	store kvstore.KVStore
}

// New creates a fork table over store and seeds the sentinel entry if
// not already present.
func New(store kvstore.KVStore) *Table {
	t := &Table{store: store}
	if !t.store.Has(entryKey(Sentinel)) {
		t.putLocked(&Entry{BlockID: Sentinel, ParentID: Sentinel, Height: 0, RootHash: hash.Zero})
	}
	return t
}

func entryKey(blockID [32]byte) []byte {
	k := make([]byte, len(entryPrefix)+32)
	copy(k, entryPrefix)
	copy(k[len(entryPrefix):], blockID[:])
	return k
}

func skipKey(blockID [32]byte, idx int) []byte {
	k := make([]byte, len(skipPrefix)+32+1)
	copy(k, skipPrefix)
	copy(k[len(skipPrefix):], blockID[:])
	k[len(skipPrefix)+32] = byte(idx)
	return k
}

func (e *Entry) encode() []byte {
	buf := make([]byte, 0, 32+32+8+32+32+1+8)
	buf = append(buf, e.BlockID[:]...)
	buf = append(buf, e.ParentID[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], e.Height)
	buf = append(buf, tmp8[:]...)
	buf = append(buf, e.RootHash[:]...)
	buf = append(buf, e.TrieRootHash[:]...)
	if e.HasBurnHeight {
		buf = append(buf, 1)
		binary.BigEndian.PutUint64(tmp8[:], e.BurnHeight)
		buf = append(buf, tmp8[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) < 32+32+8+32+32+1 {
		return nil, errs.StorageCorruption([32]byte{}, 0, "malformed fork-table entry")
	}
	e := &Entry{}
	off := 0
	copy(e.BlockID[:], data[off:off+32])
	off += 32
	copy(e.ParentID[:], data[off:off+32])
	off += 32
	e.Height = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	copy(e.RootHash[:], data[off:off+32])
	off += 32
	copy(e.TrieRootHash[:], data[off:off+32])
	off += 32
	if data[off] == 1 {
		off++
		e.HasBurnHeight = true
		e.BurnHeight = binary.BigEndian.Uint64(data[off : off+8])
	}
	return e, nil
}

func (t *Table) putLocked(e *Entry) {
	t.store.Set(entryKey(e.BlockID), e.encode())
	if e.BlockID == e.ParentID {
		return // sentinel: no skip pointers
	}
	for i, off := range geometricOffsets(e.Height) {
		anc, ok := t.ancestorAtHeightLocked(e.BlockID, e.Height-off)
		if !ok {
			break
		}
		t.store.Set(skipKey(e.BlockID, i), anc[:])
	}
}

func (t *Table) getLocked(blockID [32]byte) (*Entry, bool) {
	data := t.store.Get(entryKey(blockID))
	if data == nil {
		return nil, false
	}
	e, err := decodeEntry(data)
	if err != nil {
		panic(err)
	}
	return e, true
}

// Put records a newly committed block's fork-table row. Called by the
// MARF facade's commit path, never directly by callers outside this
// module's trust boundary.
func (t *Table) Put(e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.getLocked(e.BlockID); exists {
		return errs.ErrDuplicateBlock
	}
	if e.BlockID != e.ParentID {
		if _, ok := t.getLocked(e.ParentID); !ok {
			return errs.ErrUnknownParent
		}
	}
	t.putLocked(e)
	return nil
}

// GetParent returns blockID's parent, per spec.md §4.4.
func (t *Table) GetParent(blockID [32]byte) ([32]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.getLocked(blockID)
	if !ok {
		return [32]byte{}, false
	}
	return e.ParentID, true
}

// GetRootHash returns blockID's published block-root hash.
func (t *Table) GetRootHash(blockID [32]byte) (hash.Content, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.getLocked(blockID)
	if !ok {
		return hash.Content{}, false
	}
	return e.RootHash, true
}

// GetBurnHeight returns the caller-supplied burnchain height recorded
// alongside blockID, if any (SPEC_FULL.md fork-table supplement). It
// never participates in any hash; chainstate callers that key queries
// off burnchain height rather than Stacks height use this instead of
// GetHeight.
func (t *Table) GetBurnHeight(blockID [32]byte) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.getLocked(blockID)
	if !ok || !e.HasBurnHeight {
		return 0, false
	}
	return e.BurnHeight, true
}

// GetHeight returns blockID's height.
func (t *Table) GetHeight(blockID [32]byte) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.getLocked(blockID)
	if !ok {
		return 0, false
	}
	return e.Height, true
}

// GetAncestorAtHeight walks blockID's ancestry to the block at the given
// height, accelerated by the geometric skip-pointer ladder so the walk
// is O(log N) amortized, per spec.md §4.4.
func (t *Table) GetAncestorAtHeight(blockID [32]byte, height uint64) ([32]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorAtHeightLocked(blockID, height)
}

func (t *Table) ancestorAtHeightLocked(blockID [32]byte, height uint64) ([32]byte, bool) {
	cur, ok := t.getLocked(blockID)
	if !ok {
		return [32]byte{}, false
	}
	if cur.Height < height {
		return [32]byte{}, false
	}
	for cur.Height > height {
		remaining := cur.Height - height
		// take the largest skip pointer that does not overshoot
		used := false
		offsets := geometricOffsets(cur.Height)
		for i := len(offsets) - 1; i >= 0; i-- {
			if offsets[i] <= remaining {
				data := t.store.Get(skipKey(cur.BlockID, i))
				if data == nil {
					continue
				}
				var anc [32]byte
				copy(anc[:], data)
				next, ok := t.getLocked(anc)
				if !ok {
					break
				}
				cur = next
				used = true
				break
			}
		}
		if !used {
			// fall back to a single parent step
			parent, ok := t.getLocked(cur.ParentID)
			if !ok {
				return [32]byte{}, false
			}
			cur = parent
		}
	}
	return cur.BlockID, true
}

// IsAncestor reports whether maybeAncestor lies on the path from the
// sentinel to descendant.
func (t *Table) IsAncestor(maybeAncestor, descendant [32]byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ancEntry, ok := t.getLocked(maybeAncestor)
	if !ok {
		return false
	}
	got, ok := t.ancestorAtHeightLocked(descendant, ancEntry.Height)
	if !ok {
		return false
	}
	return got == maybeAncestor
}

// NextHeight returns the height a new child of parentBlockID would have
// (parent.height + 1), per spec.md §3 invariant 4.
func (t *Table) NextHeight(parentBlockID [32]byte) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if parentBlockID == Sentinel {
		return 1, true
	}
	e, ok := t.getLocked(parentBlockID)
	if !ok {
		return 0, false
	}
	return e.Height + 1, true
}

// AncestorRootHashVectorForHeight computes the geometric-series vector of
// ancestor block-root hashes at offsets (1, 3, 7, 15, ...) behind
// newHeight, walking back from parentBlockID. Used while committing a
// new block — the block itself is not yet in the table, but every
// ancestor below it is identical to one of parentBlockID's own ancestors
// (or parentBlockID itself, at offset 1), per spec.md §4.9.
func (t *Table) AncestorRootHashVectorForHeight(parentBlockID [32]byte, newHeight uint64) ([]hash.Content, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorRootHashVectorLocked(parentBlockID, newHeight), nil
}

func (t *Table) ancestorRootHashVectorLocked(parentBlockID [32]byte, newHeight uint64) []hash.Content {
	var out []hash.Content
	for _, off := range geometricOffsets(newHeight) {
		if off > newHeight {
			break
		}
		ancID, ok := t.ancestorAtHeightLocked(parentBlockID, newHeight-off)
		if !ok {
			break
		}
		ancEntry, ok := t.getLocked(ancID)
		if !ok {
			break
		}
		out = append(out, ancEntry.RootHash)
	}
	return out
}

// AncestorRootHashVector returns the same vector as
// AncestorRootHashVectorForHeight, but for an already-committed blockID,
// used by the proof verifier to recheck a published block's ancestor
// commitment.
func (t *Table) AncestorRootHashVector(blockID [32]byte) ([]hash.Content, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.getLocked(blockID)
	if !ok {
		return nil, errs.ErrUnknownBlock
	}
	return t.ancestorRootHashVectorLocked(e.ParentID, e.Height), nil
}

// ShuntHop is one link of a multi-hop ancestor crossing: a single
// geometric-offset step from one committed block to another, carrying
// enough of the target's own commitment (its trie root and its own
// ancestor vector) that a proof verifier — with no access to this table —
// can independently recompute the target's block-root hash and keep
// walking the chain down to the actual query height, even when that
// spans more than one geometric offset (spec.md §4.6, §4.9).
type ShuntHop struct {
	BlockID        [32]byte
	RootHash       hash.Content
	TrieRootHash   hash.Content
	AncestorVector []hash.Content
	OffsetIndex    int
}

// ShuntChain builds the hop-by-hop geometric path from fromBlockID down to
// targetHeight, mirroring ancestorAtHeightLocked's own greedy skip-pointer
// walk one step at a time instead of collapsing it to a single block id, so
// a proof can carry — and a verifier can independently retrace — every
// intermediate block the walk actually passed through.
func (t *Table) ShuntChain(fromBlockID [32]byte, targetHeight uint64) ([]ShuntHop, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur, ok := t.getLocked(fromBlockID)
	if !ok {
		return nil, errs.ErrUnknownBlock
	}
	if cur.Height < targetHeight {
		return nil, errs.ErrNotAncestor
	}

	var hops []ShuntHop
	for cur.Height > targetHeight {
		remaining := cur.Height - targetHeight
		offsets := geometricOffsets(cur.Height)

		idx := -1
		var next *Entry
		for i := len(offsets) - 1; i >= 0; i-- {
			if offsets[i] > remaining {
				continue
			}
			data := t.store.Get(skipKey(cur.BlockID, i))
			if data == nil {
				continue
			}
			var anc [32]byte
			copy(anc[:], data)
			e, ok := t.getLocked(anc)
			if !ok {
				continue
			}
			idx, next = i, e
			break
		}
		if next == nil {
			// Fall back to a direct parent step, recorded at whichever
			// slot carries offset 1 — every non-sentinel block has one.
			parent, ok := t.getLocked(cur.ParentID)
			if !ok {
				return nil, errs.ErrUnknownBlock
			}
			pidx := -1
			for i, off := range offsets {
				if off == 1 {
					pidx = i
					break
				}
			}
			if pidx < 0 {
				return nil, errs.InvariantViolation("forktable: block has no offset-1 skip slot")
			}
			idx, next = pidx, parent
		}

		hops = append(hops, ShuntHop{
			BlockID:        next.BlockID,
			RootHash:       next.RootHash,
			TrieRootHash:   next.TrieRootHash,
			AncestorVector: t.ancestorRootHashVectorLocked(next.ParentID, next.Height),
			OffsetIndex:    idx,
		})
		cur = next
	}
	return hops, nil
}

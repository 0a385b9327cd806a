package marf

import (
	"bytes"
	"sort"

	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/forktable"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/node"
	"github.com/stacks-network/marf-go/pagestore"
	"github.com/stacks-network/marf-go/roothash"
)

// workingNode is one node of the transaction's in-memory copy-on-write
// tree: n carries the node's own fields (variant, path segment, value,
// ...); children names, for an inner node, what sits at each nibble —
// either already brought into memory this transaction, or still a frozen
// reference into committed storage. Nothing is written to the page store
// until Commit — this mirrors the reference trie's bufferedNode overlay
// (immutable/nodedata.go) generalized with an explicit frozen/expanded
// split so an untouched subtree costs nothing but a back-pointer.
type workingNode struct {
	n        *node.Node
	children map[byte]*workingChild

	// loadedFrom records where n was read from, if it was read from
	// storage this transaction rather than created fresh. Used only to
	// fill in a leaf's Superseded back-pointer the first time its value
	// changes in this transaction (spec.md §3: "a back-pointer to the
	// leaf it supersedes").
	loadedFrom *node.ChildRef
}

// workingChild is a child slot in the working tree. Exactly one of
// expanded/frozen is non-nil; a nil *workingChild (the Go zero value,
// i.e. simply absent from a children map) means the slot is empty.
type workingChild struct {
	expanded *workingNode
	frozen   *node.ChildRef
}

// Txn is one open block's transaction, created by Store.Begin.
type Txn struct {
	store         *Store
	handle        *pagestore.Handle
	blockID       [32]byte
	parentBlockID [32]byte
	root          *workingChild
	done          bool
}

// Begin opens newBlockID as a child of parentBlockID (spec.md §4.7).
// Errors: AlreadyOpen, UnknownParent, DuplicateBlock.
func (s *Store) Begin(parentBlockID, newBlockID [32]byte) (*Txn, error) {
	parentIsSentinel := parentBlockID == forktable.Sentinel
	handle, err := s.pages.Open(newBlockID, parentBlockID, parentIsSentinel)
	if err != nil {
		return nil, err
	}

	var root *workingChild
	if parentIsSentinel {
		// A brand new forest: leave the root nil rather than eagerly
		// wrapping it in an inner node. insert()'s nil-child branch then
		// makes the first key's leaf the root directly (spec.md §8's
		// empty-trie boundary); flushRoot materializes a genuinely empty
		// inner node only if the block commits with zero inserts.
		root = nil
	} else {
		hdr, err := s.pages.ReadHeader(parentBlockID)
		if err != nil {
			s.pages.DropOpen()
			return nil, err
		}
		root = &workingChild{frozen: &node.ChildRef{
			IsBackPointer:  true,
			AncestorBlock:  parentBlockID,
			AncestorOffset: hdr.RootOffset,
			Hash:           hdr.RootHash,
		}}
	}

	return &Txn{store: s, handle: handle, blockID: newBlockID, parentBlockID: parentBlockID, root: root}, nil
}

// Insert applies a single write to the open block, overwriting any prior
// value for the same key within this block (spec.md §4.7).
func (tx *Txn) Insert(key, value []byte) error {
	if tx.done {
		return errs.ErrNoOpenBlock
	}
	path := hash.Sum256(key)
	nibbles := node.PathToNibbles(path[:])
	newRoot, err := tx.insert(tx.root, nibbles, value)
	if err != nil {
		return err
	}
	tx.root = newRoot
	return nil
}

// InsertBatch applies many writes in one call. Per spec.md §4.7 it MAY
// reorder for efficiency but MUST reach the same end state as applying
// the inserts sequentially in the given order — ties are broken by
// resolving duplicate keys (last value wins) before sorting paths, so
// reordering among distinct paths (which never interact) is the only
// freedom actually used.
func (tx *Txn) InsertBatch(keys, values [][]byte) error {
	if tx.done {
		return errs.ErrNoOpenBlock
	}
	if len(keys) != len(values) {
		return errs.ErrLengthMismatch
	}

	valueByPath := make(map[hash.Content][]byte, len(keys))
	var order []hash.Content
	for i, k := range keys {
		p := hash.Sum256(k)
		if _, seen := valueByPath[p]; !seen {
			order = append(order, p)
		}
		valueByPath[p] = values[i]
	}
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i][:], order[j][:]) < 0
	})

	for _, p := range order {
		nibbles := node.PathToNibbles(p[:])
		newRoot, err := tx.insert(tx.root, nibbles, valueByPath[p])
		if err != nil {
			return err
		}
		tx.root = newRoot
	}
	return nil
}

// DropOpen discards the open block with no observable effect.
func (tx *Txn) DropOpen() {
	if tx.done {
		return
	}
	tx.store.pages.DropOpen()
	tx.done = true
}

// Commit finalizes the open block: bottom-up hashes its nodes, computes
// the block-root hash over the trie root and the ancestor geometric
// series, persists, and publishes the fork-table entry (spec.md §4.7).
func (tx *Txn) Commit() (hash.Content, error) {
	return tx.commit(0, false)
}

// CommitWithBurnHeight is Commit, additionally recording a caller-supplied
// burnchain height alongside the block (SPEC_FULL.md fork-table
// supplement, grounded on stacks-blockchain's chainstate processor keying
// some queries off burnchain height rather than Stacks height). The
// burn height is metadata only — it never participates in any hash.
func (tx *Txn) CommitWithBurnHeight(burnHeight uint64) (hash.Content, error) {
	return tx.commit(burnHeight, true)
}

func (tx *Txn) commit(burnHeight uint64, hasBurnHeight bool) (hash.Content, error) {
	if tx.done {
		return hash.Content{}, errs.ErrNoOpenBlock
	}

	ref, err := tx.flushRoot(tx.root)
	if err != nil {
		return hash.Content{}, err
	}

	height, ok := tx.store.forks.NextHeight(tx.parentBlockID)
	if !ok {
		return hash.Content{}, errs.ErrUnknownParent
	}
	ancestorVector, err := tx.store.forks.AncestorRootHashVectorForHeight(tx.parentBlockID, height)
	if err != nil {
		return hash.Content{}, err
	}
	blockRootHash := roothash.Compute(ref.Hash, ancestorVector)

	if err := tx.handle.Commit(height, ref.LocalOffset, ref.Hash, blockRootHash); err != nil {
		return hash.Content{}, err
	}
	if err := tx.store.forks.Put(&forktable.Entry{
		BlockID:       tx.blockID,
		ParentID:      tx.parentBlockID,
		Height:        height,
		RootHash:      blockRootHash,
		TrieRootHash:  ref.Hash,
		BurnHeight:    burnHeight,
		HasBurnHeight: hasBurnHeight,
	}); err != nil {
		return hash.Content{}, err
	}

	tx.done = true
	return blockRootHash, nil
}

// insert descends the working tree along path, creating, splitting, or
// overwriting nodes as needed, and returns the (possibly new)
// workingChild that should replace wc in its parent. Grounded on the
// reference trie library's recursive update() (immutable/update.go),
// adapted from its byte-indexed single-child-per-step model to the MARF's
// nibble-level path compression with explicit back-pointer re-homing on
// first touch.
func (tx *Txn) insert(wc *workingChild, remaining []byte, value []byte) (*workingChild, error) {
	if wc == nil {
		return &workingChild{expanded: &workingNode{n: node.NewLeaf(remaining, value, nil)}}, nil
	}
	if wc.expanded == nil {
		expanded, err := tx.expand(wc.frozen)
		if err != nil {
			return nil, err
		}
		wc = &workingChild{expanded: expanded}
	}

	wn := wc.expanded
	n := wn.n

	if n.Variant == node.Leaf {
		if bytes.Equal(n.TerminalPath, remaining) {
			n.Value = append([]byte(nil), value...)
			if wn.loadedFrom != nil {
				n.Superseded = wn.loadedFrom
			}
			return wc, nil
		}
		return tx.splitLeaf(wn, remaining, value), nil
	}

	prefixLen := commonPrefixLen(n.PathSegment, remaining)
	if prefixLen < len(n.PathSegment) {
		return tx.splitInner(wn, prefixLen, remaining, value), nil
	}

	rest := remaining[prefixLen:]
	if len(rest) == 0 {
		return nil, errs.InvariantViolation("insert: path exhausted exactly at an inner node")
	}
	branchNibble := rest[0]
	childRemaining := rest[1:]

	if wn.children == nil {
		wn.children = make(map[byte]*workingChild)
	}
	newChild, err := tx.insert(wn.children[branchNibble], childRemaining, value)
	if err != nil {
		return nil, err
	}
	wn.children[branchNibble] = newChild
	return &workingChild{expanded: wn}, nil
}

// splitLeaf replaces a leaf whose terminal path diverges from remaining
// with a fresh inner node carrying both leaves as children, per spec.md
// §4.2's split_path contract. Fixed-width paths guarantee
// len(n.TerminalPath) == len(remaining), so divergence always leaves a
// genuine shared prefix followed by two differing branch nibbles.
func (tx *Txn) splitLeaf(wn *workingNode, remaining, value []byte) *workingChild {
	n := wn.n
	prefixLen := commonPrefixLen(n.TerminalPath, remaining)

	oldNibble := n.TerminalPath[prefixLen]
	oldLeaf := &node.Node{
		Variant:      node.Leaf,
		TerminalPath: append([]byte(nil), n.TerminalPath[prefixLen+1:]...),
		Value:        n.Value,
		Superseded:   n.Superseded,
	}

	newNibble := remaining[prefixLen]
	newLeaf := node.NewLeaf(remaining[prefixLen+1:], value, nil)

	upper := node.NewInner(append([]byte(nil), n.TerminalPath[:prefixLen]...))
	return &workingChild{expanded: &workingNode{
		n: upper,
		children: map[byte]*workingChild{
			oldNibble: {expanded: &workingNode{n: oldLeaf, loadedFrom: wn.loadedFrom}},
			newNibble: {expanded: &workingNode{n: newLeaf}},
		},
	}}
}

// splitInner divides an inner node's path segment at prefixLen, matching
// node.SplitPath, and attaches a fresh leaf for the diverging insert.
func (tx *Txn) splitInner(wn *workingNode, prefixLen int, remaining, value []byte) *workingChild {
	n := wn.n
	upper, lower := node.SplitPath(n, prefixLen)
	lowerNibble := node.NibbleAt(n.PathSegment, prefixLen)

	newNibble := remaining[prefixLen]
	newLeaf := node.NewLeaf(remaining[prefixLen+1:], value, nil)

	lowerWorking := &workingNode{n: lower, children: wn.children}
	return &workingChild{expanded: &workingNode{
		n: upper,
		children: map[byte]*workingChild{
			lowerNibble: {expanded: lowerWorking},
			newNibble:   {expanded: &workingNode{n: newLeaf}},
		},
	}}
}

// expand brings a frozen (committed, untouched) child into memory so it
// can be mutated, re-homing any of its own children that were local
// offsets within the ancestor block into back-pointers, since they are
// no longer local once referenced from the new open block.
func (tx *Txn) expand(frozen *node.ChildRef) (*workingNode, error) {
	loaded, err := tx.store.pages.ReadNode(frozen.AncestorBlock, frozen.AncestorOffset)
	if err != nil {
		return nil, err
	}
	wn := &workingNode{n: loaded, loadedFrom: frozen}
	if loaded.Variant != node.Leaf {
		wn.children = make(map[byte]*workingChild, len(loaded.Children))
		for nibble, c := range loaded.Children {
			wn.children[nibble] = &workingChild{frozen: rehome(frozen.AncestorBlock, c)}
		}
	}
	return wn, nil
}

// rehome re-expresses a child ref read from ancestorBlock so that it
// remains meaningful once copied into a different (new) block: an
// already-cross-block back-pointer is left untouched (the resolver only
// ever takes one hop), but a same-block local offset must become an
// explicit back-pointer into ancestorBlock.
func rehome(ancestorBlock [32]byte, c *node.ChildRef) *node.ChildRef {
	if c.IsBackPointer {
		return c
	}
	return &node.ChildRef{IsBackPointer: true, AncestorBlock: ancestorBlock, AncestorOffset: c.LocalOffset, Hash: c.Hash}
}

// flush writes wc's subtree into the open block's arena bottom-up and
// returns the ChildRef a parent should store for it: the existing frozen
// reference if the subtree was never touched, or a fresh local offset and
// recomputed hash otherwise.
func (tx *Txn) flush(wc *workingChild) (*node.ChildRef, error) {
	if wc == nil {
		return nil, nil
	}
	if wc.frozen != nil {
		return wc.frozen, nil
	}

	wn := wc.expanded
	n := wn.n
	if n.Variant != node.Leaf {
		// Children are re-added through node.InsertChild so the node is
		// promoted to the variant its final child count needs.
		rebuilt := &node.Node{Variant: n.Variant, PathSegment: n.PathSegment, Children: make(map[byte]*node.ChildRef, len(wn.children))}
		for nibble, childWC := range wn.children {
			ref, err := tx.flush(childWC)
			if err != nil {
				return nil, err
			}
			if ref != nil {
				if rebuilt, err = node.InsertChild(rebuilt, nibble, ref); err != nil {
					return nil, err
				}
			}
		}
		n = rebuilt
	}
	n.Hash = node.ComputeHash(n)
	offset := tx.handle.WriteNode(n)
	return &node.ChildRef{LocalOffset: offset, Hash: n.Hash}, nil
}

// flushRoot is flush, but guarantees the returned ref is always local:
// even a transaction with zero inserts (root still frozen, pointing
// unchanged at the parent's root) must materialize one real copy of the
// root node in the new block, since the block header's root offset is
// always interpreted as local (spec.md §4.3).
func (tx *Txn) flushRoot(wc *workingChild) (*node.ChildRef, error) {
	if wc == nil {
		// Never touched, and no parent root to inherit either: a brand
		// new block committed with zero inserts. Materialize the one
		// genuinely empty inner node spec.md §8 falls back to absent any
		// key ever reaching this trie.
		n := node.NewInner(nil)
		n.Hash = node.ComputeHash(n)
		offset := tx.handle.WriteNode(n)
		return &node.ChildRef{LocalOffset: offset, Hash: n.Hash}, nil
	}
	if wc.frozen != nil {
		expanded, err := tx.expand(wc.frozen)
		if err != nil {
			return nil, err
		}
		wc = &workingChild{expanded: expanded}
	}
	return tx.flush(wc)
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

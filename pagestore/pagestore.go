// Package pagestore implements the MARF's trie page store (spec.md
// §4.3): an append-only, content-addressed node store scoped per block,
// with one mutable open-block arena and any number of immutable
// committed blocks.
//
// Grounded on the reference trie library's nodeStoreBuffered
// (trie/nodestore.go), which layers an in-memory node cache over a
// read-only backing KV store; generalized here from "one trie, one
// cache" to "many committed block namespaces sharing one backing store,
// plus one open block's arena", per spec.md §4.3/§4.4. A committed
// block's "file" (spec.md §6) is realized as a key prefix inside the
// shared kvstore.KVStore, not a standalone OS file — the teacher's own
// bench tool already treats a KV store (badger) as the durable unit for
// a persisted trie (trie_bench.go's "-mkdbbadger" mode).
package pagestore

import (
	"encoding/binary"
	"sync"

	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/hash"
	"github.com/stacks-network/marf-go/kvstore"
	"github.com/stacks-network/marf-go/node"
)

const (
	nodePrefix   = "n/" // blockID + "n/" + offset -> node record
	headerSuffix = "/h" // blockID/h -> Header record
)

// Header is the fixed per-block header spec.md §6 mandates: magic,
// version, block_id, parent_id, height, root_offset, root_hash, plus the
// block-root hash. Magic and version are not struct fields: encode writes
// them literally at the front of the record and decodeHeader checks them.
type Header struct {
	BlockID       [32]byte
	ParentBlockID [32]byte
	Height        uint64
	RootOffset    uint64
	RootHash      hash.Content
	BlockRootHash hash.Content
}

const (
	headerMagic   uint32 = 0x4d415246 // "MARF"
	headerVersion uint16 = 1
)

func (h *Header) encode() []byte {
	buf := make([]byte, 0, 4+2+32+32+8+8+32+32)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], headerMagic)
	buf = append(buf, tmp4[:]...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], headerVersion)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, h.BlockID[:]...)
	buf = append(buf, h.ParentBlockID[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], h.Height)
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], h.RootOffset)
	buf = append(buf, tmp8[:]...)
	buf = append(buf, h.RootHash[:]...)
	buf = append(buf, h.BlockRootHash[:]...)
	return buf
}

func decodeHeader(data []byte) (*Header, error) {
	const want = 4 + 2 + 32 + 32 + 8 + 8 + 32 + 32
	if len(data) != want {
		return nil, errs.StorageCorruption([32]byte{}, 0, "malformed block header length")
	}
	if binary.BigEndian.Uint32(data[0:4]) != headerMagic {
		return nil, errs.StorageCorruption([32]byte{}, 0, "bad block header magic")
	}
	if binary.BigEndian.Uint16(data[4:6]) != headerVersion {
		return nil, errs.StorageCorruption([32]byte{}, 0, "unsupported block header version")
	}
	h := &Header{}
	off := 6
	copy(h.BlockID[:], data[off:off+32])
	off += 32
	copy(h.ParentBlockID[:], data[off:off+32])
	off += 32
	h.Height = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	h.RootOffset = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	copy(h.RootHash[:], data[off:off+32])
	off += 32
	copy(h.BlockRootHash[:], data[off:off+32])
	return h, nil
}

func offsetKey(offset uint64) []byte {
	key := make([]byte, len(nodePrefix)+8)
	copy(key, nodePrefix)
	binary.BigEndian.PutUint64(key[len(nodePrefix):], offset)
	return key
}

// Store is the process-wide trie page store: one backing KV store for
// all committed blocks, plus at most one open block's in-memory arena
// (spec.md §5: "at most one open block exists process-wide").
type Store struct {
	mu        sync.Mutex
	committed kvstore.KVStore
	open      *Handle
}

// New creates a page store over the given committed backing store
// (typically a *kvstore.BadgerStore for durability, or a *kvstore.MemStore
// in tests, per spec.md §9's "parameterizable for tests" requirement).
func New(committed kvstore.KVStore) *Store {
	return &Store{committed: committed}
}

// Handle is the open block's write-ahead scratch buffer: an in-memory
// arena indexed by offset, matching spec.md §4.3 and §9's
// arena-per-open-block design.
type Handle struct {
	store         *Store
	blockID       [32]byte
	parentBlockID [32]byte
	arena         []*node.Node
}

// Open begins a new open block as a child of parentBlockID. Only one
// open block may exist at a time (spec.md §4.3, §5).
func (s *Store) Open(blockID, parentBlockID [32]byte, parentIsSentinel bool) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return nil, errs.ErrAlreadyOpen
	}
	if hdr, _ := s.headerLocked(blockID); hdr != nil {
		return nil, errs.ErrDuplicateBlock
	}
	if !parentIsSentinel {
		if _, err := s.headerLocked(parentBlockID); err != nil {
			return nil, errs.ErrUnknownParent
		}
	}
	h := &Handle{store: s, blockID: blockID, parentBlockID: parentBlockID}
	s.open = h
	return h, nil
}

// IsOpen reports whether a block is currently open.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open != nil
}

// WriteNode appends a node to the open block's arena and returns its
// in-block offset.
func (h *Handle) WriteNode(n *node.Node) uint64 {
	offset := uint64(len(h.arena))
	h.arena = append(h.arena, n)
	return offset
}

// ReadNode reads a node from the open block's arena by offset.
func (h *Handle) ReadNode(offset uint64) (*node.Node, error) {
	if offset >= uint64(len(h.arena)) {
		return nil, errs.InvariantViolation("pagestore: offset %d out of range for open block arena", offset)
	}
	return h.arena[offset], nil
}

func (h *Handle) BlockID() [32]byte { return h.blockID }

// Commit finalizes the open block: it flushes the arena's node records
// and the block header to the committed store and releases the writer
// lock. When the committed store itself provides WriteBatch (as
// *kvstore.BadgerStore does), the records and header go out in one
// atomic batch, so a failure leaves no partial trace. Any other store —
// *kvstore.MemStore, or a kvstore.Partition view, which does not forward
// WriteBatch — receives them as individual Set calls, with no atomicity
// across them.
func (h *Handle) Commit(height, rootOffset uint64, rootHash, blockRootHash hash.Content) error {
	hdr := &Header{
		BlockID:       h.blockID,
		ParentBlockID: h.parentBlockID,
		Height:        height,
		RootOffset:    rootOffset,
		RootHash:      rootHash,
		BlockRootHash: blockRootHash,
	}

	part := kvstore.Partition(h.store.committed, h.blockID[:])
	if batched, ok := h.store.committed.(interface {
		WriteBatch(func(kvstore.KVWriter)) error
	}); ok {
		err := batched.WriteBatch(func(w kvstore.KVWriter) {
			bw := kvstore.Partition(writerOnly{w}, h.blockID[:])
			h.flush(bw, hdr)
		})
		if err != nil {
			return err
		}
	} else {
		h.flush(part, hdr)
	}

	h.store.mu.Lock()
	h.store.open = nil
	h.store.mu.Unlock()
	return nil
}

// writerOnly adapts a bare KVWriter into the KVStore surface Partition
// expects, since a batched write only needs Set.
type writerOnly struct{ kvstore.KVWriter }

func (writerOnly) Get(key []byte) []byte                        { return nil }
func (writerOnly) Has(key []byte) bool                          { return false }
func (writerOnly) IteratePrefix(_ []byte, _ func(k, v []byte) bool) {}

func (h *Handle) flush(w kvstore.KVStore, hdr *Header) {
	for offset, n := range h.arena {
		w.Set(offsetKey(uint64(offset)), n.Bytes())
	}
	w.Set([]byte(headerSuffix), hdr.encode())
}

// DropOpen discards the open block with no observable effect. Infallible
// and always releases the writer lock, per spec.md §5.
func (s *Store) DropOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = nil
}

// ReadCommittedNode reads a node from a committed block by offset.
func (s *Store) ReadCommittedNode(blockID [32]byte, offset uint64) (*node.Node, error) {
	part := kvstore.Partition(s.committed, blockID[:])
	data := part.Get(offsetKey(offset))
	if data == nil {
		return nil, errs.StorageCorruption(blockID, offset, "node record not found")
	}
	n, err := node.ReadNode(data)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ReadHeader reads a committed block's header.
func (s *Store) ReadHeader(blockID [32]byte) (*Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerLocked(blockID)
}

func (s *Store) headerLocked(blockID [32]byte) (*Header, error) {
	part := kvstore.Partition(s.committed, blockID[:])
	data := part.Get([]byte(headerSuffix))
	if data == nil {
		return nil, errs.ErrUnknownBlock
	}
	return decodeHeader(data)
}

// ReadNode reads a node either from the currently open block's arena (if
// blockID matches it) or from committed storage, per spec.md §4.3's
// `read_node` contract.
func (s *Store) ReadNode(blockID [32]byte, offset uint64) (*node.Node, error) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if open != nil && open.blockID == blockID {
		return open.ReadNode(offset)
	}
	return s.ReadCommittedNode(blockID, offset)
}

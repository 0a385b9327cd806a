package node

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/stacks-network/marf-go/errs"
	"github.com/stacks-network/marf-go/hash"
)

// Wire format, per spec.md §6:
//
//	1 byte   variant tag
//	1 byte   path-segment length (nibbles)
//	N bytes  path-segment, packed 2 nibbles/byte, N = ceil(len/2)
//	inner:   1 byte child count, then per child: nibble byte, 1 byte
//	         kind (0x00 local, 0x01 back-pointer), and either
//	         8-byte local offset or 32-byte ancestor block-id + 8-byte
//	         ancestor offset, each followed by the 32-byte child hash
//	leaf:    value bytes (length-prefixed), 1 byte has-superseded flag,
//	         and if set the superseded leaf's back-pointer (same shape
//	         as an inner child-ref)
//	32 bytes node content hash
//
// All multi-byte integers are big-endian, per spec.md §6.

const (
	backPointerLocal = 0x00
	backPointerCross = 0x01
)

// packNibbles stores nibble-valued bytes two to a byte, matching
// spec.md §6's "path-segment bytes (ceil(len/2))".
func packNibbles(nibbles []byte) []byte {
	out := make([]byte, (len(nibbles)+1)/2)
	for i, n := range nibbles {
		if i%2 == 0 {
			out[i/2] = n << 4
		} else {
			out[i/2] |= n & 0x0f
		}
	}
	return out
}

func unpackNibbles(packed []byte, count int) []byte {
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		b := packed[i/2]
		if i%2 == 0 {
			out[i] = b >> 4
		} else {
			out[i] = b & 0x0f
		}
	}
	return out
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeChildRef(w io.Writer, c *ChildRef) error {
	if c.IsBackPointer {
		if _, err := w.Write([]byte{backPointerCross}); err != nil {
			return err
		}
		if _, err := w.Write(c.AncestorBlock[:]); err != nil {
			return err
		}
		if err := writeU64(w, c.AncestorOffset); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{backPointerLocal}); err != nil {
			return err
		}
		if err := writeU64(w, c.LocalOffset); err != nil {
			return err
		}
	}
	_, err := w.Write(c.Hash[:])
	return err
}

func readChildRef(r io.Reader) (*ChildRef, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, err
	}
	c := &ChildRef{}
	switch kind[0] {
	case backPointerLocal:
		c.IsBackPointer = false
		off, err := readU64(r)
		if err != nil {
			return nil, err
		}
		c.LocalOffset = off
	case backPointerCross:
		c.IsBackPointer = true
		if _, err := io.ReadFull(r, c.AncestorBlock[:]); err != nil {
			return nil, err
		}
		off, err := readU64(r)
		if err != nil {
			return nil, err
		}
		c.AncestorOffset = off
	default:
		return nil, errs.StorageCorruption([32]byte{}, 0, "malformed child-ref kind byte")
	}
	if _, err := io.ReadFull(r, c.Hash[:]); err != nil {
		return nil, err
	}
	return c, nil
}

// Write serializes n in the wire format fixed by spec.md §6.
func (n *Node) Write(w io.Writer) error {
	if _, err := w.Write([]byte{byte(n.Variant)}); err != nil {
		return err
	}
	pathSeg := n.PathSegment
	if n.Variant == Leaf {
		pathSeg = n.TerminalPath
	}
	if len(pathSeg) > 255 {
		return errs.InvariantViolation("path segment longer than 255 nibbles")
	}
	if _, err := w.Write([]byte{byte(len(pathSeg))}); err != nil {
		return err
	}
	if _, err := w.Write(packNibbles(pathSeg)); err != nil {
		return err
	}

	if n.Variant == Leaf {
		if len(n.Value) > 0xffff {
			return errs.InvariantViolation("leaf value too long")
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(n.Value)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(n.Value); err != nil {
			return err
		}
		if n.Superseded != nil {
			if _, err := w.Write([]byte{1}); err != nil {
				return err
			}
			if err := writeChildRef(w, n.Superseded); err != nil {
				return err
			}
		} else {
			if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(n.Children) > 255 {
		return errs.InvariantViolation("too many children to encode count in one byte")
	}
	if _, err := w.Write([]byte{byte(len(n.Children))}); err != nil {
		return err
	}
	for nibble := byte(0); ; nibble++ {
		if child, ok := n.Children[nibble]; ok {
			if _, err := w.Write([]byte{nibble}); err != nil {
				return err
			}
			if err := writeChildRef(w, child); err != nil {
				return err
			}
		}
		if nibble == 255 {
			break
		}
	}
	return nil
}

// Bytes serializes n and appends the trailing 32-byte content hash, the
// exact form persisted by the page store.
func (n *Node) Bytes() []byte {
	var buf bytes.Buffer
	if err := n.Write(&buf); err != nil {
		panic(err)
	}
	buf.Write(n.Hash[:])
	return buf.Bytes()
}

// ReadNode deserializes a node record (body + trailing hash) as written
// by Bytes.
func ReadNode(data []byte) (*Node, error) {
	if len(data) < hash.ContentSize {
		return nil, errs.StorageCorruption([32]byte{}, 0, "node record shorter than trailing hash")
	}
	body := data[:len(data)-hash.ContentSize]
	var trailing hash.Content
	copy(trailing[:], data[len(data)-hash.ContentSize:])

	r := bytes.NewReader(body)
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: variant tag")
	}
	variant := Variant(tag[0])

	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: path length")
	}
	pathLen := int(lenByte[0])
	packed := make([]byte, (pathLen+1)/2)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: path segment")
	}
	pathSeg := unpackNibbles(packed, pathLen)

	var n *Node
	switch variant {
	case Leaf:
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: value length")
		}
		valLen := binary.BigEndian.Uint16(lenBuf[:])
		value := make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: value bytes")
		}
		var hasSuperseded [1]byte
		if _, err := io.ReadFull(r, hasSuperseded[:]); err != nil {
			return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: superseded flag")
		}
		var superseded *ChildRef
		if hasSuperseded[0] == 1 {
			var err error
			superseded, err = readChildRef(r)
			if err != nil {
				return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: superseded back-pointer")
			}
		}
		n = NewLeaf(pathSeg, value, superseded)
	case Node4, Node16, Node48, Node256:
		n = &Node{Variant: variant, PathSegment: pathSeg, Children: make(map[byte]*ChildRef)}
		var countByte [1]byte
		if _, err := io.ReadFull(r, countByte[:]); err != nil {
			return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: child count")
		}
		for i := 0; i < int(countByte[0]); i++ {
			var nibble [1]byte
			if _, err := io.ReadFull(r, nibble[:]); err != nil {
				return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: child nibble")
			}
			child, err := readChildRef(r)
			if err != nil {
				return nil, errs.StorageCorruption([32]byte{}, 0, "truncated node record: child-ref")
			}
			n.Children[nibble[0]] = child
		}
	default:
		return nil, errs.StorageCorruption([32]byte{}, 0, "unknown node variant tag")
	}
	n.Hash = trailing
	if computed := ComputeHash(n); computed != trailing {
		return nil, errs.StorageCorruption([32]byte{}, 0, "node hash mismatch on read")
	}
	return n, nil
}

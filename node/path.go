package node

// PathToNibbles expands a fixed-width hashed key path (spec.md §3) into
// its nibble sequence for nibble-by-nibble trie navigation — two
// nibbles per byte, high nibble first, same packing the wire format
// uses for a node's own path segment.
func PathToNibbles(path []byte) []byte {
	return unpackNibbles(path, len(path)*2)
}

// NibblesToPath repacks a full-length nibble sequence back into a byte
// path. Only valid when len(nibbles) is even.
func NibblesToPath(nibbles []byte) []byte {
	return packNibbles(nibbles)
}

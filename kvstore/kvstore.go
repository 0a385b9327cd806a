// Package kvstore defines the minimal key/value abstraction the MARF's
// storage layers are built on, plus two concrete backends: a badger-backed
// store for committed, durable data and an in-memory store for tests.
//
// The interface shape (panicking Get/Set rather than returning errors) is
// carried over from the reference trie library's common/kv.go — MARF
// storage code is written against it the same way the reference's
// nodeStore and hive_adaptor are.
package kvstore

import (
	"bytes"

	"github.com/iotaledger/hive.go/core/kvstore/mapdb"

	"github.com/stacks-network/marf-go/errs"
)

// KVReader is a key/value reader. Get returns nil for an absent key.
type KVReader interface {
	Get(key []byte) []byte
	Has(key []byte) bool
}

// KVWriter is a key/value writer. Set with value == nil deletes the key.
type KVWriter interface {
	Set(key, value []byte)
}

// KVIterator iterates a key range. Iteration order is the backend's
// natural order (lexicographic for both backends here), which is
// sufficient for the MARF's own uses (prefix scans over one block's
// node records) — no cross-store ordering guarantee is implied.
type KVIterator interface {
	IteratePrefix(prefix []byte, f func(k, v []byte) bool)
}

// KVStore is the compound interface storage layers depend on.
type KVStore interface {
	KVReader
	KVWriter
	KVIterator
}

// Partition returns a view of store where every key is implicitly
// prefixed with prefix. Used to give each committed block (and the fork
// table) its own namespace within a single underlying store, generalizing
// the reference's single-byte MakeReaderPartition/MakeWriterPartition to
// the MARF's 32-byte block-id prefixes.
func Partition(store KVStore, prefix []byte) KVStore {
	return &partition{prefix: append([]byte(nil), prefix...), store: store}
}

type partition struct {
	prefix []byte
	store  KVStore
}

func (p *partition) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	out = append(out, k...)
	return out
}

func (p *partition) Get(key []byte) []byte { return p.store.Get(p.key(key)) }
func (p *partition) Has(key []byte) bool   { return p.store.Has(p.key(key)) }
func (p *partition) Set(key, value []byte) { p.store.Set(p.key(key), value) }

func (p *partition) IteratePrefix(prefix []byte, f func(k, v []byte) bool) {
	p.store.IteratePrefix(p.key(prefix), func(k, v []byte) bool {
		if !bytes.HasPrefix(k, p.prefix) {
			return true
		}
		return f(k[len(p.prefix):], v)
	})
}

// MemStore is an in-memory KVStore, used for fork-table/node-store tests
// (the open block's nodes live in pagestore's own arena). Backed by
// hive.go/core/kvstore/mapdb, the same in-memory realization the
// reference's own bench tool uses for its "-mkdbmem" mode
// (trie_bench/main.go), adapted to the panicking KVStore surface above
// the same way hive_adaptor.go adapts the hive.go KVStore for the
// reference trie.
type MemStore struct {
	kv *mapdb.MapDB
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{kv: mapdb.NewMapDB()}
}

func mustNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func (m *MemStore) Get(key []byte) []byte {
	v, err := m.kv.Get(key)
	if err != nil {
		return nil
	}
	return v
}

func (m *MemStore) Has(key []byte) bool {
	ok, err := m.kv.Has(key)
	mustNoErr(err)
	return ok
}

func (m *MemStore) Set(key, value []byte) {
	var err error
	if value == nil {
		err = m.kv.Delete(key)
	} else {
		err = m.kv.Set(key, value)
	}
	mustNoErr(err)
}

func (m *MemStore) IteratePrefix(prefix []byte, f func(k, v []byte) bool) {
	err := m.kv.IteratePrefix(prefix, func(k, v []byte) bool {
		return f(k, v)
	})
	mustNoErr(err)
}

// MustNotExist panics with an invariant violation if key is already
// present in store, for a Set that must be the first write to a
// content-addressed key (§8.7: no node record is ever rewritten). No
// package in this module calls it.
func MustNotExist(store KVReader, key []byte) {
	if store.Has(key) {
		panic(errs.InvariantViolation("key already exists in content-addressed store: %x", key))
	}
}

package node

// Stats accumulates per-operation instrumentation counters for a single
// cursor walk: how many node records were read from storage and how many
// times the walk crossed a back-pointer into an ancestor block's trie.
//
// Supplements the distilled spec with the original's insert/query
// instrumentation (dropped from spec.md but present throughout the
// original source as counters around trie operations, e.g. marf_bench.rs
// walk metrics). These are exposed as plain return values/struct fields
// for callers that want them, never logged internally, matching
// trie256p.Trie.ClearCache's own stats-as-return-value style.
//
// A nil *Stats is always safe to pass: every method is a no-op on a nil
// receiver, so instrumentation costs nothing when a caller doesn't want
// it.
type Stats struct {
	NodesRead       int
	BackPointerHops int
}

// RecordNodeRead counts one node record read from storage (local or
// ancestor).
func (s *Stats) RecordNodeRead() {
	if s == nil {
		return
	}
	s.NodesRead++
}

// RecordBackPointerHop counts one crossing into an ancestor block's trie.
func (s *Stats) RecordBackPointerHop() {
	if s == nil {
		return
	}
	s.BackPointerHops++
}

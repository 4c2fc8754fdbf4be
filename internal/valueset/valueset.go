// Package valueset implements the union-find (disjoint-set) structure that
// aliases expression-tree nodes covered by copy/do/if tiles onto a single
// underlying live range, one set per expression-tree node id.
package valueset

import "github.com/orizon-lang/orizon-jit/internal/liverange"

// entry is one union-find slot: Key is the parent node id (Key == index
// means this is a root), Idx is the live range index this root owns.
type entry struct {
	key int32
	idx int32
}

// Set is a union-find domain sized to the number of expression-tree node
// ids in a single compilation.
type Set struct {
	entries []entry
}

// New creates a union-find domain with nodeCount singleton sets, each
// initially its own root with no live range assigned (Idx is set by the
// caller once a live range is created for that node).
func New(nodeCount int) *Set {
	s := &Set{entries: make([]entry, nodeCount)}
	for i := range s.entries {
		s.entries[i] = entry{key: int32(i), idx: -1}
	}
	return s
}

// Bind associates node with the live range at idx without changing any
// union structure. Used when a tile defines a fresh live range.
func (s *Set) Bind(node, idx int) {
	s.entries[node].idx = int32(idx)
}

// Alias points node directly at an existing node's set, without creating a
// live range of its own (the COPY and DO aliasing rule).
func (s *Set) Alias(node, target int) {
	s.entries[node].key = int32(target)
}

// Find follows parent pointers to the root of node's set and returns the
// live range index that root owns.
func (s *Set) Find(node int) int {
	key := int32(node)
	for s.entries[key].key != key {
		key = s.entries[key].key
	}
	return int(s.entries[key].idx)
}

// root returns the representative node id (not the live range index) for
// node's set.
func (s *Set) root(node int) int32 {
	key := int32(node)
	for s.entries[key].key != key {
		key = s.entries[key].key
	}
	return key
}

// Union merges the sets containing nodes a and b, used for the IF tile's
// two-armed merge. The set whose live range has the earlier FirstRef
// becomes the surviving root (ties keep a); the other set's reference
// queue is spliced into the survivor's in tile-index order, which leaves
// the loser's live range empty. Returns the node id of the surviving root.
func Union(s *Set, ranges []*liverange.LiveRange, a, b int) int {
	rootA := s.root(a)
	rootB := s.root(b)

	ra := ranges[s.entries[rootA].idx]
	rb := ranges[s.entries[rootB].idx]

	winner, loser := rootA, rootB
	winnerRange, loserRange := ra, rb
	if liverange.FirstRef(rb) < liverange.FirstRef(ra) {
		winner, loser = rootB, rootA
		winnerRange, loserRange = rb, ra
	}

	s.entries[loser].key = winner
	liverange.MergeQueues(winnerRange, loserRange)

	return int(winner)
}

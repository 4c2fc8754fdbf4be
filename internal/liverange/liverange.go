// Package liverange implements the LiveRange data structure used by the
// linear-scan allocator: a doubly-queued list of tile references a single
// value is read or written at, plus the worklist heap, the active set, and
// the FIFO register ring the allocator drains and refills.
package liverange

import "math"

// ValueRef is one read or write of a value, named by the tile that
// performs it and which value slot of that tile it occupies (slot 0 is
// always the tile's own result, a write).
type ValueRef struct {
	TileIdx  int32
	ValueIdx int32
	next     *ValueRef
}

// IsDef reports whether this reference is the value's defining write.
func (v *ValueRef) IsDef() bool { return v.ValueIdx == 0 }

// Class mirrors tile.RegisterClass without importing it, to keep this
// package free of a dependency on the tile model.
type Class int

const (
	ClassGPR Class = iota
	ClassXMM
	ClassNVR
)

// LiveRange tracks every reference to one allocator value: a FIFO queue of
// ValueRefs (oldest reference first) plus up to two synthetic endpoints
// used for phi-like joins and (eventually) spill/reload markers, which do
// not correspond to an actual tile in the queue but still bound the
// range's extent.
type LiveRange struct {
	first, last *ValueRef

	synthPos  [2]int32
	synthetic [2]bool

	registerSpecRequired bool
	registerClass        Class
	registerNum          int8

	// AssignedClass/AssignedNum are filled in by the allocator once this
	// range has been given a physical register.
	AssignedClass Class
	AssignedNum   int8
}

// New returns an empty live range.
func New() *LiveRange {
	return &LiveRange{}
}

// AddRef appends a reference to the end of the queue.
func (r *LiveRange) AddRef(tileIdx, valueIdx int) {
	ref := &ValueRef{TileIdx: int32(tileIdx), ValueIdx: int32(valueIdx)}
	if r.first == nil {
		r.first = ref
	}
	if r.last != nil {
		r.last.next = ref
	}
	r.last = ref
}

// SetSynthetic records a synthetic endpoint reference (not backed by a real
// tile) at the given tile-index position, slot 0 for the early endpoint,
// slot 1 for the late endpoint.
func (r *LiveRange) SetSynthetic(slot int, pos int) {
	r.synthPos[slot] = int32(pos)
	r.synthetic[slot] = true
}

// RequireRegister pins this range to a specific physical register rather
// than letting the allocator hand one out from the free ring.
func (r *LiveRange) RequireRegister(class Class, num int8) {
	r.registerSpecRequired = true
	r.registerClass = class
	r.registerNum = num
}

// HasRequirement reports whether RequireRegister was called.
func (r *LiveRange) HasRequirement() bool { return r.registerSpecRequired }

// Requirement returns the pinned register class and number; only valid
// when HasRequirement is true.
func (r *LiveRange) Requirement() (Class, int8) { return r.registerClass, r.registerNum }

// IsEmpty reports a live range with no references at all. These appear
// after an IF union splices the losing range's references into the
// survivor, and are skipped by the allocator rather than assigned a
// register.
func (r *LiveRange) IsEmpty() bool {
	return r.first == nil && !r.synthetic[0] && !r.synthetic[1]
}

// FirstRef returns the earliest tile index this range is touched at
// (queue head or early synthetic endpoint, whichever comes first).
func FirstRef(r *LiveRange) int32 {
	a := int32(math.MaxInt32)
	if r.first != nil {
		a = r.first.TileIdx
	}
	b := int32(math.MaxInt32)
	if r.synthetic[0] {
		b = r.synthPos[0]
	}
	if a < b {
		return a
	}
	return b
}

// LastRef returns the latest tile index this range is touched at (queue
// tail or late synthetic endpoint, whichever comes last).
func LastRef(r *LiveRange) int32 {
	a := int32(-1)
	if r.last != nil {
		a = r.last.TileIdx
	}
	b := int32(-1)
	if r.synthetic[1] {
		b = r.synthPos[1]
	}
	if a > b {
		return a
	}
	return b
}

// Refs returns the reference queue head-to-tail, for assignment and for
// tests; it does not include synthetic endpoints. A synthetic endpoint
// stores only a position, no tile slot, so the allocator's WriteBack
// writes no register number for it.
func (r *LiveRange) Refs() []*ValueRef {
	var out []*ValueRef
	for ref := r.first; ref != nil; ref = ref.next {
		out = append(out, ref)
	}
	return out
}

// MergeQueues splices loser's reference queue into winner's, keeping the
// combined queue sorted by tile index (both queues are individually sorted
// already since references are appended in tile-scan order), and clears
// loser so it is reported IsEmpty afterward. Mirrors the merge-by-earlier-
// first_ref rule used for IF-tile unions.
func MergeQueues(winner, loser *LiveRange) {
	if winner.synthetic[0] == false && loser.synthetic[0] {
		winner.synthPos[0], winner.synthetic[0] = loser.synthPos[0], true
	}
	if loser.synthetic[1] && (!winner.synthetic[1] || loser.synthPos[1] > winner.synthPos[1]) {
		winner.synthPos[1], winner.synthetic[1] = loser.synthPos[1], true
	}

	merged := mergeRefChains(winner.first, loser.first)
	winner.first = merged
	for p := merged; p != nil; p = p.next {
		winner.last = p
	}
	if winner.first == nil {
		winner.last = nil
	}

	loser.first, loser.last = nil, nil
	loser.synthetic[0], loser.synthetic[1] = false, false
}

func mergeRefChains(a, b *ValueRef) *ValueRef {
	dummy := &ValueRef{}
	tail := dummy
	for a != nil && b != nil {
		if a.TileIdx <= b.TileIdx {
			tail.next = a
			a = a.next
		} else {
			tail.next = b
			b = b.next
		}
		tail = tail.next
	}
	if a != nil {
		tail.next = a
	} else {
		tail.next = b
	}
	return dummy.next
}

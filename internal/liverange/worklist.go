package liverange

// Heap is a binary min-heap of live-range indices, ordered by FirstRef of
// the range each index points at. It is the allocator's worklist: values
// are popped in the order they first become relevant.
type Heap struct {
	values []*LiveRange
	items  []int32
}

// NewHeap returns an empty heap reading keys from values (shared with the
// allocator's range table; indices pushed onto the heap index into it).
func NewHeap(values []*LiveRange) *Heap {
	return &Heap{values: values}
}

func (h *Heap) Len() int { return len(h.items) }

func (h *Heap) key(i int) int32 { return FirstRef(h.values[h.items[i]]) }

func (h *Heap) swap(a, b int) { h.items[a], h.items[b] = h.items[b], h.items[a] }

func (h *Heap) up(item int) {
	for item > 0 {
		parent := (item - 1) / 2
		if h.key(item) < h.key(parent) {
			h.swap(item, parent)
			item = parent
		} else {
			break
		}
	}
}

func (h *Heap) down(top, item int) {
	for item < top {
		left := item*2 + 1
		right := left + 1
		swap := -1
		switch {
		case right < top:
			if h.key(left) < h.key(right) {
				swap = left
			} else {
				swap = right
			}
		case left < top:
			swap = left
		default:
			return
		}
		if h.key(swap) < h.key(item) {
			h.swap(swap, item)
			item = swap
		} else {
			return
		}
	}
}

// Push inserts a live-range index into the heap.
func (h *Heap) Push(v int32) {
	h.items = append(h.items, v)
	h.up(len(h.items) - 1)
}

// Pop removes and returns the live-range index with the smallest FirstRef.
func (h *Heap) Pop() int32 {
	v := h.items[0]
	top := len(h.items) - 1
	h.items[0] = h.items[top]
	h.items = h.items[:top]
	h.down(top, 0)
	return v
}

// Heapify arranges an already-populated items slice (e.g. loaded in tile
// order) into heap order in O(n).
func (h *Heap) Heapify(items []int32) {
	h.items = items
	n := len(items)
	for i := n/2 - 1; i >= 0; i-- {
		h.down(n, i)
	}
}

// Ring is a fixed-capacity FIFO of free physical register numbers. Its
// handout order must stay FIFO, not LIFO: reusing the most-recently-freed
// register first would bias liveness toward just-retired values and break
// the "fair use" distribution the allocator relies on to avoid needlessly
// clustering register pressure.
type Ring struct {
	slots      []int8
	give, take int
}

// NewRing creates a ring pre-loaded with the given physical register
// numbers, in handout order.
func NewRing(regs []int8) *Ring {
	slots := make([]int8, len(regs))
	copy(slots, regs)
	return &Ring{slots: slots}
}

func (r *Ring) next(x int) int {
	if x+1 == len(r.slots) {
		return 0
	}
	return x + 1
}

// Get returns a free register number, or -1 if the ring is empty.
func (r *Ring) Get() int8 {
	if len(r.slots) == 0 {
		return -1
	}
	reg := r.slots[r.take]
	if reg < 0 {
		return -1
	}
	r.slots[r.take] = -1
	r.take = r.next(r.take)
	return reg
}

// Free returns a register to the ring. Returns false if the ring has no
// room left (every slot already holds a free register): the caller is
// trying to release more registers than were ever handed out.
func (r *Ring) Free(reg int8) bool {
	if len(r.slots) == 0 {
		return false
	}
	if r.give == r.take && r.slots[r.give] >= 0 {
		return false
	}
	r.slots[r.give] = reg
	r.give = r.next(r.give)
	return true
}

// ActiveSet is a bounded array of live-range indices, kept sorted ascending
// by LastRef via insertion. Capacity is bounded by the physical register
// file size, so the O(n^2) insertion cost is effectively O(1).
type ActiveSet struct {
	values []*LiveRange
	items  []int32
}

// NewActiveSet returns an empty active set reading keys from values.
func NewActiveSet(values []*LiveRange) *ActiveSet {
	return &ActiveSet{values: values}
}

func (s *ActiveSet) Len() int { return len(s.items) }

// Items returns the active set contents, oldest-to-expire first.
func (s *ActiveSet) Items() []int32 { return s.items }

// Add inserts v keeping the set sorted ascending by LastRef.
func (s *ActiveSet) Add(v int32) {
	target := LastRef(s.values[v])
	for i, b := range s.items {
		if LastRef(s.values[b]) > target {
			s.items = append(s.items, 0)
			copy(s.items[i+1:], s.items[i:])
			s.items[i] = v
			return
		}
	}
	s.items = append(s.items, v)
}

// Expire removes every entry whose LastRef is <= position, returning the
// removed indices in ascending LastRef order so the caller can free their
// registers.
func (s *ActiveSet) Expire(position int32) []int32 {
	i := 0
	for i < len(s.items) && LastRef(s.values[s.items[i]]) <= position {
		i++
	}
	if i == 0 {
		return nil
	}
	expired := append([]int32(nil), s.items[:i]...)
	s.items = s.items[i:]
	return expired
}

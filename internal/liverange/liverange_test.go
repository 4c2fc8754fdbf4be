package liverange

import "testing"

func TestAddRefOrdering(t *testing.T) {
	r := New()
	r.AddRef(3, 0)
	r.AddRef(7, 1)
	r.AddRef(9, 1)

	refs := r.Refs()
	for i := 1; i < len(refs); i++ {
		if refs[i].TileIdx < refs[i-1].TileIdx {
			t.Fatalf("refs not non-decreasing: %d before %d", refs[i-1].TileIdx, refs[i].TileIdx)
		}
	}
}

func TestFirstLastRefWithSynthetic(t *testing.T) {
	r := New()
	r.AddRef(5, 0)
	r.AddRef(8, 1)
	r.SetSynthetic(0, 2) // earlier than the queue head
	r.SetSynthetic(1, 20) // later than the queue tail

	if got := FirstRef(r); got != 2 {
		t.Fatalf("FirstRef = %d, want 2", got)
	}
	if got := LastRef(r); got != 20 {
		t.Fatalf("LastRef = %d, want 20", got)
	}
}

func TestIsEmpty(t *testing.T) {
	r := New()
	if !r.IsEmpty() {
		t.Fatal("fresh range should be empty")
	}
	r.AddRef(1, 0)
	if r.IsEmpty() {
		t.Fatal("range with a reference should not be empty")
	}
}

func TestMergeQueuesSortedMerge(t *testing.T) {
	winner, loser := New(), New()
	winner.AddRef(1, 0)
	winner.AddRef(4, 1)
	loser.AddRef(2, 0)
	loser.AddRef(6, 1)

	MergeQueues(winner, loser)

	refs := winner.Refs()
	want := []int32{1, 2, 4, 6}
	if len(refs) != len(want) {
		t.Fatalf("merged queue has %d refs, want %d", len(refs), len(want))
	}
	for i, w := range want {
		if refs[i].TileIdx != w {
			t.Fatalf("refs[%d].TileIdx = %d, want %d", i, refs[i].TileIdx, w)
		}
	}
	if !loser.IsEmpty() {
		t.Fatal("loser should be emptied after merge")
	}
}

func TestMergeQueuesCarriesSyntheticEndpoints(t *testing.T) {
	winner, loser := New(), New()
	winner.AddRef(5, 0)
	loser.AddRef(8, 0)
	loser.SetSynthetic(0, 1)
	loser.SetSynthetic(1, 20)

	MergeQueues(winner, loser)

	if FirstRef(winner) != 1 {
		t.Fatalf("FirstRef = %d, want 1 (loser's early synthetic endpoint)", FirstRef(winner))
	}
	if LastRef(winner) != 20 {
		t.Fatalf("LastRef = %d, want 20 (loser's late synthetic endpoint)", LastRef(winner))
	}
}

func TestRingFIFOFairness(t *testing.T) {
	ring := NewRing([]int8{0, 1, 2})

	a := ring.Get()
	b := ring.Get()
	if a != 0 || b != 1 {
		t.Fatalf("got (%d, %d), want (0, 1)", a, b)
	}
	if !ring.Free(a) {
		t.Fatal("Free(a) should succeed")
	}
	// FIFO: a (freed first) should not be reissued before c (still in the
	// ring, never handed out).
	c := ring.Get()
	if c != 2 {
		t.Fatalf("Get() after freeing a = %d, want 2 (FIFO order)", c)
	}
	d := ring.Get()
	if d != a {
		t.Fatalf("Get() = %d, want %d (the register freed earlier)", d, a)
	}
}

func TestRingOverflowDetected(t *testing.T) {
	// A freshly loaded ring is already full: every slot holds a free
	// register, so one more Free is over-capacity.
	ring := NewRing([]int8{0, 1})
	if ring.Free(5) {
		t.Fatal("freeing into an already-full ring should fail")
	}

	empty := NewRing([]int8{})
	if empty.Free(5) {
		t.Fatal("freeing into a zero-capacity ring should fail")
	}
}

func TestHeapPopsAscendingFirstRef(t *testing.T) {
	a, b, c := New(), New(), New()
	a.AddRef(9, 0)
	b.AddRef(1, 0)
	c.AddRef(5, 0)
	values := []*LiveRange{a, b, c}

	h := NewHeap(values)
	h.Push(0)
	h.Push(1)
	h.Push(2)

	var order []int32
	for h.Len() > 0 {
		order = append(order, h.Pop())
	}
	want := []int32{1, 2, 0} // b (first_ref=1), c (5), a (9)
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("pop order[%d] = %d, want %d (full order %v)", i, order[i], w, order)
		}
	}
}

func TestHeapifyProducesValidHeapOrder(t *testing.T) {
	a, b, c, d := New(), New(), New(), New()
	a.AddRef(3, 0)
	b.AddRef(1, 0)
	c.AddRef(4, 0)
	d.AddRef(2, 0)
	values := []*LiveRange{a, b, c, d}

	h := NewHeap(values)
	h.Heapify([]int32{0, 1, 2, 3})

	prev := int32(-1)
	for h.Len() > 0 {
		v := h.Pop()
		got := FirstRef(values[v])
		if got < prev {
			t.Fatalf("heap property violated: popped first_ref %d after %d", got, prev)
		}
		prev = got
	}
}

func TestActiveSetSortedByLastRefAndExpires(t *testing.T) {
	a, b, c := New(), New(), New()
	a.AddRef(1, 0)
	a.AddRef(10, 1) // last_ref 10
	b.AddRef(2, 0)
	b.AddRef(4, 1) // last_ref 4
	c.AddRef(3, 0)
	c.AddRef(7, 1) // last_ref 7
	values := []*LiveRange{a, b, c}

	s := NewActiveSet(values)
	s.Add(0)
	s.Add(1)
	s.Add(2)

	items := s.Items()
	want := []int32{1, 2, 0} // ascending last_ref: b(4), c(7), a(10)
	for i, w := range want {
		if items[i] != w {
			t.Fatalf("active set order[%d] = %d, want %d", i, items[i], w)
		}
	}

	expired := s.Expire(4)
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("Expire(4) = %v, want [1]", expired)
	}
	if s.Len() != 2 {
		t.Fatalf("active set len = %d, want 2 after expiring one", s.Len())
	}
}

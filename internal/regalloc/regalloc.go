// Package regalloc builds live ranges from a tile list and assigns
// physical registers to them with a linear-scan pass: a worklist heap
// keyed by first reference, a sorted active set bounded by the register
// file size, and a FIFO ring of free registers. It never spills; running
// out of registers is a fatal, capability-tagged abort (see
// internal/errors) that the caller may use to fall back to interpretation.
package regalloc

import (
	"log"
	"sort"

	orerrors "github.com/orizon-lang/orizon-jit/internal/errors"
	"github.com/orizon-lang/orizon-jit/internal/liverange"
	"github.com/orizon-lang/orizon-jit/internal/tile"
	"github.com/orizon-lang/orizon-jit/internal/valueset"
)

// Allocator owns the per-compilation state: the union-find domain, the
// live-range table, the worklist heap, the active set, and the register
// rings for each class it manages (GPR, XMM).
type Allocator struct {
	Logger *log.Logger

	sets   *valueset.Set
	ranges []*liverange.LiveRange

	gprRing *liverange.Ring
	xmmRing *liverange.Ring
	nvrMask uint64 // bitmap of register numbers reserved as non-volatile

	worklist *liverange.Heap
	active   *liverange.ActiveSet
}

// New creates an allocator for a single compilation over a tile list
// spanning nodeCount expression-tree node ids. gprRegs/xmmRegs are the
// available-for-allocation physical register numbers in handout order;
// nvrMask flags register numbers that are pinned VM-state registers rather
// than available for general allocation.
func New(nodeCount int, gprRegs, xmmRegs []int8, nvrMask uint64, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.Default()
	}
	a := &Allocator{
		Logger:  logger,
		sets:    valueset.New(nodeCount),
		gprRing: liverange.NewRing(gprRegs),
		xmmRing: liverange.NewRing(xmmRegs),
		nvrMask: nvrMask,
	}
	return a
}

func (a *Allocator) newRange() int {
	idx := len(a.ranges)
	a.ranges = append(a.ranges, liverange.New())
	return idx
}

// BuildLiveRanges makes a single pass over list, turning COPY/DO/IF tiles
// into union-find aliases and every other value-yielding tile into a fresh
// live range, recording each use as a reference against the range its
// value ultimately resolves to.
func (a *Allocator) BuildLiveRanges(list *tile.List) error {
	for i, t := range list.Items {
		node := t.Node

		switch t.Op {
		case tile.OpCopy:
			a.sets.Alias(node, t.Refs[0])
			continue
		case tile.OpDo:
			if t.Op.YieldsValue() && t.NumRef > 0 {
				a.sets.Alias(node, t.Refs[t.NumRef-1])
			}
			continue
		case tile.OpIf:
			if t.NumRef < 2 {
				return orerrors.NewStandardError(orerrors.CategoryInput, "IF_MISSING_ARMS",
					"if tile requires two condition refs", map[string]interface{}{"tile": i})
			}
			left := a.ranges[a.sets.Find(t.Refs[0])]
			right := a.ranges[a.sets.Find(t.Refs[1])]
			if left.HasRequirement() && right.HasRequirement() {
				lc, ln := left.Requirement()
				rc, rn := right.Requirement()
				if lc != rc || ln != rn {
					return orerrors.RegisterSpecConflict(ln, rn)
				}
			}
			winner := valueset.Union(a.sets, a.ranges, t.Refs[0], t.Refs[1])
			a.sets.Alias(node, winner)
			continue
		}

		if t.Op.YieldsValue() {
			idx := a.newRange()
			a.sets.Bind(node, idx)
			a.ranges[idx].AddRef(i, 0)
			if spec := t.RegisterSpecs[0]; spec.Required {
				a.ranges[idx].RequireRegister(liverange.Class(spec.Class), spec.Register)
			}
		}

		for j := 0; j < t.NumRef; j++ {
			if spec := t.RegisterSpecs[j+1]; spec.Required {
				return orerrors.NotYetImplemented("fixed register requirement on a use operand",
					map[string]interface{}{"tile": i, "slot": j + 1})
			}
			idx := a.sets.Find(t.Refs[j])
			a.ranges[idx].AddRef(i, j+1)
		}
	}
	return nil
}

// Ranges exposes the built live-range table, primarily for tests.
func (a *Allocator) Ranges() []*liverange.LiveRange { return a.ranges }

// Run executes the linear-scan assignment pass over list, recording an
// assigned register on every non-empty live range; it does not touch the
// tiles' Values arrays (WriteBack does). list must already have had
// BuildLiveRanges called on it.
func (a *Allocator) Run(list *tile.List) error {
	items := make([]int32, 0, len(a.ranges))
	for i, r := range a.ranges {
		if !r.IsEmpty() {
			items = append(items, int32(i))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return liverange.FirstRef(a.ranges[items[i]]) < liverange.FirstRef(a.ranges[items[j]])
	})

	a.worklist = liverange.NewHeap(a.ranges)
	a.worklist.Heapify(items)
	a.active = liverange.NewActiveSet(a.ranges)

	for a.worklist.Len() > 0 {
		v := a.worklist.Pop()
		r := a.ranges[v]
		if r.IsEmpty() {
			continue
		}
		pos := liverange.FirstRef(r)

		if err := a.expire(pos); err != nil {
			return err
		}

		if r.HasRequirement() {
			class, num := r.Requirement()
			if class != liverange.ClassNVR || a.nvrMask&(1<<uint(num)) == 0 {
				return orerrors.NotYetImplemented("fixed general-purpose register requirement",
					map[string]interface{}{"register": num})
			}
			a.assign(v, class, num)
			continue
		}

		ring := a.ringFor(liverange.ClassGPR)
		reg := ring.Get()
		if reg < 0 {
			return orerrors.NewStandardError(orerrors.CategoryCapability, "SPILL_NOT_SUPPORTED",
				"ran out of physical registers and spilling is not implemented",
				map[string]interface{}{"tile": pos})
		}
		a.assign(v, liverange.ClassGPR, reg)
		a.active.Add(v)
	}

	return a.expire(int32(len(list.Items) + 1))
}

func (a *Allocator) ringFor(class liverange.Class) *liverange.Ring {
	if class == liverange.ClassXMM {
		return a.xmmRing
	}
	return a.gprRing
}

func (a *Allocator) expire(position int32) error {
	for _, v := range a.active.Expire(position) {
		r := a.ranges[v]
		if r.AssignedClass == liverange.ClassNVR {
			continue
		}
		if !a.ringFor(r.AssignedClass).Free(r.AssignedNum) {
			return orerrors.RingOverflow(classString(r.AssignedClass))
		}
	}
	return nil
}

func (a *Allocator) assign(v int32, class liverange.Class, num int8) {
	r := a.ranges[v]
	r.AssignedClass = class
	r.AssignedNum = num
}

// WriteBack copies every live range's assigned register into the Values
// array of each tile it is referenced from. Separated from Run so callers
// can inspect assignments (e.g. in tests) before the tile list is mutated.
func (a *Allocator) WriteBack(list *tile.List) {
	for _, r := range a.ranges {
		if r.IsEmpty() {
			continue
		}
		for _, ref := range r.Refs() {
			list.Items[ref.TileIdx].Values[ref.ValueIdx] = r.AssignedNum
		}
	}
}

func classString(c liverange.Class) string {
	switch c {
	case liverange.ClassXMM:
		return "xmm"
	case liverange.ClassNVR:
		return "nvr"
	default:
		return "gpr"
	}
}

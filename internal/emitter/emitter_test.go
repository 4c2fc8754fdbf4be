package emitter

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/orizon-lang/orizon-jit/internal/abi"
	"github.com/orizon-lang/orizon-jit/internal/exec"
	"github.com/orizon-lang/orizon-jit/internal/fields"
	"github.com/orizon-lang/orizon-jit/internal/regalloc"
	"github.com/orizon-lang/orizon-jit/internal/tile"
)

// countOccurrences counts non-overlapping occurrences of needle in
// haystack, the way the write-barrier test below verifies the call
// instruction's encoded bytes appear exactly once (or not at all).
func countOccurrences(haystack, needle []byte) int {
	n := 0
	for {
		i := bytes.Index(haystack, needle)
		if i < 0 {
			return n
		}
		n++
		haystack = haystack[i+len(needle):]
	}
}

// TestEndToEndConstAdd exercises the allocator and emitter together: two
// constants, an add, and a store of the result into the frame's register
// file, mapped executable and called directly.
func TestEndToEndConstAdd(t *testing.T) {
	a := abi.For(abi.SystemV)

	list := &tile.List{NodesNum: 3, Items: []*tile.Tile{
		{Op: tile.OpConstI64_16, Node: 0, Operand: int64(10)},
		{Op: tile.OpConstI64_16, Node: 1, Operand: int64(32)},
		{Op: tile.OpAddI, Node: 2, NumRef: 2, Refs: [tile.MaxRefs]int{0, 1}},
	}}

	alloc := regalloc.New(list.NodesNum, a.GPRPool(), a.XMMPool(), a.NVRMask(), nil)
	if err := alloc.BuildLiveRanges(list); err != nil {
		t.Fatalf("BuildLiveRanges: %v", err)
	}
	if err := alloc.Run(list); err != nil {
		t.Fatalf("Run: %v", err)
	}
	alloc.WriteBack(list)

	em := New(a, fields.Default, 0, nil)
	em.Prologue()
	if err := em.Emit(list); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	em.StoreResult(list.Items[2].Values[0], 0)
	em.Epilogue()

	if unresolved := em.Unresolved(); len(unresolved) > 0 {
		t.Fatalf("unresolved labels: %v", unresolved)
	}

	buf, err := exec.New(em.Bytes())
	if err != nil {
		t.Fatalf("exec.New: %v", err)
	}
	defer buf.Close()

	work := make([]byte, 64)
	args := make([]byte, 8)
	env := make([]byte, 8)
	frame := make([]byte, 64)
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameWork:], uint64(uintptr(unsafe.Pointer(&work[0]))))
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameParams+fields.Default.ParamsArgs:], uint64(uintptr(unsafe.Pointer(&args[0]))))
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameEnv:], uint64(uintptr(unsafe.Pointer(&env[0]))))

	buf.Call(0, uint64(uintptr(unsafe.Pointer(&frame[0]))))

	got := int64(binary.LittleEndian.Uint64(work[0:8]))
	if got != 42 {
		t.Fatalf("const 10 + const 32 = %d, want 42", got)
	}
}

// TestPrologueEpilogueIdempotent confirms the bare entry/exit sequence
// with no tiles in between is a well-formed leaf function: it must
// execute without crashing and must not touch the frame's register
// file, since nothing ever wrote to it.
func TestPrologueEpilogueIdempotent(t *testing.T) {
	a := abi.For(abi.SystemV)
	em := New(a, fields.Default, 0, nil)
	em.Prologue()
	em.Epilogue()

	buf, err := exec.New(em.Bytes())
	if err != nil {
		t.Fatalf("exec.New: %v", err)
	}
	defer buf.Close()

	work := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	args := make([]byte, 8)
	env := make([]byte, 8)
	frame := make([]byte, 64)
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameWork:], uint64(uintptr(unsafe.Pointer(&work[0]))))
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameParams+fields.Default.ParamsArgs:], uint64(uintptr(unsafe.Pointer(&args[0]))))
	binary.LittleEndian.PutUint64(frame[fields.Default.FrameEnv:], uint64(uintptr(unsafe.Pointer(&env[0]))))

	buf.Call(0, uint64(uintptr(unsafe.Pointer(&frame[0]))))

	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	if !bytes.Equal(work, want) {
		t.Fatalf("work buffer changed by an empty body: got %v, want %v", work, want)
	}
}

// TestWriteBarrierEmittedOnlyWhenConfigured checks the static emission
// decision emitP6oBind makes: with a non-zero writeBarrierFn, the bind
// tile's lowering contains exactly one call through the scratch register;
// with a zero writeBarrierFn, it contains none at all (the whole guard
// sequence is skipped, not just the call).
func TestWriteBarrierEmittedOnlyWhenConfigured(t *testing.T) {
	a := abi.For(abi.SystemV)
	bindTile := &tile.Tile{
		Op:      tile.OpP6oBind,
		Operand: int32(16),
		Values:  [tile.MaxRefs]int8{0, int8(abi.RCX), int8(abi.RDX)},
	}
	list := &tile.List{NodesNum: 1, Items: []*tile.Tile{bindTile}}

	callBytes := []byte{rex(false, false, false, true), 0xFF, modrm(3, 2, lo3(int8(a.Function)))}

	withBarrier := New(a, fields.Default, 0xDEADBEEF, nil)
	if err := withBarrier.Emit(list); err != nil {
		t.Fatalf("Emit with barrier: %v", err)
	}
	if got := countOccurrences(withBarrier.Bytes(), callBytes); got != 1 {
		t.Fatalf("barrier call appears %d times with writeBarrierFn set, want 1", got)
	}

	withoutBarrier := New(a, fields.Default, 0, nil)
	if err := withoutBarrier.Emit(list); err != nil {
		t.Fatalf("Emit without barrier: %v", err)
	}
	if got := countOccurrences(withoutBarrier.Bytes(), callBytes); got != 0 {
		t.Fatalf("barrier call appears %d times with writeBarrierFn unset, want 0", got)
	}
}

// Command orizon-jit-smoke runs the allocator and emitter end to end over
// a tiny hand-built tile list (const 10 + const 32, stored into a frame's
// register file) and executes the resulting native code by mmap'ing it
// and calling into it directly -- the same scenario the package tests
// assert on, runnable as a standalone check against the host's real
// mmap/mprotect behavior.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"unsafe"

	"github.com/orizon-lang/orizon-jit/internal/abi"
	"github.com/orizon-lang/orizon-jit/internal/emitter"
	"github.com/orizon-lang/orizon-jit/internal/exec"
	"github.com/orizon-lang/orizon-jit/internal/fields"
	"github.com/orizon-lang/orizon-jit/internal/regalloc"
	"github.com/orizon-lang/orizon-jit/internal/tile"
)

func main() {
	fmt.Println("=== Orizon JIT core smoke test ===")

	a := abi.For(abi.SystemV)

	list := &tile.List{NodesNum: 3, Items: []*tile.Tile{
		{Op: tile.OpConstI64_16, Node: 0, Operand: int64(10)},
		{Op: tile.OpConstI64_16, Node: 1, Operand: int64(32)},
		{Op: tile.OpAddI, Node: 2, NumRef: 2, Refs: [tile.MaxRefs]int{0, 1}},
	}}

	logger := log.New(os.Stderr, "jit: ", 0)

	alloc := regalloc.New(list.NodesNum, a.GPRPool(), a.XMMPool(), a.NVRMask(), logger)
	if err := alloc.BuildLiveRanges(list); err != nil {
		log.Fatalf("build live ranges: %v", err)
	}
	if err := alloc.Run(list); err != nil {
		log.Fatalf("linear scan: %v", err)
	}
	alloc.WriteBack(list)

	em := emitter.New(a, fields.Default, 0, logger)
	em.Prologue()
	if err := em.Emit(list); err != nil {
		log.Fatalf("emit: %v", err)
	}
	sum := list.Items[2].Values[0]
	em.StoreResult(sum, 0)
	em.Epilogue()

	if unresolved := em.Unresolved(); len(unresolved) > 0 {
		log.Fatalf("unresolved labels: %v", unresolved)
	}

	buf, err := exec.New(em.Bytes())
	if err != nil {
		log.Fatalf("map code: %v", err)
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
		fmt.Printf("FAIL: expected 42, got %d\n", got)
		os.Exit(1)
	}
	fmt.Println("PASS: const 10 + const 32 == 42")
}

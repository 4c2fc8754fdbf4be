// Package exec turns an emitted byte slice into a callable native function,
// using an anonymous mmap'd page switched from writable to executable via
// mprotect, the standard way POSIX JIT compilers hand code to the CPU.
package exec

import (
	"unsafe"

	"golang.org/x/sys/unix"

	orerrors "github.com/orizon-lang/orizon-jit/internal/errors"
)

// Buffer owns one mmap'd, RW-then-RX page range holding emitted machine
// code. It is valid until Close is called.
type Buffer struct {
	mem []byte
}

// New copies code into a fresh anonymous mapping sized up to the next page
// boundary, then drops write permission so the page is read-and-execute
// (no W^X violation survives past New returning).
func New(code []byte) (*Buffer, error) {
	if len(code) == 0 {
		return nil, orerrors.NewStandardError(orerrors.CategoryInput, "EMPTY_CODE_BUFFER",
			"cannot map an empty code buffer", nil)
	}

	size := pageAlign(len(code))

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, orerrors.NewStandardError(orerrors.CategorySystem, "MMAP_FAILED",
			err.Error(), map[string]interface{}{"size": size})
	}

	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, orerrors.NewStandardError(orerrors.CategorySystem, "MPROTECT_FAILED",
			err.Error(), map[string]interface{}{"size": size})
	}

	return &Buffer{mem: mem}, nil
}

// Close unmaps the page range. The Buffer must not be called into after
// Close returns.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	if err != nil {
		return orerrors.NewStandardError(orerrors.CategorySystem, "MUNMAP_FAILED", err.Error(), nil)
	}
	return nil
}

// Addr returns the entry address of the mapped code.
func (b *Buffer) Addr() uintptr {
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Call invokes the mapped code with the two arguments Emitter.Prologue
// reads (the TC-source value and the frame pointer) and returns its
// result, via the call_amd64.s trampoline. This is the shape S5 and S7
// need to actually execute emitted prologue/epilogue and const+add
// sequences from a Go test.
func (b *Buffer) Call(a0, a1 uint64) uint64 {
	return callTrampoline(b.Addr(), a0, a1)
}

func pageAlign(n int) int {
	const pageSize = 4096
	if rem := n % pageSize; rem != 0 {
		n += pageSize - rem
	}
	return n
}

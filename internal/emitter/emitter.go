// Package emitter turns an allocated tile list into native x86-64 machine
// code: a fixed prologue/epilogue around the four VM-pinned registers
// (TC, WORK, ARGS, ENV), per-opcode lowering bodies, GC write-barrier
// insertion around object-field stores, native C call marshalling, and
// two label spaces (global reserved labels and per-compilation dynamic
// ones) with forward-reference relocation.
package emitter

import (
	"log"
	"math"

	"github.com/orizon-lang/orizon-jit/internal/abi"
	orerrors "github.com/orizon-lang/orizon-jit/internal/errors"
	"github.com/orizon-lang/orizon-jit/internal/fields"
	"github.com/orizon-lang/orizon-jit/internal/tile"
)

// reservedLabels are the globally known label names every compilation may
// branch to regardless of whether the current tile list defines them
// (mirroring JIT_LABEL_exit in emit_posix_x64.c).
var reservedLabels = map[string]bool{"exit": true}

// Emitter accumulates native code bytes for one compilation.
type Emitter struct {
	buf    buf
	abi    abi.ABI
	fields fields.Layout
	logger *log.Logger

	labels    map[string]int // label name -> byte offset, once defined
	forward   []forwardRef   // relocation sites awaiting a label definition
	writeBarrierFn uint64    // absolute address of the write-barrier-hit C function, 0 disables barrier emission (tests may stub it out)
}

type forwardRef struct {
	label string
	site  int
}

// New creates an emitter targeting the given ABI and object layout.
func New(a abi.ABI, f fields.Layout, writeBarrierFn uint64, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.Default()
	}
	return &Emitter{
		abi:            a,
		fields:         f,
		logger:         logger,
		labels:         make(map[string]int),
		writeBarrierFn: writeBarrierFn,
	}
}

// Bytes returns the emitted machine code so far.
func (e *Emitter) Bytes() []byte { return e.buf.b }

// Prologue emits the fixed entry sequence: push rbp; mov rbp, rsp; save
// the four VM-pinned registers; load TC from the first native argument
// register, then load WORK, ARGS, and ENV from known field offsets of the
// frame passed as the second argument (ARGS sits two levels down, through
// the frame's inline argument-processing context).
func (e *Emitter) Prologue() {
	e.buf.PushReg(int8(abi.RBP))
	e.buf.MovRegReg(int8(abi.RBP), int8(abi.RSP))
	e.buf.PushReg(int8(e.abi.TC))
	e.buf.PushReg(int8(e.abi.Work))
	e.buf.PushReg(int8(e.abi.Args))
	e.buf.PushReg(int8(e.abi.Env))

	in := e.abi.IntArgs
	e.buf.MovRegReg(int8(e.abi.TC), int8(in[0]))
	frameReg := int8(in[1])
	e.buf.LoadMem(int8(e.abi.Work), frameReg, e.fields.FrameWork)
	e.buf.LoadMem(int8(e.abi.Args), frameReg, e.fields.FrameParams+e.fields.ParamsArgs)
	e.buf.LoadMem(int8(e.abi.Env), frameReg, e.fields.FrameEnv)
}

// StoreResult writes reg into the frame's register file at slot idx
// (WORK[idx]), the destination a driver's return-value handling uses to
// hand a computed value back to the interpreter's register file.
func (e *Emitter) StoreResult(reg int8, idx int32) {
	e.buf.StoreMem(int8(e.abi.Work), idx*8, reg)
}

// Epilogue emits the matching exit sequence and defines the reserved
// "exit" label at its start, so mid-function aborts can jump straight to
// unwinding instead of duplicating it. Idempotent in the sense that
// calling it once per compilation always restores exactly what Prologue
// saved, in reverse order.
func (e *Emitter) Epilogue() {
	e.DefineLabel("exit")
	e.buf.PopReg(int8(e.abi.Env))
	e.buf.PopReg(int8(e.abi.Args))
	e.buf.PopReg(int8(e.abi.Work))
	e.buf.PopReg(int8(e.abi.TC))
	e.buf.MovRegReg(int8(abi.RSP), int8(abi.RBP))
	e.buf.PopReg(int8(abi.RBP))
	e.buf.Ret()
}

// DefineLabel marks the current byte offset as the target of label, and
// patches every forward reference to it recorded so far.
func (e *Emitter) DefineLabel(label string) {
	pos := e.buf.len()
	e.labels[label] = pos
	kept := e.forward[:0]
	for _, f := range e.forward {
		if f.label == label {
			e.buf.patchRel32(f.site, pos)
		} else {
			kept = append(kept, f)
		}
	}
	e.forward = kept
}

func (e *Emitter) branchTo(label string, site int) {
	if pos, ok := e.labels[label]; ok {
		e.buf.patchRel32(site, pos)
		return
	}
	e.forward = append(e.forward, forwardRef{label: label, site: site})
}

// Unresolved returns the names of any label still pending a definition
// after emission finished; a non-empty result (for a non-reserved label)
// means the tile list referenced a label it never defined.
func (e *Emitter) Unresolved() []string {
	var names []string
	for _, f := range e.forward {
		if !reservedLabels[f.label] {
			names = append(names, f.label)
		}
	}
	return names
}

// Emit lowers every tile in list in order, writing bytes into the
// emitter's buffer. Tiles must already have had their Values slots filled
// in by the register allocator.
func (e *Emitter) Emit(list *tile.List) error {
	for i, t := range list.Items {
		if err := e.emitTile(i, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) emitTile(idx int, t *tile.Tile) error {
	dst := t.Values[0]

	switch t.Op {
	case tile.OpConstI64_16:
		e.buf.MovRegImm32(dst, int32(t.Operand.(int64)))
	case tile.OpConstI64:
		e.buf.MovRegImm64(dst, uint64(t.Operand.(int64)))
	case tile.OpConstN64:
		bits := math.Float64bits(t.Operand.(float64))
		e.buf.MovRegImm64(int8(e.abi.Function), bits)
		e.buf.MovqXMMFromGPR(dst, int8(e.abi.Function))
	case tile.OpConstS:
		e.emitConstString(dst, t.Operand.(ConstStringOperand))
	case tile.OpSet:
		if dst != t.Values[1] {
			e.buf.MovRegReg(dst, t.Values[1])
		}
	case tile.OpGetArg:
		off := t.Operand.(int32)
		e.buf.LoadMem(dst, int8(e.abi.Args), off*8)
	case tile.OpP6oGet:
		e.emitP6oGet(dst, t)
	case tile.OpP6oBind:
		e.emitP6oBind(t)
	case tile.OpAddI:
		e.binI(dst, t, e.buf.AddRegReg)
	case tile.OpSubI:
		e.binI(dst, t, e.buf.SubRegReg)
	case tile.OpMulI:
		e.binI(dst, t, e.buf.ImulRegReg)
	case tile.OpDivI:
		e.divModI(dst, t, false)
	case tile.OpModI:
		e.divModI(dst, t, true)
	case tile.OpIncI:
		if dst != t.Values[1] {
			e.buf.MovRegReg(dst, t.Values[1])
		}
		e.buf.IncReg(dst)
	case tile.OpDecI:
		if dst != t.Values[1] {
			e.buf.MovRegReg(dst, t.Values[1])
		}
		e.buf.DecReg(dst)
	case tile.OpAddN:
		e.binN(dst, t, e.buf.AddsdRegReg)
	case tile.OpSubN:
		e.binN(dst, t, e.buf.SubsdRegReg)
	case tile.OpMulN:
		e.binN(dst, t, e.buf.MulsdRegReg)
	case tile.OpDivN:
		e.binN(dst, t, e.buf.DivsdRegReg)
	case tile.OpCoerceIN:
		e.buf.Cvtsi2sdRegReg(dst, t.Values[1])
	case tile.OpCoerceNI:
		e.buf.Cvttsd2siRegReg(dst, t.Values[1])
	case tile.OpCmpEqI, tile.OpCmpNeI, tile.OpCmpLtI, tile.OpCmpLeI, tile.OpCmpGtI, tile.OpCmpGeI:
		e.emitCmpI(dst, t)
	case tile.OpCallC:
		if err := e.emitCallC(t); err != nil {
			return err
		}
	case tile.OpGoto:
		site := e.buf.Jmp32()
		e.branchTo(t.Operand.(string), site)
	case tile.OpIfI:
		e.buf.TestRegReg(t.Values[1], t.Values[1])
		site := e.buf.Jcc32(ccNE)
		e.branchTo(t.Operand.(string), site)
	case tile.OpUnlessI:
		e.buf.TestRegReg(t.Values[1], t.Values[1])
		site := e.buf.Jcc32(ccE)
		e.branchTo(t.Operand.(string), site)
	case tile.OpLabel:
		e.DefineLabel(t.Operand.(string))
	case tile.OpCopy, tile.OpDo, tile.OpIf:
		// pure aliases: no code, the allocator already resolved these to
		// the same register as their target.
	default:
		return orerrors.UnsupportedOpcode(t.Op.String(), idx)
	}
	return nil
}

func (e *Emitter) binI(dst int8, t *tile.Tile, op func(dst, src int8)) {
	if dst != t.Values[1] {
		e.buf.MovRegReg(dst, t.Values[1])
	}
	op(dst, t.Values[2])
}

func (e *Emitter) binN(dst int8, t *tile.Tile, op func(dst, src int8)) {
	if dst != t.Values[1] {
		e.buf.MovsdRegReg(dst, t.Values[1])
	}
	op(dst, t.Values[2])
}

// divModI lowers integer division/modulo via cqo+idiv, sharing rax
// (quotient) and rdx (remainder) the way the x86-64 ISA requires; when the
// divisor already occupies rdx, it is copied to the function-scratch
// register first so idiv doesn't clobber its own operand.
func (e *Emitter) divModI(dst int8, t *tile.Tile, wantRemainder bool) {
	lhs, rhs := t.Values[1], t.Values[2]
	divisor := rhs
	if rhs == int8(abi.RDX) {
		e.buf.MovRegReg(int8(e.abi.Function), rhs)
		divisor = int8(e.abi.Function)
	}
	if lhs != int8(abi.RAX) {
		e.buf.MovRegReg(int8(abi.RAX), lhs)
	}
	e.buf.Cqo()
	e.buf.IdivReg(divisor)
	result := int8(abi.RAX)
	if wantRemainder {
		result = int8(abi.RDX)
	}
	if dst != result {
		e.buf.MovRegReg(dst, result)
	}
}

var ccTable = map[tile.Op]byte{
	tile.OpCmpEqI: ccE,
	tile.OpCmpNeI: ccNE,
	tile.OpCmpLtI: ccL,
	tile.OpCmpLeI: ccLE,
	tile.OpCmpGtI: ccG,
	tile.OpCmpGeI: ccGE,
}

func (e *Emitter) emitCmpI(dst int8, t *tile.Tile) {
	e.buf.CmpRegReg(t.Values[1], t.Values[2])
	e.buf.SetccReg(ccTable[t.Op], int8(abi.RAX))
	e.buf.MovzxRegReg8(int8(abi.RAX), int8(abi.RAX))
	if dst != int8(abi.RAX) {
		e.buf.MovRegReg(dst, int8(abi.RAX))
	}
}

// ConstStringOperand is the const_s tile's operand: the compile-unit
// string-table index, plus, when the compiler already knows the resolved
// string object is permanently promoted (second generation), its address.
// SecondGen lets the emitter take emit_posix_x64.c's fast path and move
// the known pointer as an immediate instead of walking the
// TC -> compunit -> strings chain at run time.
type ConstStringOperand struct {
	Index        int32
	SecondGen    bool
	ResolvedAddr uint64
}

// emitConstString loads a compile-unit string reference. When op.SecondGen
// is set the resolved object is already known to be permanent, so the
// pointer is moved in directly; otherwise it dereferences the two-level
// compunit string table (compunit body -> strings[idx]) at run time.
func (e *Emitter) emitConstString(dst int8, op ConstStringOperand) {
	if op.SecondGen {
		e.buf.MovRegImm64(dst, op.ResolvedAddr)
		return
	}
	e.buf.LoadMem(int8(e.abi.Function), int8(e.abi.TC), e.fields.TCInterpCU)
	e.buf.LoadMem(int8(e.abi.Function), int8(e.abi.Function), e.fields.CUBodyStrings)
	e.buf.LoadMem(dst, int8(e.abi.Function), op.Index*8)
}

// emitBodyBase computes the live body base for obj into dst: the body
// normally sits at a fixed offset from obj, but if obj's body has been
// relocated (a mixin's "replaced" field is non-zero) the real body lives
// there instead, and every field access must redirect through it.
func (e *Emitter) emitBodyBase(dst, obj int8) {
	e.buf.LeaMem(dst, obj, e.fields.ObjectBody)
	e.buf.CmpMemImm32(dst, e.fields.ObjectBodyReplaced, 0)
	skip := e.buf.Jcc32(ccE)
	e.buf.LoadMem(dst, dst, e.fields.ObjectBodyReplaced)
	e.buf.patchRel32(skip, e.buf.len())
}

// emitP6oGet loads an object body field, substituting the canonical
// VMNull for a nil pointer (the "null -> VMNull" rule sp_p6oget tiles
// require so downstream ops never see a bare C null as a VM value).
func (e *Emitter) emitP6oGet(dst int8, t *tile.Tile) {
	off := t.Operand.(int32)
	obj := t.Values[1]
	body := int8(e.abi.Function)
	e.emitBodyBase(body, obj)
	e.buf.LoadMem(dst, body, off)
	e.buf.TestRegReg(dst, dst)
	site := e.buf.Jcc32(ccNE)
	e.buf.LoadMem(dst, int8(e.abi.TC), e.fields.TCInstance)
	e.buf.LoadMem(dst, dst, e.fields.InstanceVMNull)
	e.buf.patchRel32(site, e.buf.len())
}

// emitP6oBind stores a value into an object body field and, when the
// target object is second-generation and the incoming value is a
// non-null, non-second-generation pointer, calls the write barrier
// exactly once before the store commits.
func (e *Emitter) emitP6oBind(t *tile.Tile) {
	off := t.Operand.(int32)
	obj := t.Values[1]
	val := t.Values[2]

	if e.writeBarrierFn != 0 {
		e.emitWriteBarrierCheck(obj, val)
	}

	body := int8(e.abi.Function)
	e.emitBodyBase(body, obj)
	e.buf.StoreMem(body, off, val)
}

// emitWriteBarrierCheck guards the MVM_jit_write_barrier_hit-equivalent
// call behind the exact condition MoarVM's bind tiles check: target is
// second-generation AND value is non-null AND value is not itself
// second-generation.
func (e *Emitter) emitWriteBarrierCheck(obj, val int8) {
	skip := e.emitFlagBitClearSkip(obj, fields.SecondGenFlag)
	e.buf.TestRegReg(val, val)
	skipNull := e.buf.Jcc32(ccE)
	skip2 := e.emitFlagBitSetSkip(val, fields.SecondGenFlag)

	e.saveCallerSavedTemps()
	if e.abi.ShadowSpace > 0 {
		e.buf.AddRspImm32(-int32(e.abi.ShadowSpace))
	}
	e.buf.MovRegReg(int8(e.abi.IntArgs[0]), int8(e.abi.TC))
	e.buf.MovRegReg(int8(e.abi.IntArgs[1]), obj)
	e.buf.MovRegImm64(int8(e.abi.Function), e.writeBarrierFn)
	e.buf.CallReg(int8(e.abi.Function))
	if e.abi.ShadowSpace > 0 {
		e.buf.AddRspImm32(int32(e.abi.ShadowSpace))
	}
	e.restoreCallerSavedTemps()

	pos := e.buf.len()
	e.buf.patchRel32(skip, pos)
	e.buf.patchRel32(skipNull, pos)
	e.buf.patchRel32(skip2, pos)
}

// emitFlagBitClearSkip jumps past the barrier call when the tested bit is
// clear in reg's flags field.
func (e *Emitter) emitFlagBitClearSkip(obj int8, bit int32) int {
	scratch := int8(e.abi.Function)
	e.buf.LoadMem(scratch, obj, e.fields.CollectableFlags)
	e.buf.MovRegImm32(int8(abi.RAX), bit)
	e.buf.TestRegReg(scratch, int8(abi.RAX))
	return e.buf.Jcc32(ccE)
}

// emitFlagBitSetSkip jumps past the barrier call when the tested bit is
// set in reg's flags field (used for the "value is not already
// second-gen" half of the guard).
func (e *Emitter) emitFlagBitSetSkip(val int8, bit int32) int {
	scratch := int8(e.abi.Function)
	e.buf.LoadMem(scratch, val, e.fields.CollectableFlags)
	e.buf.MovRegImm32(int8(abi.RAX), bit)
	e.buf.TestRegReg(scratch, int8(abi.RAX))
	return e.buf.Jcc32(ccNE)
}

// saveCallerSavedTemps/restoreCallerSavedTemps bracket the inline write
// barrier call so none of the allocator's live values held in
// caller-saved registers are clobbered by it.
func (e *Emitter) saveCallerSavedTemps() {
	for _, r := range e.abi.Temps {
		e.buf.PushReg(int8(r))
	}
}

func (e *Emitter) restoreCallerSavedTemps() {
	for i := len(e.abi.Temps) - 1; i >= 0; i-- {
		e.buf.PopReg(int8(e.abi.Temps[i]))
	}
}


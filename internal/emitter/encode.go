package emitter

import "encoding/binary"

// buf is a growable byte buffer with the small set of x86-64 encoding
// primitives the opcode lowerings in emitter.go build on. Every method
// mirrors one instruction form actually used by emit_posix_x64.c's
// prologue/epilogue and opcode bodies (register moves, immediate loads,
// integer and scalar-double arithmetic, comparisons, calls and branches),
// re-derived here as literal byte encoding rather than carried over from
// that file's DynASM-compiled action table.
type buf struct {
	b []byte
}

func (e *buf) emit(bs ...byte) { e.b = append(e.b, bs...) }

func (e *buf) len() int { return len(e.b) }

// rex builds a REX prefix. w selects 64-bit operand size, r/x/b extend the
// ModRM.reg, SIB.index and ModRM.rm (or opcode-reg) fields respectively.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// needsRex reports whether a register number requires the REX.B/R
// extension bit (registers r8-r15).
func needsRex(reg int8) bool { return reg >= 8 }

func lo3(reg int8) byte { return byte(reg) & 7 }

// PushReg emits `push reg`.
func (e *buf) PushReg(reg int8) {
	if needsRex(reg) {
		e.emit(rex(false, false, false, true))
	}
	e.emit(0x50 + lo3(reg))
}

// PopReg emits `pop reg`.
func (e *buf) PopReg(reg int8) {
	if needsRex(reg) {
		e.emit(rex(false, false, false, true))
	}
	e.emit(0x58 + lo3(reg))
}

// MovRegReg emits `mov dst, src` (64-bit GPR to GPR).
func (e *buf) MovRegReg(dst, src int8) {
	e.emit(rex(true, needsRex(src), false, needsRex(dst)))
	e.emit(0x89)
	e.emit(modrm(3, lo3(src), lo3(dst)))
}

// MovRegImm32 emits `mov dst, imm32` sign-extended to 64 bits (const_i64_16
// lowering territory).
func (e *buf) MovRegImm32(dst int8, imm int32) {
	e.emit(rex(true, false, false, needsRex(dst)))
	e.emit(0xC7)
	e.emit(modrm(3, 0, lo3(dst)))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(imm))
	e.emit(tmp[:]...)
}

// MovRegImm64 emits `movabs dst, imm64` (const_i64/const_n64 lowering).
func (e *buf) MovRegImm64(dst int8, imm uint64) {
	e.emit(rex(true, false, false, needsRex(dst)))
	e.emit(0xB8 + lo3(dst))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], imm)
	e.emit(tmp[:]...)
}

// memOperand encodes the ModRM+SIB+disp addressing used by every
// reg<->[base+disp] form below: a disp32 form, or the no-displacement form
// when disp is zero and base is not rbp/r13. When base needs SIB (rsp/r12)
// a plain SIB byte with no index is appended.
func (e *buf) memOperand(reg, base int8, disp int32) {
	mod := byte(2) // disp32 unless the no-displacement form applies
	if disp == 0 && lo3(base) != 5 {
		mod = 0
	}
	e.emit(modrm(mod, lo3(reg), lo3(base)))
	if lo3(base) == 4 {
		e.emit(0x24) // SIB: no index, base = rsp/r12
	}
	if mod == 2 || (mod == 0 && lo3(base) == 5) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(disp))
		e.emit(tmp[:]...)
	}
}

// LoadMem emits `mov dst, qword ptr [base+disp]`.
func (e *buf) LoadMem(dst, base int8, disp int32) {
	e.emit(rex(true, needsRex(dst), false, needsRex(base)))
	e.emit(0x8B)
	e.memOperand(dst, base, disp)
}

// StoreMem emits `mov qword ptr [base+disp], src`.
func (e *buf) StoreMem(base int8, disp int32, src int8) {
	e.emit(rex(true, needsRex(src), false, needsRex(base)))
	e.emit(0x89)
	e.memOperand(src, base, disp)
}

// LeaMem emits `lea dst, [base+disp]`.
func (e *buf) LeaMem(dst, base int8, disp int32) {
	e.emit(rex(true, needsRex(dst), false, needsRex(base)))
	e.emit(0x8D)
	e.memOperand(dst, base, disp)
}

// CmpMemImm32 emits `cmp qword ptr [base+disp], imm32` (0x81 /7), used by
// the "replaced body" redirection test.
func (e *buf) CmpMemImm32(base int8, disp int32, imm int32) {
	e.emit(rex(true, false, false, needsRex(base)))
	e.emit(0x81)
	e.memOperand(7, base, disp)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(imm))
	e.emit(tmp[:]...)
}

// arithOp is the shared shape of add/sub/cmp/test reg,reg (all use the
// same /r encoding with a different primary opcode byte).
func (e *buf) arithOp(primary byte, dst, src int8) {
	e.emit(rex(true, needsRex(src), false, needsRex(dst)))
	e.emit(primary)
	e.emit(modrm(3, lo3(src), lo3(dst)))
}

func (e *buf) AddRegReg(dst, src int8)  { e.arithOp(0x01, dst, src) }
func (e *buf) SubRegReg(dst, src int8)  { e.arithOp(0x29, dst, src) }
func (e *buf) CmpRegReg(dst, src int8)  { e.arithOp(0x39, dst, src) }
func (e *buf) TestRegReg(dst, src int8) { e.arithOp(0x85, dst, src) }

// ImulRegReg emits `imul dst, src` (two-operand form, 0F AF /r).
func (e *buf) ImulRegReg(dst, src int8) {
	e.emit(rex(true, needsRex(dst), false, needsRex(src)))
	e.emit(0x0F, 0xAF)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

// Cqo emits `cqo` (sign-extend rax into rdx:rax, ahead of idiv).
func (e *buf) Cqo() { e.emit(rex(true, false, false, false), 0x99) }

// IdivReg emits `idiv reg` (signed divide rdx:rax by reg; quotient in
// rax, remainder in rdx).
func (e *buf) IdivReg(reg int8) {
	e.emit(rex(true, false, false, needsRex(reg)))
	e.emit(0xF7)
	e.emit(modrm(3, 7, lo3(reg)))
}

// IncReg/DecReg emit `inc reg` / `dec reg` (0xFF /0, /1).
func (e *buf) IncReg(reg int8) {
	e.emit(rex(true, false, false, needsRex(reg)))
	e.emit(0xFF)
	e.emit(modrm(3, 0, lo3(reg)))
}

func (e *buf) DecReg(reg int8) {
	e.emit(rex(true, false, false, needsRex(reg)))
	e.emit(0xFF)
	e.emit(modrm(3, 1, lo3(reg)))
}

// SetccReg emits `setCC dst8`, setting only the low byte of dst; emitCmpI
// follows it with MovzxRegReg8 and a move, matching emit_posix_x64.c's
// "setcc al; movzx rax, al; mov dst, rax" comparison shape.
func (e *buf) SetccReg(cc byte, dst int8) {
	if needsRex(dst) {
		e.emit(rex(false, false, false, needsRex(dst)))
	}
	e.emit(0x0F, 0x90+cc)
	e.emit(modrm(3, 0, lo3(dst)&7))
}

// MovzxRegReg8 emits `movzx dst, srcL` (zero-extend an 8-bit register).
func (e *buf) MovzxRegReg8(dst, src int8) {
	e.emit(rex(true, needsRex(dst), false, needsRex(src)))
	e.emit(0x0F, 0xB6)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

// CallReg emits `call reg`.
func (e *buf) CallReg(reg int8) {
	if needsRex(reg) {
		e.emit(rex(false, false, false, true))
	}
	e.emit(0xFF)
	e.emit(modrm(3, 2, lo3(reg)))
}

// Ret emits `ret`.
func (e *buf) Ret() { e.emit(0xC3) }

// Jmp32/Jcc32 emit a near jump/conditional jump with a placeholder rel32;
// the caller back-patches the 4 bytes once the target is known. Returns
// the buffer offset of the relocation site.
func (e *buf) Jmp32() int {
	e.emit(0xE9, 0, 0, 0, 0)
	return e.len() - 4
}

func (e *buf) Jcc32(cc byte) int {
	e.emit(0x0F, 0x80+cc, 0, 0, 0, 0)
	return e.len() - 4
}

func (e *buf) patchRel32(site int, target int) {
	rel := int32(target - (site + 4))
	binary.LittleEndian.PutUint32(e.b[site:site+4], uint32(rel))
}

// scalar-double (SSE2) forms: all use a mandatory 0xF2 prefix, optional
// REX, 0x0F escape, opcode byte, ModRM /r.
func (e *buf) sse(op byte, dst, src int8) {
	e.emit(0xF2)
	if needsRex(dst) || needsRex(src) {
		e.emit(rex(false, needsRex(dst), false, needsRex(src)))
	}
	e.emit(0x0F, op)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

func (e *buf) MovsdRegReg(dst, src int8) { e.sse(0x10, dst, src) }
func (e *buf) AddsdRegReg(dst, src int8) { e.sse(0x58, dst, src) }
func (e *buf) SubsdRegReg(dst, src int8) { e.sse(0x5C, dst, src) }
func (e *buf) MulsdRegReg(dst, src int8) { e.sse(0x59, dst, src) }
func (e *buf) DivsdRegReg(dst, src int8) { e.sse(0x5E, dst, src) }

// Cvtsi2sdRegReg emits `cvtsi2sd xmm_dst, gpr_src` (int64 -> float64).
func (e *buf) Cvtsi2sdRegReg(dst, src int8) {
	e.emit(0xF2)
	e.emit(rex(true, needsRex(dst), false, needsRex(src)))
	e.emit(0x0F, 0x2A)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

// Cvttsd2siRegReg emits `cvttsd2si gpr_dst, xmm_src` (float64 -> int64,
// truncating).
func (e *buf) Cvttsd2siRegReg(dst, src int8) {
	e.emit(0xF2)
	e.emit(rex(true, needsRex(dst), false, needsRex(src)))
	e.emit(0x0F, 0x2C)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

// MovqXMMFromGPR emits `movq xmm_dst, gpr_src` (66 REX.W 0F 6E /r),
// reinterpreting 64 raw bits rather than converting a value -- used to
// materialize a float64 immediate by loading its bit pattern into a GPR
// first.
func (e *buf) MovqXMMFromGPR(dst, src int8) {
	e.emit(0x66)
	e.emit(rex(true, needsRex(dst), false, needsRex(src)))
	e.emit(0x0F, 0x6E)
	e.emit(modrm(3, lo3(dst), lo3(src)))
}

// AddRspImm32 emits `add rsp, imm32` (a negative imm encodes the
// equivalent `sub rsp, -imm32`, used to reserve/release call shadow
// space).
func (e *buf) AddRspImm32(imm int32) {
	e.emit(rex(true, false, false, false))
	e.emit(0x81)
	e.emit(modrm(3, 0, lo3(int8(4)))) // rsp = register 4
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(imm))
	e.emit(tmp[:]...)
}

// Condition codes used by SetccReg/Jcc32.
const (
	ccO  = 0x0
	ccNO = 0x1
	ccB  = 0x2
	ccAE = 0x3
	ccE  = 0x4
	ccNE = 0x5
	ccBE = 0x6
	ccA  = 0x7
	ccL  = 0xC
	ccGE = 0xD
	ccLE = 0xE
	ccG  = 0xF
)

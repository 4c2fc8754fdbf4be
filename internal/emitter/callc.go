package emitter

import (
	"github.com/orizon-lang/orizon-jit/internal/abi"
	orerrors "github.com/orizon-lang/orizon-jit/internal/errors"
	"github.com/orizon-lang/orizon-jit/internal/tile"
)

// ArgKind names how one C-call argument is materialized before the call.
type ArgKind int

const (
	// ArgStack reads a frame-relative stack slot (offset from rbp).
	ArgStack ArgKind = iota
	// ArgInterp reads one of the fixed thread-context-derived values: the
	// thread context itself, the current frame, or the current
	// compilation unit, materialized from TC's own fields.
	ArgInterp
	// ArgReg reads an integer value the allocator has already placed in a
	// physical GPR.
	ArgReg
	// ArgRegF reads a floating-point value the allocator has already
	// placed in a physical XMM register.
	ArgRegF
	// ArgLiteral supplies a 64-bit immediate.
	ArgLiteral
)

// InterpArg names which thread-context-derived value an ArgInterp
// descriptor supplies.
type InterpArg int

const (
	InterpTC InterpArg = iota
	InterpFrame
	InterpCompUnit
)

// CallArg describes one argument to a native C call.
type CallArg struct {
	Kind ArgKind

	StackOffset  int32
	InterpWhich  InterpArg
	Reg          int8 // physical register holding the value, for ArgReg/ArgRegF
	LiteralValue uint64
}

// CallDescriptor fully describes a native call: the callee's absolute
// address (resolved by the embedder ahead of emission; this package never
// performs symbol lookup itself), its arguments, and where to put the
// return value.
type CallDescriptor struct {
	Callee   uint64
	Args     []CallArg
	Variadic bool

	// ReturnsFloat selects whether the return value comes back in RAX or
	// XMM0.
	ReturnsFloat bool
	// HasReturn is false for void calls; when true the result is written
	// into the tile's own value slot by the caller via Values[0].
	HasReturn bool
}

// emitCallC marshals a CallDescriptor's arguments into the ABI's integer
// and floating-point argument registers (tracked by two independent
// sequence counters, mirroring MVM_jit_emit_call_c's addarg/addarg_f split
// in emit_posix_x64.c), reserves Windows shadow space around the call,
// invokes the callee through the scratch function-pointer register, and
// (for a non-void call) moves the native return value into the tile's
// destination slot.
func (e *Emitter) emitCallC(t *tile.Tile) error {
	cd, ok := t.Operand.(*CallDescriptor)
	if !ok {
		return orerrors.NewStandardError(orerrors.CategoryInput, "BAD_CALL_OPERAND",
			"call_c tile's Operand is not a *CallDescriptor", nil)
	}
	if err := e.emitCall(cd); err != nil {
		return err
	}
	if cd.HasReturn {
		dst := t.Values[0]
		if cd.ReturnsFloat {
			e.buf.MovsdRegReg(dst, 0)
		} else if dst != int8(e.abi.RV) {
			e.buf.MovRegReg(dst, int8(e.abi.RV))
		}
	}
	return nil
}

func (e *Emitter) emitCall(cd *CallDescriptor) error {
	if cd.Variadic {
		return orerrors.VariadicCallUnsupported("call_c")
	}

	intIdx, floatIdx := 0, 0
	for _, a := range cd.Args {
		switch a.Kind {
		case ArgRegF:
			if floatIdx >= len(e.abi.FloatArgs) {
				return orerrors.TooManyCallArgs("float", floatIdx+1, len(e.abi.FloatArgs))
			}
			e.buf.MovsdRegReg(int8(e.abi.FloatArgs[floatIdx]), a.Reg)
			floatIdx++
		default:
			if intIdx >= len(e.abi.IntArgs) {
				return orerrors.TooManyCallArgs("integer", intIdx+1, len(e.abi.IntArgs))
			}
			dst := int8(e.abi.IntArgs[intIdx])
			switch a.Kind {
			case ArgStack:
				e.buf.LoadMem(dst, int8(abi.RBP), a.StackOffset)
			case ArgInterp:
				switch a.InterpWhich {
				case InterpTC:
					e.buf.MovRegReg(dst, int8(e.abi.TC))
				case InterpFrame:
					e.buf.LoadMem(dst, int8(e.abi.TC), e.fields.TCCurFrame)
				case InterpCompUnit:
					e.buf.LoadMem(dst, int8(e.abi.TC), e.fields.TCInterpCU)
				}
			case ArgReg:
				if dst != a.Reg {
					e.buf.MovRegReg(dst, a.Reg)
				}
			case ArgLiteral:
				e.buf.MovRegImm64(dst, a.LiteralValue)
			}
			intIdx++
		}
	}

	if e.abi.ShadowSpace > 0 {
		e.buf.AddRspImm32(-int32(e.abi.ShadowSpace))
	}
	e.buf.MovRegImm64(int8(e.abi.Function), cd.Callee)
	e.buf.CallReg(int8(e.abi.Function))
	if e.abi.ShadowSpace > 0 {
		e.buf.AddRspImm32(int32(e.abi.ShadowSpace))
	}

	return nil
}

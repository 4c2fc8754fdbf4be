// Package fields decouples the emitter from any concrete host VM object
// layout. It is a plain struct of byte offsets the embedding program fills
// in once (typically via cgo offsetof-equivalents or a layout descriptor
// generated at build time); the emitter only ever reads through this
// struct, never assumes a hardcoded layout of its own.
package fields

// Layout names every field offset the emitter's opcode lowerings need to
// reach through a pointer held in one of the four VM-pinned registers
// (TC, WORK, ARGS, ENV). All offsets are in bytes from the start of the
// containing struct.
type Layout struct {
	// ThreadContext fields, reached through TC.
	TCInterpCU  int32 // current compilation unit pointer
	TCCurFrame  int32 // current frame pointer
	TCInstance  int32 // VM instance pointer

	// Frame fields, reached through the frame pointer passed as the entry
	// point's second argument.
	FrameWork   int32 // base of the register file (-> WORK)
	FrameParams int32 // argument-processing context
	FrameEnv    int32 // base of the lexical environment (-> ENV)

	// Argument-processing context fields, reached through FrameParams.
	ParamsArgs int32 // base of the positional argument array

	// Compilation-unit body fields.
	CUBodyStrings int32 // base of the interned-string table

	// Object body fields.
	ObjectBody         int32 // offset from an object pointer to its body struct
	ObjectBodyReplaced int32 // indirection used by sp_p6oget/sp_p6obind, relative to the body

	// Collectable header fields (shared by every heap object).
	CollectableFlags int32 // generation/flags bitfield, tested by the write barrier

	// Instance fields.
	InstanceVMNull int32 // the canonical null object, substituted for nil loads
}

// Default is a representative, internally consistent layout used by tests
// and the smoke-test command; a real embedder supplies its own Layout
// matching its actual object representation.
var Default = Layout{
	TCInterpCU:         0x08,
	TCCurFrame:         0x10,
	TCInstance:         0x18,
	FrameWork:          0x00,
	FrameParams:        0x20,
	FrameEnv:           0x28,
	ParamsArgs:         0x00,
	CUBodyStrings:      0x08,
	ObjectBody:         0x10,
	ObjectBodyReplaced: 0x00,
	CollectableFlags:   0x04,
	InstanceVMNull:     0x30,
}

// SecondGenFlag is the bit in CollectableFlags marking an object as
// promoted to the second generation; the write barrier fires when the
// assignment target carries this bit and the incoming value does not.
const SecondGenFlag = 1 << 2

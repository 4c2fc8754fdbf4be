package exec

// callTrampoline is implemented in call_amd64.s. It loads fn into rax and
// a0/a1 into the System V integer argument registers (rdi, rsi) before
// calling into it -- the registers Emitter.Prologue actually reads TC and
// the frame pointer from. A raw Go func-value cast of the code pointer
// would instead pass arguments through Go's own ABIInternal register
// assignment on amd64, which does not line up with rdi/rsi, so this
// assembly hop is the only way to invoke emitted machine code with the
// calling convention it was generated for.
func callTrampoline(fn uintptr, a0, a1 uint64) uint64

package amd64

// Native helper stubs backing the external-symbol table. Generated code
// never re-enters Go; every symbol a routine can call resolves to one of
// these self-contained routines. The stub convention is deliberately
// simple: arguments arrive as raw 64-bit bit patterns in RDI, RSI, RDX,
// RCX and the result returns as raw bits in RAX. Transcendentals go
// through x87, which every amd64 host has, so no stub depends on the
// probed feature set.

// Stub names one emitted helper and its offset in the stub code block.
type Stub struct {
	Name string
	Off  int
}

// BuildStubs encodes every helper routine into a single code block and
// returns it with the per-symbol offsets.
func BuildStubs() ([]byte, []Stub) {
	a := &Assembler{}
	var stubs []Stub
	emit := func(name string, f func()) {
		stubs = append(stubs, Stub{Name: name, Off: a.Here()})
		f()
	}

	// Single precision.
	emit("sqrtf", func() { sseUnary32(a, 0x51) })
	emit("sinf", func() { x87Unary32(a, 0xD9, 0xFE) })
	emit("cosf", func() { x87Unary32(a, 0xD9, 0xFF) })
	emit("tanf", func() { x87Tan(a, false) })
	emit("atanf", func() { x87Atan(a, false) })
	emit("atan2f", func() { x87Atan2(a, false) })
	emit("fmodf", func() { x87Fmod(a, false) })
	emit("expf", func() { x87Exp(a, false) })
	emit("logf", func() { x87Log(a, 0xED, false) })  // fldln2
	emit("log2f", func() { x87Log(a, 0xE8, false) }) // fld1
	emit("exp2f", func() { x87Exp2(a, false) })
	emit("powf", func() { x87Pow(a, false) })
	emit("floorf", func() { x87Round(a, 1, false) })
	emit("ceilf", func() { x87Round(a, 2, false) })
	emit("truncf", func() { x87Round(a, 3, false) })
	emit("nearbyintf", func() { x87Round(a, 0, false) })

	// Double precision.
	emit("sqrt", func() { sseUnary64(a) })
	emit("sin", func() { x87Unary64(a, 0xD9, 0xFE) })
	emit("cos", func() { x87Unary64(a, 0xD9, 0xFF) })
	emit("tan", func() { x87Tan(a, true) })
	emit("atan", func() { x87Atan(a, true) })
	emit("atan2", func() { x87Atan2(a, true) })
	emit("fmod", func() { x87Fmod(a, true) })
	emit("exp", func() { x87Exp(a, true) })
	emit("log", func() { x87Log(a, 0xED, true) })
	emit("log2", func() { x87Log(a, 0xE8, true) })
	emit("exp2", func() { x87Exp2(a, true) })
	emit("pow", func() { x87Pow(a, true) })
	emit("floor", func() { x87Round(a, 1, true) })
	emit("ceil", func() { x87Round(a, 2, true) })
	emit("trunc", func() { x87Round(a, 3, true) })
	emit("nearbyint", func() { x87Round(a, 0, true) })

	emit("nop", func() {
		a.Ret()
	})
	emit("debug_puts", func() { emitDebugPuts(a) })
	emit("frame_alloc", func() { emitFrameAlloc(a) })
	emit("frame_free", func() { emitFrameFree(a) })
	emit("atomic_load", func() { emitAtomicLoad(a) })
	emit("atomic_store", func() { emitAtomicStore(a) })

	a.Finish()
	return a.Code, stubs
}

// sseUnary32 is movd xmm0, edi; op xmm0, xmm0; movd eax, xmm0.
func sseUnary32(a *Assembler, opcode byte) {
	a.MovdXR(X0, RDI)
	a.FloatOp(pSS, opcode, X0, X0)
	a.MovdRX(RAX, X0)
	a.Ret()
}

// sseUnary64 is sqrt over the full 64-bit pattern (movq forms).
func sseUnary64(a *Assembler) {
	a.Raw(0x66, 0x48, 0x0F, 0x6E, 0xC7) // movq xmm0, rdi
	a.FloatOp(pSD, 0x51, X0, X0)        // sqrtsd xmm0, xmm0
	a.Raw(0x66, 0x48, 0x0F, 0x7E, 0xC0) // movq rax, xmm0
	a.Ret()
}

// x87Prologue spills the first argument to the stack and loads it onto
// the x87 stack. Leaves 24 bytes of scratch at RSP.
func x87Prologue(a *Assembler, double bool) {
	a.Raw(0x48, 0x83, 0xEC, 0x18) // sub rsp, 24
	if double {
		a.Raw(0x48, 0x89, 0x3C, 0x24) // mov [rsp], rdi
		a.Raw(0xDD, 0x04, 0x24)       // fld qword [rsp]
	} else {
		a.Raw(0x89, 0x3C, 0x24) // mov [rsp], edi
		a.Raw(0xD9, 0x04, 0x24) // fld dword [rsp]
	}
}

// x87Epilogue stores st0 back, pops the scratch and returns the bits in
// RAX.
func x87Epilogue(a *Assembler, double bool) {
	if double {
		a.Raw(0xDD, 0x1C, 0x24)       // fstp qword [rsp]
		a.Raw(0x48, 0x8B, 0x04, 0x24) // mov rax, [rsp]
	} else {
		a.Raw(0xD9, 0x1C, 0x24) // fstp dword [rsp]
		a.Raw(0x8B, 0x04, 0x24) // mov eax, [rsp]
	}
	a.Raw(0x48, 0x83, 0xC4, 0x18) // add rsp, 24
	a.Ret()
}

// fldArg2 loads the second argument (RSI) onto the x87 stack via the
// scratch slot at [rsp+8].
func fldArg2(a *Assembler, double bool) {
	if double {
		a.Raw(0x48, 0x89, 0x74, 0x24, 0x08) // mov [rsp+8], rsi
		a.Raw(0xDD, 0x44, 0x24, 0x08)       // fld qword [rsp+8]
	} else {
		a.Raw(0x89, 0x74, 0x24, 0x08) // mov [rsp+8], esi
		a.Raw(0xD9, 0x44, 0x24, 0x08) // fld dword [rsp+8]
	}
}

func x87Unary32(a *Assembler, op1, op2 byte) {
	x87Prologue(a, false)
	a.Raw(op1, op2)
	x87Epilogue(a, false)
}

func x87Unary64(a *Assembler, op1, op2 byte) {
	x87Prologue(a, true)
	a.Raw(op1, op2)
	x87Epilogue(a, true)
}

func x87Tan(a *Assembler, double bool) {
	x87Prologue(a, double)
	a.Raw(0xD9, 0xF2) // fptan: st0 <- 1.0, st1 <- tan
	a.Raw(0xDD, 0xD8) // fstp st0, discard the pushed 1.0
	x87Epilogue(a, double)
}

func x87Atan(a *Assembler, double bool) {
	x87Prologue(a, double)
	a.Raw(0xD9, 0xE8) // fld1
	a.Raw(0xD9, 0xF3) // fpatan: atan(st1/st0)
	x87Epilogue(a, double)
}

// x87Atan2 computes atan2(y, x) with y in the first argument.
func x87Atan2(a *Assembler, double bool) {
	x87Prologue(a, double) // st0 = y
	fldArg2(a, double)     // st0 = x, st1 = y
	a.Raw(0xD9, 0xF3)      // fpatan: atan(y/x) with quadrant fixup
	x87Epilogue(a, double)
}

// x87Fmod computes fmod(x, y); fprem reduces partially so the C2 flag
// loop reruns it until the reduction is complete.
func x87Fmod(a *Assembler, double bool) {
	x87Prologue(a, double) // st0 = x
	fldArg2(a, double)     // st0 = y, st1 = x
	a.Raw(0xD9, 0xC9)      // fxch: st0 = x, st1 = y
	loop := a.Here()
	a.Raw(0xD9, 0xF8) // fprem
	a.Raw(0xDF, 0xE0) // fnstsw ax
	a.Raw(0xF6, 0xC4, 0x04)
	rel := int8(loop - (a.Here() + 2))
	a.Raw(0x75, byte(rel)) // jnz loop
	a.Raw(0xDD, 0xD9)      // fstp st1, drop y
	x87Epilogue(a, double)
}

// exp2Tail turns st0 = z into 2^z: split into integer and fraction so
// f2xm1 sees an argument inside its domain, then rescale.
func exp2Tail(a *Assembler) {
	a.Raw(0xD9, 0xC0) // fld st0
	a.Raw(0xD9, 0xFC) // frndint
	a.Raw(0xDC, 0xE9) // fsub st1, st0: st1 = frac
	a.Raw(0xD9, 0xC9) // fxch: st0 = frac, st1 = int
	a.Raw(0xD9, 0xF0) // f2xm1
	a.Raw(0xD9, 0xE8) // fld1
	a.Raw(0xDE, 0xC1) // faddp: st0 = 2^frac
	a.Raw(0xD9, 0xFD) // fscale: st0 *= 2^st1
	a.Raw(0xDD, 0xD9) // fstp st1
}

func x87Exp2(a *Assembler, double bool) {
	x87Prologue(a, double)
	exp2Tail(a)
	x87Epilogue(a, double)
}

func x87Exp(a *Assembler, double bool) {
	x87Prologue(a, double)
	a.Raw(0xD9, 0xEA) // fldl2e
	a.Raw(0xDE, 0xC9) // fmulp: st0 = x*log2(e)
	exp2Tail(a)
	x87Epilogue(a, double)
}

// x87Log computes c*log2(x) where c comes from the given fld constant
// opcode: fldln2 gives the natural log, fld1 gives log2.
func x87Log(a *Assembler, constOp byte, double bool) {
	// The constant must sit below x on the stack, so reload in order.
	a.Raw(0x48, 0x83, 0xEC, 0x18) // sub rsp, 24
	a.Raw(0xD9, constOp)          // fld constant
	if double {
		a.Raw(0x48, 0x89, 0x3C, 0x24) // mov [rsp], rdi
		a.Raw(0xDD, 0x04, 0x24)       // fld qword [rsp]
	} else {
		a.Raw(0x89, 0x3C, 0x24) // mov [rsp], edi
		a.Raw(0xD9, 0x04, 0x24) // fld dword [rsp]
	}
	a.Raw(0xD9, 0xF1) // fyl2x: st0 = st1 * log2(st0)
	x87Epilogue(a, double)
}

// x87Pow computes x^y as 2^(y*log2 x).
func x87Pow(a *Assembler, double bool) {
	// Load y below x: fyl2x wants st1 = y, st0 = x.
	a.Raw(0x48, 0x83, 0xEC, 0x18) // sub rsp, 24
	if double {
		a.Raw(0x48, 0x89, 0x74, 0x24, 0x08) // mov [rsp+8], rsi (y)
		a.Raw(0xDD, 0x44, 0x24, 0x08)       // fld qword [rsp+8]
		a.Raw(0x48, 0x89, 0x3C, 0x24)       // mov [rsp], rdi (x)
		a.Raw(0xDD, 0x04, 0x24)             // fld qword [rsp]
	} else {
		a.Raw(0x89, 0x74, 0x24, 0x08) // mov [rsp+8], esi
		a.Raw(0xD9, 0x44, 0x24, 0x08) // fld dword [rsp+8]
		a.Raw(0x89, 0x3C, 0x24)       // mov [rsp], edi
		a.Raw(0xD9, 0x04, 0x24)       // fld dword [rsp]
	}
	a.Raw(0xD9, 0xF1) // fyl2x: st0 = y*log2(x)
	exp2Tail(a)
	x87Epilogue(a, double)
}

// x87Round rounds with an explicit x87 rounding mode: 0 nearest,
// 1 down, 2 up, 3 toward zero. The control word is saved, overridden
// for the frndint and restored.
func x87Round(a *Assembler, rc byte, double bool) {
	x87Prologue(a, double)
	a.Raw(0xD9, 0x7C, 0x24, 0x08)       // fnstcw [rsp+8]
	a.Raw(0x0F, 0xB7, 0x44, 0x24, 0x08) // movzx eax, word [rsp+8]
	a.Raw(0x80, 0xE4, 0xF3)             // and ah, 0xF3: clear RC
	a.Raw(0x80, 0xCC, rc<<2)            // or ah, rc<<2
	a.Raw(0x66, 0x89, 0x44, 0x24, 0x0A) // mov [rsp+10], ax
	a.Raw(0xD9, 0x6C, 0x24, 0x0A)       // fldcw [rsp+10]
	a.Raw(0xD9, 0xFC)                   // frndint
	a.Raw(0xD9, 0x6C, 0x24, 0x08)       // fldcw [rsp+8]: restore
	x87Epilogue(a, double)
}

// Linux syscall numbers used by the service stubs.
const (
	sysWrite  = 1
	sysMmap   = 9
	sysMunmap = 11
)

// emitDebugPuts writes (ptr in RDI, len in RSI) to stderr.
func emitDebugPuts(a *Assembler) {
	a.MovRegReg(RDX, RSI) // count
	a.MovRegReg(RSI, RDI) // buf
	a.MovRegImm32(RDI, 2) // stderr
	a.MovRegImm32(RAX, sysWrite)
	a.Syscall()
	a.Ret()
}

// emitFrameAlloc maps size (RDI) bytes of anonymous read-write memory
// and returns the address, or the raw errno-encoded failure, in RAX.
func emitFrameAlloc(a *Assembler) {
	a.MovRegReg(RSI, RDI)         // length
	a.MovRegImm32(RDI, 0)         // addr hint
	a.MovRegImm32(RDX, 0x3)       // PROT_READ|PROT_WRITE
	a.MovRegImm32(R10, 0x22)      // MAP_PRIVATE|MAP_ANONYMOUS
	a.MovRegImm64(R8, ^uint64(0)) // fd -1
	a.MovRegImm32(R9, 0)          // offset
	a.MovRegImm32(RAX, sysMmap)
	a.Syscall()
	a.Ret()
}

// emitFrameFree unmaps ptr (RDI), size (RSI).
func emitFrameFree(a *Assembler) {
	a.MovRegImm32(RAX, sysMunmap)
	a.Syscall()
	a.Ret()
}

// emitAtomicLoad implements the fixed-signature fallback helper:
// (size RDI, ptr RSI, out RDX, ordering RCX). Aligned loads up to eight
// bytes are single instructions on this target, so the ordering argument
// only documents intent.
func emitAtomicLoad(a *Assembler) {
	w16 := a.NewLabel()
	w8 := a.NewLabel()
	w4 := a.NewLabel()
	w2 := a.NewLabel()

	a.CmpImm(RDI, 16)
	a.Jcc(CondE, w16)
	a.CmpImm(RDI, 8)
	a.Jcc(CondE, w8)
	a.CmpImm(RDI, 4)
	a.Jcc(CondE, w4)
	a.CmpImm(RDI, 2)
	a.Jcc(CondE, w2)

	a.Load(RAX, RSI, 0, 1)
	a.Store(RDX, 0, RAX, 1)
	a.Ret()
	// 16 bytes has no single-copy atomicity on this target; the helper
	// still moves the value in one call.
	a.Bind(w16)
	a.Load(RAX, RSI, 0, 8)
	a.Store(RDX, 0, RAX, 8)
	a.Load(RAX, RSI, 8, 8)
	a.Store(RDX, 8, RAX, 8)
	a.Ret()
	a.Bind(w2)
	a.Load(RAX, RSI, 0, 2)
	a.Store(RDX, 0, RAX, 2)
	a.Ret()
	a.Bind(w4)
	a.Load(RAX, RSI, 0, 4)
	a.Store(RDX, 0, RAX, 4)
	a.Ret()
	a.Bind(w8)
	a.Load(RAX, RSI, 0, 8)
	a.Store(RDX, 0, RAX, 8)
	a.Ret()
}

// emitAtomicStore is the store-side fallback: (size RDI, ptr RSI,
// valuePtr RDX, ordering RCX). XCHG gives the widths it covers a full
// barrier; narrow widths store and fence.
func emitAtomicStore(a *Assembler) {
	w16 := a.NewLabel()
	w8 := a.NewLabel()
	w4 := a.NewLabel()
	w2 := a.NewLabel()

	a.CmpImm(RDI, 16)
	a.Jcc(CondE, w16)
	a.CmpImm(RDI, 8)
	a.Jcc(CondE, w8)
	a.CmpImm(RDI, 4)
	a.Jcc(CondE, w4)
	a.CmpImm(RDI, 2)
	a.Jcc(CondE, w2)

	a.Load(RAX, RDX, 0, 1)
	a.Store(RSI, 0, RAX, 1)
	a.Mfence()
	a.Ret()
	a.Bind(w16)
	a.Load(RAX, RDX, 0, 8)
	a.Store(RSI, 0, RAX, 8)
	a.Load(RAX, RDX, 8, 8)
	a.Store(RSI, 8, RAX, 8)
	a.Mfence()
	a.Ret()
	a.Bind(w2)
	a.Load(RAX, RDX, 0, 2)
	a.Store(RSI, 0, RAX, 2)
	a.Mfence()
	a.Ret()
	a.Bind(w4)
	a.Load(RAX, RDX, 0, 4)
	a.Xchg(RSI, 0, RAX, 4)
	a.Ret()
	a.Bind(w8)
	a.Load(RAX, RDX, 0, 8)
	a.Xchg(RSI, 0, RAX, 8)
	a.Ret()
}

package amd64

import (
	"fmt"

	"fortio.org/safecast"

	"forge/internal/debug"
	"forge/internal/ir"
	"forge/internal/target"
)

// Reloc records one absolute-address patch site: the eight bytes at Off
// receive the live address of Sym at link time. Cached code replays the
// same list against the current symbol table, which is what makes
// artifacts survive address space randomization.
type Reloc struct {
	Sym string `msgpack:"sym"`
	Off int    `msgpack:"off"`
}

// Artifact is the position-independent result of compiling one function:
// raw code plus the frame layout its entry convention needs. The entry
// point is offset 0.
type Artifact struct {
	Name      string  `msgpack:"name"`
	Code      []byte  `msgpack:"code"`
	FrameSize int     `msgpack:"frame_size"`
	RetOff    int     `msgpack:"ret_off"`
	ArgOffs   []int   `msgpack:"arg_offs"`
	Relocs    []Reloc `msgpack:"relocs"`
}

// Compile lowers one verified function to machine code.
//
// Entry convention: the routine is entered through a func-value cast
// with a single pointer argument, which the Go register ABI places in
// RAX. That pointer names a flat frame buffer laid out as
// [return][args][value slots]; the generated code keeps it in R12 and
// never touches Go runtime state, so there is no stack growth or
// safepoint hazard inside a routine.
func Compile(f *ir.Func, mach target.Machine) (*Artifact, error) {
	if !mach.Supported() {
		return nil, fmt.Errorf("amd64: host %s/%s not supported", mach.Arch, mach.OS)
	}
	c := &compiler{
		f:    f,
		mach: mach,
		offs: make(map[ir.ValueID]int32),
	}
	c.layout()
	c.emit()
	c.asm.Finish()
	return &Artifact{
		Name:      f.Name,
		Code:      c.asm.Code,
		FrameSize: int(c.frameSize),
		RetOff:    0,
		ArgOffs:   c.argOffs,
		Relocs:    c.relocs,
	}, nil
}

type compiler struct {
	f    *ir.Func
	mach target.Machine
	asm  Assembler

	offs       map[ir.ValueID]int32 // value -> frame slot offset
	allocaOffs map[ir.ValueID]int32 // alloca -> its storage region
	argOffs    []int
	frameSize  int32
	relocs     []Reloc

	blockLabels []Label
	epilogue    Label
}

// layout assigns every argument and instruction result a frame slot.
// The return slot sits at offset zero so callers never need the layout
// of anything else to read a result.
func (c *compiler) layout() {
	off := int32(16) // return slot, padded so vectors fit

	c.argOffs = make([]int, len(c.f.Params))
	for i, p := range c.f.Params {
		c.argOffs[i] = int(off)
		off += int32(ir.SlotSize(p))
	}

	for i := range c.f.Instrs {
		v := ir.ValueID(i + 1)
		in := &c.f.Instrs[i]
		if in.Kind == ir.InstrArg {
			c.offs[v] = int32(c.argOffs[in.Arg.Index])
			continue
		}
		if in.Type != ir.TVoid {
			c.offs[v] = off
			off += int32(ir.SlotSize(in.Type))
		}
	}

	// Alloca storage regions follow the value slots.
	c.allocaOffs = make(map[ir.ValueID]int32)
	for i := range c.f.Instrs {
		v := ir.ValueID(i + 1)
		in := &c.f.Instrs[i]
		if in.Kind == ir.InstrAlloca {
			c.allocaOffs[v] = off
			off += int32(ir.SlotSize(in.Alloca.Elem))
		}
	}

	c.frameSize = (off + 15) &^ 15
}

func (c *compiler) emit() {
	a := &c.asm

	c.blockLabels = make([]Label, len(c.f.Blocks))
	for i := range c.f.Blocks {
		c.blockLabels[i] = a.NewLabel()
	}
	c.epilogue = a.NewLabel()

	// Prologue. The frame pointer chain stays intact for profilers; R12
	// and RBX are preserved for the caller.
	a.Push(RBP)
	a.MovRegReg(RBP, RSP)
	a.Push(R12)
	a.Push(RBX)
	a.MovRegReg(R12, RAX) // frame base

	for bi := range c.f.Blocks {
		b := &c.f.Blocks[bi]
		a.Bind(c.blockLabels[bi])
		for _, v := range b.Instrs {
			c.instr(v)
		}
		c.terminator(b, bi)
	}

	a.Bind(c.epilogue)
	a.Pop(RBX)
	a.Pop(R12)
	a.Pop(RBP)
	a.Ret()
}

func (c *compiler) slot(v ir.ValueID) int32 {
	off, ok := c.offs[v]
	debug.Assert(ok, "%s: v%d has no frame slot", c.f.Name, v)
	return off
}

func scalarWidth(t ir.TypeID) int {
	return ir.Info(t).LaneBits / 8
}

// loadScalar brings a scalar value into a GPR, zero- or sign-extended to
// 64 bits.
func (c *compiler) loadScalar(dst Reg, v ir.ValueID, signed bool) {
	t := c.f.TypeOf(v)
	w := scalarWidth(t)
	if signed {
		c.asm.LoadSigned(dst, R12, c.slot(v), w)
	} else {
		c.asm.Load(dst, R12, c.slot(v), w)
	}
}

// storeScalar spills a GPR into v's slot at the value's width.
func (c *compiler) storeScalar(v ir.ValueID, src Reg) {
	c.asm.Store(R12, c.slot(v), src, scalarWidth(c.f.TypeOf(v)))
}

// copySlot copies n bytes (8 or 16) between frame offsets.
func (c *compiler) copySlot(dst, src int32, n int) {
	a := &c.asm
	switch {
	case n <= 8:
		a.Load(RAX, R12, src, 8)
		a.Store(R12, dst, RAX, 8)
	case n == 16:
		a.XLoad(X0, R12, src)
		a.XStore(R12, dst, X0)
	default:
		debug.Unreachable("slot copy of %d bytes", n)
	}
}

// callSym emits an absolute call to a runtime symbol and records the
// relocation for the address immediate.
func (c *compiler) callSym(sym string) {
	a := &c.asm
	a.rex(true, 0, 0, uint8(R11))
	a.byte(0xB8 + byte(R11&7))
	c.relocs = append(c.relocs, Reloc{Sym: sym, Off: a.Here()})
	a.u64(0)
	a.CallReg(R11)
}

func (c *compiler) instr(v ir.ValueID) {
	in := c.f.Instr(v)
	switch in.Kind {
	case ir.InstrConst:
		c.emitConst(v, in)
	case ir.InstrArg:
		// Argument slots are written by the caller; nothing to emit.
	case ir.InstrAlloca:
		c.asm.Lea(RAX, R12, c.allocaOffs[v])
		c.storeScalar(v, RAX)
	case ir.InstrLoad:
		c.emitLoad(v, in)
	case ir.InstrStore:
		c.emitStore(in)
	case ir.InstrBin:
		c.emitBin(v, in)
	case ir.InstrCmp:
		c.emitCmp(v, in)
	case ir.InstrCast:
		c.emitCast(v, in)
	case ir.InstrGEP:
		c.emitGEP(v, in)
	case ir.InstrExtract:
		c.emitExtract(v, in)
	case ir.InstrInsert:
		c.emitInsert(v, in)
	case ir.InstrShuffle:
		c.emitShuffle(v, in)
	case ir.InstrSelect:
		c.emitSelect(v, in)
	case ir.InstrCall:
		c.emitCall(v, in)
	default:
		debug.Unreachable("instr kind %d", in.Kind)
	}
}

func (c *compiler) emitConst(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	off := c.slot(v)
	if !ir.IsVector(in.Type) {
		a.MovRegImm64(RAX, in.Const.Bits)
		a.Store(R12, off, RAX, 8)
		return
	}
	info := ir.Info(in.Type)
	lb := info.LaneBits / 8
	var words [2]uint64
	for i, lane := range in.Const.Lanes {
		byteOff := i * lb
		words[byteOff/8] |= (lane & laneMaskBits(info.LaneBits)) << uint((byteOff%8)*8)
	}
	a.MovRegImm64(RAX, words[0])
	a.Store(R12, off, RAX, 8)
	a.MovRegImm64(RAX, words[1])
	a.Store(R12, off+8, RAX, 8)
}

func laneMaskBits(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}

func (c *compiler) emitLoad(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	c.loadScalar(RAX, in.Load.Ptr, false)
	n := ir.Size(in.Type)
	off := c.slot(v)
	switch {
	case n <= 8:
		a.Load(RCX, RAX, 0, n)
		a.Store(R12, off, RCX, 8)
	case n == 16:
		a.XLoad(X0, RAX, 0)
		a.XStore(R12, off, X0)
	default:
		debug.Unreachable("load of %d bytes", n)
	}
}

func (c *compiler) emitStore(in *ir.Instr) {
	a := &c.asm
	c.loadScalar(RAX, in.Store.Ptr, false)
	n := ir.Size(in.Store.Elem)
	valOff := c.slot(in.Store.Val)
	seqcst := in.Store.Order == ir.OrderSeqCst
	switch {
	case n <= 8:
		a.Load(RCX, R12, valOff, 8)
		if seqcst && (n == 4 || n == 8) {
			a.Xchg(RAX, 0, RCX, n)
		} else {
			a.Store(RAX, 0, RCX, n)
			if in.Store.Order != ir.OrderNone && in.Store.Order != ir.OrderRelaxed && in.Store.Order != ir.OrderRelease {
				a.Mfence()
			}
		}
	case n == 16:
		a.XLoad(X0, R12, valOff)
		a.XStore(RAX, 0, X0)
	default:
		debug.Unreachable("store of %d bytes", n)
	}
}

func signedBinOp(op ir.BinOp) bool {
	switch op {
	case ir.OpSDiv, ir.OpSRem, ir.OpAShr, ir.OpSMax, ir.OpSMin:
		return true
	}
	return false
}

func (c *compiler) emitBin(v ir.ValueID, in *ir.Instr) {
	t := in.Type
	if ir.IsVector(t) {
		c.emitVectorBin(v, in)
		return
	}
	if ir.IsFloat(t) {
		c.emitFloatBin(v, in)
		return
	}
	signed := signedBinOp(in.Bin.Op)
	c.loadScalar(RAX, in.Bin.X, signed)
	c.loadScalar(RCX, in.Bin.Y, signed)
	c.scalarIntOp(in.Bin.Op)
	c.storeScalar(v, RAX)
}

// scalarIntOp computes RAX = RAX op RCX at 64-bit width. Operands were
// already extended to 64 bits with the signedness the operation needs.
func (c *compiler) scalarIntOp(op ir.BinOp) {
	a := &c.asm
	switch op {
	case ir.OpAdd:
		a.Add(RAX, RCX)
	case ir.OpSub:
		a.Sub(RAX, RCX)
	case ir.OpMul:
		a.Imul(RAX, RCX)
	case ir.OpAnd:
		a.And(RAX, RCX)
	case ir.OpOr:
		a.Or(RAX, RCX)
	case ir.OpXor:
		a.Xor(RAX, RCX)
	case ir.OpShl:
		a.ShlCL(RAX)
	case ir.OpLShr:
		a.ShrCL(RAX)
	case ir.OpAShr:
		a.SarCL(RAX)
	case ir.OpSDiv:
		a.Cqo()
		a.Idiv(RCX)
	case ir.OpUDiv:
		a.MovRegImm32(RDX, 0)
		a.Div(RCX)
	case ir.OpSRem:
		a.Cqo()
		a.Idiv(RCX)
		a.MovRegReg(RAX, RDX)
	case ir.OpURem:
		a.MovRegImm32(RDX, 0)
		a.Div(RCX)
		a.MovRegReg(RAX, RDX)
	case ir.OpSMax:
		a.Cmp(RAX, RCX)
		a.Cmovcc(CondL, RAX, RCX)
	case ir.OpSMin:
		a.Cmp(RAX, RCX)
		a.Cmovcc(CondG, RAX, RCX)
	case ir.OpUMax:
		a.Cmp(RAX, RCX)
		a.Cmovcc(CondB, RAX, RCX)
	case ir.OpUMin:
		a.Cmp(RAX, RCX)
		a.Cmovcc(CondA, RAX, RCX)
	default:
		debug.Unreachable("scalar int op %d", op)
	}
}

var floatOpcode = map[ir.BinOp]byte{
	ir.OpFAdd: 0x58,
	ir.OpFSub: 0x5C,
	ir.OpFMul: 0x59,
	ir.OpFDiv: 0x5E,
	ir.OpFMin: 0x5D,
	ir.OpFMax: 0x5F,
}

func (c *compiler) emitFloatBin(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	t := in.Type
	w := scalarWidth(t)
	if in.Bin.Op == ir.OpFRem {
		// No SSE remainder; the fmod helper does the fprem loop.
		sym := "fmodf"
		if w == 8 {
			sym = "fmod"
		}
		a.Load(RDI, R12, c.slot(in.Bin.X), 8)
		a.Load(RSI, R12, c.slot(in.Bin.Y), 8)
		c.callSym(sym)
		a.Store(R12, c.slot(v), RAX, 8)
		return
	}
	prefix := byte(pSS)
	if w == 8 {
		prefix = pSD
	}
	a.XLoadScalar(X0, R12, c.slot(in.Bin.X), w)
	a.XLoadScalar(X1, R12, c.slot(in.Bin.Y), w)
	a.FloatOp(prefix, floatOpcode[in.Bin.Op], X0, X1)
	a.XStoreScalar(R12, c.slot(v), X0, w)
}

// packed integer opcode tables indexed by lane width in bytes.
var (
	paddOp = map[int]byte{1: 0xFC, 2: 0xFD, 4: 0xFE, 8: 0xD4}
	psubOp = map[int]byte{1: 0xF8, 2: 0xF9, 4: 0xFA, 8: 0xFB}
	pceqOp = map[int]byte{1: 0x74, 2: 0x75, 4: 0x76}
	pcgtOp = map[int]byte{1: 0x64, 2: 0x65, 4: 0x66}
)

func (c *compiler) emitVectorBin(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	t := in.Type
	info := ir.Info(t)
	lb := info.LaneBits / 8
	xOff, yOff, dOff := c.slot(in.Bin.X), c.slot(in.Bin.Y), c.slot(v)

	load2 := func() {
		a.XLoad(X0, R12, xOff)
		a.XLoad(X1, R12, yOff)
	}
	store := func() { a.XStore(R12, dOff, X0) }

	if ir.IsFloat(t) {
		if op, ok := floatOpcode[in.Bin.Op]; ok {
			load2()
			a.FloatOp(pNone, op, X0, X1) // ps forms
			store()
			return
		}
		c.scalarizeBin(v, in) // frem
		return
	}

	switch in.Bin.Op {
	case ir.OpAdd:
		load2()
		a.IntOp(paddOp[lb], X0, X1)
		store()
	case ir.OpSub:
		load2()
		a.IntOp(psubOp[lb], X0, X1)
		store()
	case ir.OpAnd:
		load2()
		a.IntOp(0xDB, X0, X1) // pand
		store()
	case ir.OpOr:
		load2()
		a.IntOp(0xEB, X0, X1) // por
		store()
	case ir.OpXor:
		load2()
		a.IntOp(0xEF, X0, X1) // pxor
		store()
	case ir.OpMul:
		switch {
		case lb == 2:
			load2()
			a.IntOp(0xD5, X0, X1) // pmullw
			store()
		case lb == 4 && c.mach.SSE41:
			load2()
			a.IntOp38(0x40, X0, X1) // pmulld
			store()
		default:
			c.scalarizeBin(v, in)
		}
	case ir.OpSMax, ir.OpSMin:
		switch {
		case lb == 2:
			load2()
			if in.Bin.Op == ir.OpSMax {
				a.IntOp(0xEE, X0, X1) // pmaxsw
			} else {
				a.IntOp(0xEA, X0, X1) // pminsw
			}
			store()
		case lb == 4 && c.mach.SSE41:
			load2()
			if in.Bin.Op == ir.OpSMax {
				a.IntOp38(0x3D, X0, X1) // pmaxsd
			} else {
				a.IntOp38(0x39, X0, X1) // pminsd
			}
			store()
		case lb == 4:
			c.emitMax32Blend(in, xOff, yOff, dOff)
		default:
			c.scalarizeBin(v, in)
		}
	case ir.OpUMax, ir.OpUMin:
		switch {
		case lb == 1:
			load2()
			if in.Bin.Op == ir.OpUMax {
				a.IntOp(0xDE, X0, X1) // pmaxub
			} else {
				a.IntOp(0xDA, X0, X1) // pminub
			}
			store()
		case lb == 4 && c.mach.SSE41:
			load2()
			if in.Bin.Op == ir.OpUMax {
				a.IntOp38(0x3F, X0, X1) // pmaxud
			} else {
				a.IntOp38(0x3B, X0, X1) // pminud
			}
			store()
		default:
			c.scalarizeBin(v, in)
		}
	default:
		// Division, remainder and per-lane shifts have no packed form
		// on this baseline; one lane at a time.
		c.scalarizeBin(v, in)
	}
}

// emitMax32Blend is the SSE2 fallback for 32-bit lane max/min: compare,
// then blend the winner with mask logic.
func (c *compiler) emitMax32Blend(in *ir.Instr, xOff, yOff, dOff int32) {
	a := &c.asm
	a.XLoad(X0, R12, xOff)
	a.XLoad(X1, R12, yOff)
	if in.Bin.Op == ir.OpSMax {
		a.IntOp(0x6F, X2, X0)      // movdqa x2, x0
		a.IntOp(pcgtOp[4], X2, X1) // mask = x > y
	} else {
		a.IntOp(0x6F, X2, X1)
		a.IntOp(pcgtOp[4], X2, X0) // mask = y > x
	}
	a.IntOp(0xDB, X0, X2) // x & mask
	a.IntOp(0xDF, X2, X1) // ~mask & y
	a.IntOp(0xEB, X0, X2) // blend
	a.XStore(R12, dOff, X0)
}

// scalarizeBin lowers a vector operation one lane at a time through the
// scalar path. Only the logical lanes are touched, so emulated shapes
// never read or write their padding.
func (c *compiler) scalarizeBin(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	info := ir.Info(in.Type)
	lb := info.LaneBits / 8
	signed := signedBinOp(in.Bin.Op)
	xOff, yOff, dOff := c.slot(in.Bin.X), c.slot(in.Bin.Y), c.slot(v)
	fl := ir.IsFloat(in.Type)
	for lane := 0; lane < info.Lanes; lane++ {
		lo := int32(lane * lb)
		if fl {
			// Only frem reaches here for floats.
			a.Load(RDI, R12, xOff+lo, lb)
			a.Load(RSI, R12, yOff+lo, lb)
			sym := "fmodf"
			if lb == 8 {
				sym = "fmod"
			}
			c.callSym(sym)
			a.Store(R12, dOff+lo, RAX, lb)
			continue
		}
		if signed {
			a.LoadSigned(RAX, R12, xOff+lo, lb)
			a.LoadSigned(RCX, R12, yOff+lo, lb)
		} else {
			a.Load(RAX, R12, xOff+lo, lb)
			a.Load(RCX, R12, yOff+lo, lb)
		}
		c.scalarIntOp(in.Bin.Op)
		a.Store(R12, dOff+lo, RAX, lb)
	}
}

func signedPred(p ir.CmpPred) bool {
	switch p {
	case ir.PredSLT, ir.PredSLE, ir.PredSGT, ir.PredSGE:
		return true
	}
	return false
}

var intPredCond = map[ir.CmpPred]Cond{
	ir.PredEQ:  CondE,
	ir.PredNE:  CondNE,
	ir.PredSLT: CondL,
	ir.PredSLE: CondLE,
	ir.PredSGT: CondG,
	ir.PredSGE: CondGE,
	ir.PredULT: CondB,
	ir.PredULE: CondBE,
	ir.PredUGT: CondA,
	ir.PredUGE: CondAE,
}

func (c *compiler) emitCmp(v ir.ValueID, in *ir.Instr) {
	opT := c.f.TypeOf(in.Cmp.X)
	if ir.IsVector(opT) {
		c.emitVectorCmp(v, in, opT)
		return
	}
	a := &c.asm
	if ir.IsFloat(opT) {
		c.emitFloatCmp(v, in, opT)
		return
	}
	signed := signedPred(in.Cmp.Pred)
	c.loadScalar(RAX, in.Cmp.X, signed)
	c.loadScalar(RCX, in.Cmp.Y, signed)
	a.Cmp(RAX, RCX)
	a.Setcc(intPredCond[in.Cmp.Pred], RAX)
	a.MovzxByte(RAX, RAX)
	c.storeScalar(v, RAX)
}

// emitFloatCmp lowers ordered float predicates over ucomis. The compare
// reverses its operands for less-than forms so NaN always yields false.
func (c *compiler) emitFloatCmp(v ir.ValueID, in *ir.Instr, opT ir.TypeID) {
	a := &c.asm
	w := scalarWidth(opT)
	x, y := in.Cmp.X, in.Cmp.Y
	var cc Cond
	both := false
	var cc2 Cond
	switch in.Cmp.Pred {
	case ir.PredFOGT:
		cc = CondA
	case ir.PredFOGE:
		cc = CondAE
	case ir.PredFOLT:
		x, y = y, x
		cc = CondA
	case ir.PredFOLE:
		x, y = y, x
		cc = CondAE
	case ir.PredFOEQ:
		cc, cc2, both = CondE, CondNP, true
	case ir.PredFONE:
		cc, cc2, both = CondNE, CondNP, true
	default:
		debug.Unreachable("float pred %d", in.Cmp.Pred)
	}
	a.XLoadScalar(X0, R12, c.slot(x), w)
	a.XLoadScalar(X1, R12, c.slot(y), w)
	a.Ucomis(X0, X1, w)
	a.Setcc(cc, RAX)
	if both {
		a.Setcc(cc2, RCX)
		a.MovzxByte(RAX, RAX)
		a.MovzxByte(RCX, RCX)
		a.And(RAX, RCX)
	} else {
		a.MovzxByte(RAX, RAX)
	}
	c.storeScalar(v, RAX)
}

func (c *compiler) emitVectorCmp(v ir.ValueID, in *ir.Instr, opT ir.TypeID) {
	a := &c.asm
	info := ir.Info(opT)
	lb := info.LaneBits / 8
	xOff, yOff, dOff := c.slot(in.Cmp.X), c.slot(in.Cmp.Y), c.slot(v)

	if ir.IsFloat(opT) {
		// cmpps predicates: 0 eq, 1 lt, 2 le, 4 neq, 7 ord.
		switch in.Cmp.Pred {
		case ir.PredFOEQ:
			c.packedFloatCmp(xOff, yOff, dOff, 0)
		case ir.PredFOLT:
			c.packedFloatCmp(xOff, yOff, dOff, 1)
		case ir.PredFOLE:
			c.packedFloatCmp(xOff, yOff, dOff, 2)
		case ir.PredFOGT:
			c.packedFloatCmp(yOff, xOff, dOff, 1)
		case ir.PredFOGE:
			c.packedFloatCmp(yOff, xOff, dOff, 2)
		case ir.PredFONE:
			a.XLoad(X0, R12, xOff)
			a.XLoad(X2, R12, xOff)
			a.XLoad(X1, R12, yOff)
			a.Cmpps(X0, X1, 4, false) // neq, true on NaN
			a.Cmpps(X2, X1, 7, false) // ordered
			a.IntOp(0xDB, X0, X2)     // both
			a.XStore(R12, dOff, X0)
		default:
			debug.Unreachable("vector float pred %d", in.Cmp.Pred)
		}
		return
	}

	if lb == 8 {
		// 64-bit lane compares predate this baseline; lane at a time.
		c.scalarizeCmp(v, in, opT)
		return
	}

	eq, gt := pceqOp[lb], pcgtOp[lb]
	unsigned := false
	switch in.Cmp.Pred {
	case ir.PredULT, ir.PredULE, ir.PredUGT, ir.PredUGE:
		unsigned = true
	}

	loadBiased := func(dst XReg, off int32) {
		a.XLoad(dst, R12, off)
		if unsigned {
			// Flip the sign bit so the signed compare orders unsigned.
			a.IntOp(pceqOp[lb], X3, X3) // all ones (x3 cmpeq x3)
			shiftGroup := map[int]byte{2: 0x71, 4: 0x72}[lb]
			a.PShiftImm(shiftGroup, 6, X3, byte(info.LaneBits-1)) // psll: sign bit
			a.IntOp(0xEF, dst, X3)                                // pxor
		}
	}

	negate := false
	swap := false
	switch in.Cmp.Pred {
	case ir.PredEQ:
	case ir.PredNE:
		negate = true
	case ir.PredSGT, ir.PredUGT:
	case ir.PredSLT, ir.PredULT:
		swap = true
	case ir.PredSGE, ir.PredUGE:
		swap, negate = true, true // not(y > x)
	case ir.PredSLE, ir.PredULE:
		negate = true // not(x > y)
	}

	a0, a1 := xOff, yOff
	if swap {
		a0, a1 = yOff, xOff
	}
	if lb == 1 && unsigned {
		c.scalarizeCmp(v, in, opT) // no 8-bit shift for the bias trick
		return
	}
	loadBiased(X0, a0)
	loadBiased(X1, a1)
	if in.Cmp.Pred == ir.PredEQ || in.Cmp.Pred == ir.PredNE {
		a.IntOp(eq, X0, X1)
	} else {
		a.IntOp(gt, X0, X1)
	}
	if negate {
		a.IntOp(pceqOp[lb], X2, X2) // all ones
		a.IntOp(0xEF, X0, X2)       // pxor: complement the mask
	}
	a.XStore(R12, dOff, X0)
}

func (c *compiler) packedFloatCmp(xOff, yOff, dOff int32, pred byte) {
	a := &c.asm
	a.XLoad(X0, R12, xOff)
	a.XLoad(X1, R12, yOff)
	a.Cmpps(X0, X1, pred, false)
	a.XStore(R12, dOff, X0)
}

// scalarizeCmp produces the lane mask one lane at a time.
func (c *compiler) scalarizeCmp(v ir.ValueID, in *ir.Instr, opT ir.TypeID) {
	a := &c.asm
	info := ir.Info(opT)
	lb := info.LaneBits / 8
	signed := signedPred(in.Cmp.Pred)
	xOff, yOff, dOff := c.slot(in.Cmp.X), c.slot(in.Cmp.Y), c.slot(v)
	for lane := 0; lane < info.Lanes; lane++ {
		lo := int32(lane * lb)
		if signed {
			a.LoadSigned(RAX, R12, xOff+lo, lb)
			a.LoadSigned(RCX, R12, yOff+lo, lb)
		} else {
			a.Load(RAX, R12, xOff+lo, lb)
			a.Load(RCX, R12, yOff+lo, lb)
		}
		a.Cmp(RAX, RCX)
		a.Setcc(intPredCond[in.Cmp.Pred], RAX)
		a.MovzxByte(RAX, RAX)
		// All-ones lane when true.
		a.MovRegImm32(RCX, 0)
		a.Sub(RCX, RAX)
		a.Store(R12, dOff+lo, RCX, lb)
	}
}

func (c *compiler) emitCast(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	src := c.f.TypeOf(in.Cast.X)
	dst := in.Type
	sOff, dOff := c.slot(in.Cast.X), c.slot(v)

	switch in.Cast.Op {
	case ir.CastBit:
		n := ir.Size(src)
		if ir.Size(dst) < n {
			n = ir.Size(dst)
		}
		c.copySlot(dOff, sOff, roundCopy(n))
	case ir.CastTrunc, ir.CastZExt:
		c.loadScalar(RAX, in.Cast.X, false)
		c.storeScalar(v, RAX)
	case ir.CastSExt:
		c.loadScalar(RAX, in.Cast.X, true)
		c.storeScalar(v, RAX)
	case ir.CastFPExt:
		a.XLoadScalar(X0, R12, sOff, 4)
		a.CvtSS2SD(X0, X0)
		a.XStoreScalar(R12, dOff, X0, 8)
	case ir.CastFPTrunc:
		a.XLoadScalar(X0, R12, sOff, 8)
		a.CvtSD2SS(X0, X0)
		a.XStoreScalar(R12, dOff, X0, 4)
	case ir.CastFPToSI:
		if ir.IsVector(src) {
			a.XLoad(X0, R12, sOff)
			a.CvtTPS2DQ(X0, X0)
			a.XStore(R12, dOff, X0)
			return
		}
		a.XLoadScalar(X0, R12, sOff, scalarWidth(src))
		a.CvtF2SI(RAX, X0, scalarWidth(src) == 8)
		c.storeScalar(v, RAX)
	case ir.CastSIToFP:
		if ir.IsVector(dst) {
			a.XLoad(X0, R12, sOff)
			a.CvtDQ2PS(X0, X0)
			a.XStore(R12, dOff, X0)
			return
		}
		c.loadScalar(RAX, in.Cast.X, true)
		a.CvtSI2F(X0, RAX, scalarWidth(dst) == 8)
		a.XStoreScalar(R12, dOff, X0, scalarWidth(dst))
	case ir.CastUIToFP:
		c.emitUIToFP(v, in, src, dst)
	default:
		debug.Unreachable("cast op %d", in.Cast.Op)
	}
}

func roundCopy(n int) int {
	if n <= 8 {
		return 8
	}
	return 16
}

// emitUIToFP converts an unsigned integer to float. Sources narrower
// than 64 bits fit a signed convert after zero extension; full 64-bit
// sources need the halve-and-double fixup for the top bit.
func (c *compiler) emitUIToFP(v ir.ValueID, in *ir.Instr, src, dst ir.TypeID) {
	a := &c.asm
	double := scalarWidth(dst) == 8
	dOff := c.slot(v)
	c.loadScalar(RAX, in.Cast.X, false)
	if scalarWidth(src) < 8 {
		a.CvtSI2F(X0, RAX, double)
		a.XStoreScalar(R12, dOff, X0, scalarWidth(dst))
		return
	}
	big := a.NewLabel()
	done := a.NewLabel()
	a.Test(RAX, RAX)
	a.Jcc(CondS, big)
	a.CvtSI2F(X0, RAX, double)
	a.Jmp(done)
	a.Bind(big)
	a.MovRegReg(RCX, RAX)
	a.MovRegImm32(RDX, 1)
	a.And(RCX, RDX) // keep the rounding bit
	a.ShrImm(RAX, 1)
	a.Or(RAX, RCX)
	a.CvtSI2F(X0, RAX, double)
	prefix := byte(pSS)
	if double {
		prefix = pSD
	}
	a.FloatOp(prefix, 0x58, X0, X0) // add to itself
	a.Bind(done)
	a.XStoreScalar(R12, dOff, X0, scalarWidth(dst))
}

func (c *compiler) emitGEP(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	c.loadScalar(RAX, in.GEP.Base, false)
	c.loadScalar(RCX, in.GEP.Index, !in.GEP.Unsigned)
	// Stride by the logical element size, so walking emulated elements
	// packs them the way user memory does.
	a.ImulImm(RCX, RCX, int32(ir.Size(in.GEP.Elem)))
	a.Add(RAX, RCX)
	c.storeScalar(v, RAX)
}

func (c *compiler) emitExtract(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	srcT := c.f.TypeOf(in.Extract.X)
	lb := ir.Info(srcT).LaneBits / 8
	a.Load(RAX, R12, c.slot(in.Extract.X)+int32(in.Extract.Lane*lb), lb)
	a.Store(R12, c.slot(v), RAX, 8)
}

func (c *compiler) emitInsert(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	lb := ir.Info(in.Type).LaneBits / 8
	c.copySlot(c.slot(v), c.slot(in.Insert.X), 16)
	a.Load(RAX, R12, c.slot(in.Insert.Val), lb)
	a.Store(R12, c.slot(v)+int32(in.Insert.Lane*lb), RAX, lb)
}

func (c *compiler) emitShuffle(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	srcT := c.f.TypeOf(in.Shuffle.X)
	info := ir.Info(srcT)
	lb := info.LaneBits / 8
	xOff, yOff := c.slot(in.Shuffle.X), c.slot(in.Shuffle.Y)
	dOff := c.slot(v)
	for i, m := range in.Shuffle.Mask {
		srcOff := xOff + int32(m*lb)
		if m >= info.Lanes {
			srcOff = yOff + int32((m-info.Lanes)*lb)
		}
		a.Load(RAX, R12, srcOff, lb)
		a.Store(R12, dOff+int32(i*lb), RAX, lb)
	}
}

func (c *compiler) emitSelect(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	n := ir.SlotSize(in.Type)
	c.loadScalar(RDX, in.Select.Cond, false)
	if n <= 8 {
		a.Load(RAX, R12, c.slot(in.Select.Then), 8)
		a.Load(RCX, R12, c.slot(in.Select.Else), 8)
		a.Test(RDX, RDX)
		a.Cmovcc(CondE, RAX, RCX)
		a.Store(R12, c.slot(v), RAX, 8)
		return
	}
	other := a.NewLabel()
	done := a.NewLabel()
	a.Test(RDX, RDX)
	a.Jcc(CondE, other)
	c.copySlot(c.slot(v), c.slot(in.Select.Then), 16)
	a.Jmp(done)
	a.Bind(other)
	c.copySlot(c.slot(v), c.slot(in.Select.Else), 16)
	a.Bind(done)
}

// stub argument registers, in position order.
var callArgRegs = [4]Reg{RDI, RSI, RDX, RCX}

func (c *compiler) emitCall(v ir.ValueID, in *ir.Instr) {
	a := &c.asm
	debug.Assert(len(in.Call.Args) <= len(callArgRegs), "%s: call %s with %d args", c.f.Name, in.Call.Sym, len(in.Call.Args))
	for i, arg := range in.Call.Args {
		a.Load(callArgRegs[i], R12, c.slot(arg), 8)
	}
	c.callSym(in.Call.Sym)
	if in.Type != ir.TVoid {
		a.Store(R12, c.slot(v), RAX, 8)
	}
}

func (c *compiler) terminator(b *ir.Block, bi int) {
	a := &c.asm
	switch b.Term.Kind {
	case ir.TermReturn:
		if b.Term.Return.HasValue {
			val := b.Term.Return.Value
			c.copySlot(0, c.slot(val), ir.SlotSize(c.f.TypeOf(val)))
		}
		a.Jmp(c.epilogue)
	case ir.TermBr:
		a.Jmp(c.blockLabels[b.Term.Br.Target])
	case ir.TermCondBr:
		c.loadScalar(RAX, b.Term.CondBr.Cond, false)
		a.Test(RAX, RAX)
		a.Jcc(CondNE, c.blockLabels[b.Term.CondBr.Then])
		a.Jmp(c.blockLabels[b.Term.CondBr.Else])
	case ir.TermSwitch:
		val := b.Term.Switch.Value
		w := scalarWidth(c.f.TypeOf(val))
		a.LoadSigned(RAX, R12, c.slot(val), w)
		for _, cs := range b.Term.Switch.Cases {
			if imm, err := safecast.Conv[int32](cs.Value); err == nil {
				a.CmpImm(RAX, imm)
			} else {
				// cmp's imm32 form sign-extends, so wide case values need
				// the full constant in a scratch register.
				a.MovRegImm64(RCX, uint64(cs.Value))
				a.Cmp(RAX, RCX)
			}
			a.Jcc(CondE, c.blockLabels[cs.Target])
		}
		a.Jmp(c.blockLabels[b.Term.Switch.Default])
	case ir.TermUnreachable:
		a.Ud2()
	default:
		debug.Unreachable("%s: block b%d unterminated at emission", c.f.Name, bi)
	}
}

package ir

import (
	"math"
	"strings"
	"testing"
)

func constI32(f *Func, b BlockID, v uint64) ValueID {
	return f.Append(b, Instr{Kind: InstrConst, Type: TInt32, Const: ConstInstr{Bits: v}})
}

func bin(f *Func, b BlockID, op BinOp, t TypeID, x, y ValueID) ValueID {
	return f.Append(b, Instr{Kind: InstrBin, Type: t, Bin: BinInstr{Op: op, X: x, Y: y}})
}

func ret(f *Func, b BlockID, v ValueID) {
	f.SetTerm(b, Terminator{Kind: TermReturn, Return: ReturnTerm{HasValue: true, Value: v}})
}

func TestConstantFolding(t *testing.T) {
	f := NewFunc("fold", TInt32, nil)
	a := constI32(f, f.Entry, 6)
	b := constI32(f, f.Entry, 7)
	m := bin(f, f.Entry, OpMul, TInt32, a, b)
	ret(f, f.Entry, m)

	combineInstructions(f)

	in := f.Instr(m)
	if in.Kind != InstrConst || in.Const.Bits != 42 {
		t.Fatalf("mul not folded: kind=%d bits=%d", in.Kind, in.Const.Bits)
	}
}

func TestFoldWrapsAtLaneWidth(t *testing.T) {
	f := NewFunc("wrap", TInt8, nil)
	a := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TInt8, Const: ConstInstr{Bits: 0xFF}})
	b := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TInt8, Const: ConstInstr{Bits: 2}})
	s := bin(f, f.Entry, OpAdd, TInt8, a, b)
	ret(f, f.Entry, s)

	combineInstructions(f)

	if got := f.Instr(s).Const.Bits; got != 1 {
		t.Fatalf("0xFF+2 at 8 bits = %#x, want 0x1", got)
	}
}

func TestFoldSignedDivision(t *testing.T) {
	f := NewFunc("sdiv", TInt32, nil)
	a := constI32(f, f.Entry, uint64(uint32(0x80000000))) // INT32_MIN
	b := constI32(f, f.Entry, 2)
	q := bin(f, f.Entry, OpSDiv, TInt32, a, b)
	ret(f, f.Entry, q)

	combineInstructions(f)

	wantI32 := int32(-(1 << 30))
	want := uint64(uint32(wantI32))
	if got := laneMask(TInt32, f.Instr(q).Const.Bits); got != want {
		t.Fatalf("INT32_MIN/2 = %#x, want %#x", got, want)
	}
}

func TestFoldDivisionByZeroLeftAlone(t *testing.T) {
	f := NewFunc("divz", TInt32, nil)
	a := constI32(f, f.Entry, 9)
	z := constI32(f, f.Entry, 0)
	q := bin(f, f.Entry, OpSDiv, TInt32, a, z)
	ret(f, f.Entry, q)

	combineInstructions(f)

	if f.Instr(q).Kind != InstrBin {
		t.Fatal("division by constant zero must survive to execution")
	}
}

func TestFoldFloatNaNComparesFalse(t *testing.T) {
	f := NewFunc("nan", TBool, nil)
	nan := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TFloat32,
		Const: ConstInstr{Bits: uint64(math.Float32bits(float32(math.NaN())))}})
	c := f.Append(f.Entry, Instr{Kind: InstrCmp, Type: TBool, Cmp: CmpInstr{Pred: PredFOEQ, X: nan, Y: nan}})
	ret(f, f.Entry, c)

	combineInstructions(f)

	in := f.Instr(c)
	if in.Kind != InstrConst || in.Const.Bits != 0 {
		t.Fatalf("foeq(NaN, NaN) = %d, want 0", in.Const.Bits)
	}
}

func TestIdentityAddZero(t *testing.T) {
	f := NewFunc("idadd", TInt32, []TypeID{TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	z := constI32(f, f.Entry, 0)
	s := bin(f, f.Entry, OpAdd, TInt32, x, z)
	ret(f, f.Entry, s)

	combineInstructions(f)

	if f.Block(f.Entry).Term.Return.Value != x {
		t.Fatalf("x+0 not redirected to x: ret v%d", f.Block(f.Entry).Term.Return.Value)
	}
}

func TestIdentityMulZero(t *testing.T) {
	f := NewFunc("idmul", TInt32, []TypeID{TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	z := constI32(f, f.Entry, 0)
	p := bin(f, f.Entry, OpMul, TInt32, x, z)
	ret(f, f.Entry, p)

	combineInstructions(f)

	in := f.Instr(p)
	if in.Kind != InstrConst || in.Const.Bits != 0 {
		t.Fatal("x*0 not folded to 0")
	}
}

func TestSelectConstantCondition(t *testing.T) {
	f := NewFunc("sel", TInt32, []TypeID{TInt32, TInt32})
	a := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	b := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 1}})
	c := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TBool, Const: ConstInstr{Bits: 1}})
	s := f.Append(f.Entry, Instr{Kind: InstrSelect, Type: TInt32, Select: SelectInstr{Cond: c, Then: a, Else: b}})
	ret(f, f.Entry, s)

	combineInstructions(f)

	if f.Block(f.Entry).Term.Return.Value != a {
		t.Fatal("select with true condition not redirected to then-value")
	}
}

func TestDeadCodeElimination(t *testing.T) {
	f := NewFunc("dce", TInt32, []TypeID{TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	c := constI32(f, f.Entry, 3)
	bin(f, f.Entry, OpMul, TInt32, x, c) // result never used
	ret(f, f.Entry, x)

	eliminateDeadCode(f)

	for _, v := range f.Block(f.Entry).Instrs {
		if f.Instr(v).Kind == InstrBin {
			t.Fatal("unused mul survived dead code elimination")
		}
	}
	// x is still referenced by the return.
	found := false
	for _, v := range f.Block(f.Entry).Instrs {
		if v == x {
			found = true
		}
	}
	if !found {
		t.Fatal("live arg removed")
	}
}

func TestDeadCodeKeepsStores(t *testing.T) {
	f := NewFunc("dcestore", TVoid, []TypeID{TPointer})
	p := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TPointer, Arg: ArgInstr{Index: 0}})
	v := constI32(f, f.Entry, 5)
	st := f.Append(f.Entry, Instr{Kind: InstrStore, Type: TVoid,
		Store: StoreInstr{Ptr: p, Val: v, Elem: TInt32}})
	f.SetTerm(f.Entry, Terminator{Kind: TermReturn})

	eliminateDeadCode(f)

	found := false
	for _, id := range f.Block(f.Entry).Instrs {
		if id == st {
			found = true
		}
	}
	if !found {
		t.Fatal("store removed despite its side effect")
	}
}

func TestCFGThreadsEmptyBlocks(t *testing.T) {
	f := NewFunc("thread", TInt32, []TypeID{TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	hop := f.AddBlock()
	end := f.AddBlock()
	f.SetTerm(f.Entry, Terminator{Kind: TermBr, Br: BrTerm{Target: hop}})
	f.SetTerm(hop, Terminator{Kind: TermBr, Br: BrTerm{Target: end}})
	ret(f, end, x)

	simplifyCFG(f)

	if got := f.Block(f.Entry).Term.Br.Target; got != end {
		t.Fatalf("entry branch not threaded: b%d, want b%d", got, end)
	}
}

func TestCFGClearsUnreachable(t *testing.T) {
	f := NewFunc("unreach", TInt32, nil)
	c := constI32(f, f.Entry, 1)
	ret(f, f.Entry, c)
	orphan := f.AddBlock()
	constI32(f, orphan, 9)
	f.SetTerm(orphan, Terminator{Kind: TermBr, Br: BrTerm{Target: f.Entry}})

	simplifyCFG(f)

	b := f.Block(orphan)
	if len(b.Instrs) != 0 || b.Term.Kind != TermUnreachable {
		t.Fatal("unreachable block not cleared")
	}
}

func TestCommonSubexpressions(t *testing.T) {
	f := NewFunc("cse", TInt32, []TypeID{TInt32, TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	y := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 1}})
	a := bin(f, f.Entry, OpAdd, TInt32, x, y)
	b := bin(f, f.Entry, OpAdd, TInt32, x, y)
	s := bin(f, f.Entry, OpMul, TInt32, a, b)
	ret(f, f.Entry, s)

	commonSubexpressions(f)

	in := f.Instr(s)
	if in.Bin.X != a || in.Bin.Y != a {
		t.Fatalf("duplicate add not unified: mul v%d, v%d", in.Bin.X, in.Bin.Y)
	}
	for _, v := range f.Block(f.Entry).Instrs {
		if v == b {
			t.Fatal("duplicate add still listed in block")
		}
	}
}

func TestCSEDoesNotCrossLoads(t *testing.T) {
	f := NewFunc("cseload", TInt32, []TypeID{TPointer})
	p := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TPointer, Arg: ArgInstr{Index: 0}})
	l1 := f.Append(f.Entry, Instr{Kind: InstrLoad, Type: TInt32, Load: LoadInstr{Ptr: p}})
	l2 := f.Append(f.Entry, Instr{Kind: InstrLoad, Type: TInt32, Load: LoadInstr{Ptr: p}})
	s := bin(f, f.Entry, OpAdd, TInt32, l1, l2)
	ret(f, f.Entry, s)

	commonSubexpressions(f)

	in := f.Instr(s)
	if in.Bin.X == in.Bin.Y {
		t.Fatal("loads through the same pointer must not be unified")
	}
}

func TestApplyPipeline(t *testing.T) {
	f := NewFunc("pipe", TInt32, []TypeID{TInt32})
	x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
	two := constI32(f, f.Entry, 2)
	three := constI32(f, f.Entry, 3)
	six := bin(f, f.Entry, OpMul, TInt32, two, three)
	sum := bin(f, f.Entry, OpAdd, TInt32, x, six)
	ret(f, f.Entry, sum)

	m := NewModule()
	m.Add(f)
	Apply(m, []Pass{
		PassCFGSimplification,
		PassInstructionCombining,
		PassAggressiveDCE,
		PassEarlyCSE,
		PassLICM, // unimplemented, must be a no-op
	})

	if in := f.Instr(six); in.Kind != InstrConst || in.Const.Bits != 6 {
		t.Fatal("2*3 not folded through the pipeline")
	}
	if err := Verify(f); err != nil {
		t.Fatalf("pipeline output fails verification: %v", err)
	}
}

func TestVerifyRejectsUnterminated(t *testing.T) {
	f := NewFunc("open", TInt32, nil)
	constI32(f, f.Entry, 1)
	if err := Verify(f); err == nil {
		t.Fatal("unterminated block passed verification")
	}
}

func TestVerifyRejectsNonBoolCondition(t *testing.T) {
	f := NewFunc("badcond", TVoid, nil)
	c := constI32(f, f.Entry, 1)
	then := f.AddBlock()
	els := f.AddBlock()
	f.SetTerm(f.Entry, Terminator{Kind: TermCondBr, CondBr: CondBrTerm{Cond: c, Then: then, Else: els}})
	f.SetTerm(then, Terminator{Kind: TermReturn})
	f.SetTerm(els, Terminator{Kind: TermReturn})
	if err := Verify(f); err == nil {
		t.Fatal("condbr on int32 passed verification")
	}
}

func TestVerifyRejectsReturnTypeMismatch(t *testing.T) {
	f := NewFunc("badret", TInt64, nil)
	c := constI32(f, f.Entry, 1)
	ret(f, f.Entry, c)
	if err := Verify(f); err == nil {
		t.Fatal("int32 return from int64 function passed verification")
	}
}

func TestVerifyRejectsShuffleMaskOutOfRange(t *testing.T) {
	f := NewFunc("badmask", TInt32x4, nil)
	v := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TInt32x4,
		Const: ConstInstr{Lanes: []uint64{1, 2, 3, 4}}})
	s := f.Append(f.Entry, Instr{Kind: InstrShuffle, Type: TInt32x4,
		Shuffle: ShuffleInstr{X: v, Y: v, Mask: []int{0, 1, 2, 8}}})
	ret(f, f.Entry, s)
	if err := Verify(f); err == nil {
		t.Fatal("mask lane 8 over 2x4 lanes passed verification")
	}
}

func TestVerifyRejectsNonBoolSelectCond(t *testing.T) {
	f := NewFunc("badsel", TInt32x4, nil)
	v := f.Append(f.Entry, Instr{Kind: InstrConst, Type: TInt32x4,
		Const: ConstInstr{Lanes: []uint64{1, 2, 3, 4}}})
	s := f.Append(f.Entry, Instr{Kind: InstrSelect, Type: TInt32x4,
		Select: SelectInstr{Cond: v, Then: v, Else: v}})
	ret(f, f.Entry, s)
	if err := Verify(f); err == nil {
		t.Fatal("select on a vector condition passed verification")
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	build := func() *Func {
		f := NewFunc("dump", TInt32, []TypeID{TInt32})
		x := f.Append(f.Entry, Instr{Kind: InstrArg, Type: TInt32, Arg: ArgInstr{Index: 0}})
		c := constI32(f, f.Entry, 7)
		s := bin(f, f.Entry, OpAdd, TInt32, x, c)
		ret(f, f.Entry, s)
		return f
	}
	var a, b strings.Builder
	DumpFunc(&a, build())
	DumpFunc(&b, build())
	if a.String() != b.String() {
		t.Fatal("identical functions printed differently")
	}
	out := a.String()
	for _, want := range []string{"func dump(i32) i32", "b0:", "add i32", "ret v3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestSessionTagsAreUnique(t *testing.T) {
	a := NewFunc("a", TVoid, nil)
	b := NewFunc("b", TVoid, nil)
	if a.Session == b.Session {
		t.Fatal("two sessions share a generation tag")
	}
}

func TestEmulatedTypesLowerToBacking(t *testing.T) {
	if Lower(TInt32x2) != TInt32x4 {
		t.Fatalf("int32x2 lowers to %s", Lower(TInt32x2))
	}
	if Lower(TInt32x4) != TInt32x4 {
		t.Fatal("native type must lower to itself")
	}
	if Size(TInt32x2) != 8 {
		t.Fatalf("logical size of int32x2 = %d", Size(TInt32x2))
	}
	if SlotSize(TInt32x2) != 16 {
		t.Fatalf("slot size of int32x2 = %d", SlotSize(TInt32x2))
	}
}

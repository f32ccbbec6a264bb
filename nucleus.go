package forge

import (
	"math"

	"forge/internal/debug"
	"forge/internal/ir"
)

// Nucleus is one code-generation session: it owns the function under
// construction and the registry of not-yet-materialized locals. A
// Nucleus is confined to the goroutine that created it; independent
// sessions never share state and build in parallel freely.
type Nucleus struct {
	fn   *ir.Func
	cur  ir.BlockID
	vars []*Variable
}

func newNucleus(name string, ret Type, params []Type) *Nucleus {
	ps := make([]ir.TypeID, len(params))
	for i, p := range params {
		ps[i] = ir.TypeID(p)
	}
	n := &Nucleus{fn: ir.NewFunc(name, ir.TypeID(ret), ps)}
	n.cur = n.fn.Entry
	return n
}

// wrap tags an arena index with the session generation.
func (n *Nucleus) wrap(id ir.ValueID) Value {
	return Value{id: id, session: n.fn.Session}
}

// use checks that v belongs to this session and returns its index.
func (n *Nucleus) use(v Value) ir.ValueID {
	debug.Assert(!v.Nil(), "%s: nil value", n.fn.Name)
	debug.Assert(v.session == n.fn.Session,
		"%s: value from session %d used in session %d", n.fn.Name, v.session, n.fn.Session)
	return v.id
}

func (n *Nucleus) emit(in ir.Instr) Value {
	return n.wrap(n.fn.Append(n.cur, in))
}

func (n *Nucleus) typeOf(v Value) ir.TypeID {
	return n.fn.TypeOf(n.use(v))
}

// ---- blocks ----

// CreateBlock adds a new, unterminated basic block.
func (n *Nucleus) CreateBlock() Block {
	return Block(n.fn.AddBlock())
}

// SetInsertBlock moves the insertion point.
func (n *Nucleus) SetInsertBlock(b Block) {
	n.cur = ir.BlockID(b)
}

// InsertBlock returns the current insertion point.
func (n *Nucleus) InsertBlock() Block { return Block(n.cur) }

// ---- constants ----

// Const builds a scalar constant of t from raw bits.
func (n *Nucleus) Const(t Type, bits uint64) Value {
	return n.emit(ir.Instr{Kind: ir.InstrConst, Type: ir.TypeID(t), Const: ir.ConstInstr{Bits: bits}})
}

func (n *Nucleus) ConstBool(v bool) Value {
	bits := uint64(0)
	if v {
		bits = 1
	}
	return n.Const(Bool, bits)
}

func (n *Nucleus) ConstInt32(v int32) Value { return n.Const(Int32, uint64(uint32(v))) }
func (n *Nucleus) ConstInt64(v int64) Value { return n.Const(Int64, uint64(v)) }
func (n *Nucleus) ConstFloat32(v float32) Value {
	return n.Const(Float32, uint64(math.Float32bits(v)))
}
func (n *Nucleus) ConstFloat64(v float64) Value {
	return n.Const(Float64, math.Float64bits(v))
}
func (n *Nucleus) ConstPointer(p uintptr) Value { return n.Const(Pointer, uint64(p)) }

// ConstVector builds a vector constant from per-lane raw bits in lane
// order. The lane count must match the shape's logical lanes.
func (n *Nucleus) ConstVector(t Type, lanes []uint64) Value {
	debug.Assert(len(lanes) == t.Lanes(), "const %s with %d lanes", t, len(lanes))
	ls := make([]uint64, len(lanes))
	copy(ls, lanes)
	return n.emit(ir.Instr{Kind: ir.InstrConst, Type: ir.TypeID(t), Const: ir.ConstInstr{Lanes: ls}})
}

// ---- arithmetic ----

func (n *Nucleus) binary(op ir.BinOp, x, y Value) Value {
	t := n.typeOf(x)
	return n.emit(ir.Instr{Kind: ir.InstrBin, Type: t, Bin: ir.BinInstr{Op: op, X: n.use(x), Y: n.use(y)}})
}

func (n *Nucleus) Add(x, y Value) Value  { return n.binary(ir.OpAdd, x, y) }
func (n *Nucleus) Sub(x, y Value) Value  { return n.binary(ir.OpSub, x, y) }
func (n *Nucleus) Mul(x, y Value) Value  { return n.binary(ir.OpMul, x, y) }
func (n *Nucleus) SDiv(x, y Value) Value { return n.binary(ir.OpSDiv, x, y) }
func (n *Nucleus) UDiv(x, y Value) Value { return n.binary(ir.OpUDiv, x, y) }
func (n *Nucleus) SRem(x, y Value) Value { return n.binary(ir.OpSRem, x, y) }
func (n *Nucleus) URem(x, y Value) Value { return n.binary(ir.OpURem, x, y) }
func (n *Nucleus) And(x, y Value) Value  { return n.binary(ir.OpAnd, x, y) }
func (n *Nucleus) Or(x, y Value) Value   { return n.binary(ir.OpOr, x, y) }
func (n *Nucleus) Xor(x, y Value) Value  { return n.binary(ir.OpXor, x, y) }
func (n *Nucleus) Shl(x, y Value) Value  { return n.binary(ir.OpShl, x, y) }
func (n *Nucleus) LShr(x, y Value) Value { return n.binary(ir.OpLShr, x, y) }
func (n *Nucleus) AShr(x, y Value) Value { return n.binary(ir.OpAShr, x, y) }
func (n *Nucleus) FAdd(x, y Value) Value { return n.binary(ir.OpFAdd, x, y) }
func (n *Nucleus) FSub(x, y Value) Value { return n.binary(ir.OpFSub, x, y) }
func (n *Nucleus) FMul(x, y Value) Value { return n.binary(ir.OpFMul, x, y) }
func (n *Nucleus) FDiv(x, y Value) Value { return n.binary(ir.OpFDiv, x, y) }
func (n *Nucleus) FRem(x, y Value) Value { return n.binary(ir.OpFRem, x, y) }
func (n *Nucleus) SMax(x, y Value) Value { return n.binary(ir.OpSMax, x, y) }
func (n *Nucleus) SMin(x, y Value) Value { return n.binary(ir.OpSMin, x, y) }
func (n *Nucleus) UMax(x, y Value) Value { return n.binary(ir.OpUMax, x, y) }
func (n *Nucleus) UMin(x, y Value) Value { return n.binary(ir.OpUMin, x, y) }
func (n *Nucleus) FMax(x, y Value) Value { return n.binary(ir.OpFMax, x, y) }
func (n *Nucleus) FMin(x, y Value) Value { return n.binary(ir.OpFMin, x, y) }

// Cmp compares x and y under pred. The result is Bool for scalars and a
// lane mask of the operand shape for vectors.
func (n *Nucleus) Cmp(pred Pred, x, y Value) Value {
	xt := n.typeOf(x)
	rt := ir.TBool
	if ir.IsVector(xt) {
		rt = xt
	}
	return n.emit(ir.Instr{Kind: ir.InstrCmp, Type: rt, Cmp: ir.CmpInstr{Pred: ir.CmpPred(pred), X: n.use(x), Y: n.use(y)}})
}

// ---- conversions ----

func (n *Nucleus) cast(op ir.CastOp, x Value, to Type) Value {
	return n.emit(ir.Instr{Kind: ir.InstrCast, Type: ir.TypeID(to), Cast: ir.CastInstr{Op: op, X: n.use(x)}})
}

func (n *Nucleus) Trunc(x Value, to Type) Value   { return n.cast(ir.CastTrunc, x, to) }
func (n *Nucleus) ZExt(x Value, to Type) Value    { return n.cast(ir.CastZExt, x, to) }
func (n *Nucleus) SExt(x Value, to Type) Value    { return n.cast(ir.CastSExt, x, to) }
func (n *Nucleus) FPTrunc(x Value, to Type) Value { return n.cast(ir.CastFPTrunc, x, to) }
func (n *Nucleus) FPExt(x Value, to Type) Value   { return n.cast(ir.CastFPExt, x, to) }
func (n *Nucleus) FPToSI(x Value, to Type) Value  { return n.cast(ir.CastFPToSI, x, to) }
func (n *Nucleus) SIToFP(x Value, to Type) Value  { return n.cast(ir.CastSIToFP, x, to) }
func (n *Nucleus) UIToFP(x Value, to Type) Value  { return n.cast(ir.CastUIToFP, x, to) }

// Bitcast reinterprets x's bits as to. Scalar-vector reinterpretation
// goes through a frame-slot round trip in the backend, which is the
// only form valid for emulated shapes.
func (n *Nucleus) Bitcast(x Value, to Type) Value {
	debug.Assert(n.typeOf(x) == ir.TypeID(to) || ir.Size(n.typeOf(x)) == to.Size(),
		"bitcast %s to %s changes size", n.typeOf(x), to)
	return n.cast(ir.CastBit, x, to)
}

// ---- memory ----

// Load reads a value of t through ptr. An atomic order on a shape with
// no native atomic width is synthesized as a call to the atomic_load
// helper rather than rejected; atomic floats go through a same-width
// integer load first.
func (n *Nucleus) Load(t Type, ptr Value, align int, volatile bool, order MemOrder) Value {
	it := ir.TypeID(t)
	if order != OrderNone {
		if ir.Size(it) > 8 || ir.IsVector(it) {
			return n.atomicFallbackLoad(t, ptr, order)
		}
		if ir.IsFloat(it) {
			iv := n.Load(intShapeOf(t), ptr, align, volatile, order)
			return n.Bitcast(iv, t)
		}
	}
	return n.emit(ir.Instr{Kind: ir.InstrLoad, Type: it,
		Load: ir.LoadInstr{Ptr: n.use(ptr), Align: align, Volatile: volatile, Order: ir.MemOrder(order)}})
}

// Store writes val through ptr with the same atomic rules as Load.
func (n *Nucleus) Store(ptr, val Value, align int, volatile bool, order MemOrder) {
	t := n.typeOf(val)
	if order != OrderNone {
		if ir.Size(t) > 8 || ir.IsVector(t) {
			n.atomicFallbackStore(ptr, val, order)
			return
		}
		if ir.IsFloat(t) {
			n.Store(ptr, n.Bitcast(val, intShapeOf(Type(t))), align, volatile, order)
			return
		}
	}
	n.emit(ir.Instr{Kind: ir.InstrStore, Type: ir.TVoid,
		Store: ir.StoreInstr{Ptr: n.use(ptr), Val: n.use(val), Elem: t, Align: align, Volatile: volatile, Order: ir.MemOrder(order)}})
}

func intShapeOf(t Type) Type {
	switch t {
	case Float32:
		return Int32
	case Float64:
		return Int64
	}
	debug.Unreachable("no integer shape for %s", t)
	return Void
}

// atomicFallbackLoad calls the fixed-signature helper
// (size, ptr, resultPtr, ordering) and reads the result back out of a
// scratch slot.
func (n *Nucleus) atomicFallbackLoad(t Type, ptr Value, order MemOrder) Value {
	tmp := n.Alloca(t)
	n.Call("atomic_load", Void,
		n.ConstInt64(int64(t.Size())), ptr, tmp, n.ConstInt64(int64(order)))
	return n.Load(t, tmp, 0, false, OrderNone)
}

func (n *Nucleus) atomicFallbackStore(ptr, val Value, order MemOrder) {
	t := Type(n.typeOf(val))
	tmp := n.Alloca(t)
	n.Store(tmp, val, 0, false, OrderNone)
	n.Call("atomic_store", Void,
		n.ConstInt64(int64(t.Size())), ptr, tmp, n.ConstInt64(int64(order)))
}

// Alloca reserves frame storage for one value of t in the entry block
// and returns its address.
func (n *Nucleus) Alloca(t Type) Value {
	return n.wrap(n.fn.Prepend(n.fn.Entry,
		ir.Instr{Kind: ir.InstrAlloca, Type: ir.TPointer, Alloca: ir.AllocaInstr{Elem: ir.TypeID(t)}}))
}

// GEP computes base + index*sizeof(elem). Emulated element shapes
// stride by their logical size, matching their packing in user memory.
func (n *Nucleus) GEP(elem Type, base, index Value, unsigned bool) Value {
	return n.emit(ir.Instr{Kind: ir.InstrGEP, Type: ir.TPointer,
		GEP: ir.GEPInstr{Base: n.use(base), Index: n.use(index), Elem: ir.TypeID(elem), Unsigned: unsigned}})
}

// ---- lanes ----

func (n *Nucleus) ExtractLane(x Value, lane int) Value {
	t := n.typeOf(x)
	return n.emit(ir.Instr{Kind: ir.InstrExtract, Type: ir.ScalarOf(t),
		Extract: ir.ExtractInstr{X: n.use(x), Lane: lane}})
}

func (n *Nucleus) InsertLane(x, val Value, lane int) Value {
	return n.emit(ir.Instr{Kind: ir.InstrInsert, Type: n.typeOf(x),
		Insert: ir.InsertInstr{X: n.use(x), Val: n.use(val), Lane: lane}})
}

// Shuffle permutes the concatenation of x and y by a constant mask;
// entry i selects lane mask[i], with x's lanes numbered first.
func (n *Nucleus) Shuffle(x, y Value, mask []int) Value {
	m := make([]int, len(mask))
	copy(m, mask)
	return n.emit(ir.Instr{Kind: ir.InstrShuffle, Type: n.typeOf(x),
		Shuffle: ir.ShuffleInstr{X: n.use(x), Y: n.use(y), Mask: m}})
}

func (n *Nucleus) Select(cond, then, els Value) Value {
	return n.emit(ir.Instr{Kind: ir.InstrSelect, Type: n.typeOf(then),
		Select: ir.SelectInstr{Cond: n.use(cond), Then: n.use(then), Else: n.use(els)}})
}

// Call invokes a runtime symbol from the fixed resolution table. The
// symbol is checked at link time; an unknown name is a fatal
// configuration error there, not here.
func (n *Nucleus) Call(sym string, ret Type, args ...Value) Value {
	ids := make([]ir.ValueID, len(args))
	for i, a := range args {
		ids[i] = n.use(a)
	}
	return n.emit(ir.Instr{Kind: ir.InstrCall, Type: ir.TypeID(ret),
		Call: ir.CallInstr{Sym: sym, Args: ids}})
}

// ---- control flow ----

// Branch jumps to target. All pending locals materialize first so their
// values survive the block boundary.
func (n *Nucleus) Branch(target Block) {
	n.materializeAll()
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermBr, Br: ir.BrTerm{Target: ir.BlockID(target)}})
	n.killUnmaterialized()
}

// CondBranch branches on a Bool condition.
func (n *Nucleus) CondBranch(cond Value, then, els Block) {
	id := n.use(cond)
	n.materializeAll()
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermCondBr,
		CondBr: ir.CondBrTerm{Cond: id, Then: ir.BlockID(then), Else: ir.BlockID(els)}})
	n.killUnmaterialized()
}

// Switch branches to the case matching v, or to def.
func (n *Nucleus) Switch(v Value, def Block, cases map[int64]Block) {
	id := n.use(v)
	n.materializeAll()
	cs := make([]ir.SwitchCase, 0, len(cases))
	for val, target := range cases {
		cs = append(cs, ir.SwitchCase{Value: val, Target: ir.BlockID(target)})
	}
	sortCases(cs)
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermSwitch,
		Switch: ir.SwitchTerm{Value: id, Cases: cs, Default: ir.BlockID(def)}})
	n.killUnmaterialized()
}

func sortCases(cs []ir.SwitchCase) {
	// Deterministic emission order regardless of map iteration.
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].Value < cs[j-1].Value; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// Return terminates the current block returning v.
func (n *Nucleus) Return(v Value) {
	id := n.use(v)
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermReturn,
		Return: ir.ReturnTerm{HasValue: true, Value: id}})
	n.killUnmaterialized()
}

// ReturnVoid terminates the current block with no value.
func (n *Nucleus) ReturnVoid() {
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermReturn})
	n.killUnmaterialized()
}

// Unreachable marks the current block as never reached.
func (n *Nucleus) Unreachable() {
	n.fn.SetTerm(n.cur, ir.Terminator{Kind: ir.TermUnreachable})
	n.killUnmaterialized()
}

// Terminated reports whether the current block already has a terminator.
func (n *Nucleus) Terminated() bool {
	return n.fn.Block(n.cur).Terminated()
}

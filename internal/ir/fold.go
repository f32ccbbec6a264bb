package ir

import "math"

// combineInstructions folds constant operands and applies algebraic
// identities. Folding morphs the instruction into a constant in place;
// identities redirect uses to an existing value.
func combineInstructions(f *Func) {
	repl := make(map[ValueID]ValueID)
	for bi := range f.Blocks {
		for _, v := range f.Blocks[bi].Instrs {
			in := f.Instr(v)
			switch in.Kind {
			case InstrBin:
				combineBin(f, v, in, repl)
			case InstrCmp:
				foldCmp(f, in)
			case InstrCast:
				foldCast(f, in)
			case InstrSelect:
				if c, ok := constScalar(f, in.Select.Cond); ok {
					if c != 0 {
						repl[v] = in.Select.Then
					} else {
						repl[v] = in.Select.Else
					}
				}
			}
		}
	}
	rewriteUses(f, repl)
}

// constScalar returns the bits of v when it is a scalar constant.
func constScalar(f *Func, v ValueID) (uint64, bool) {
	in := f.Instr(v)
	if in.Kind != InstrConst || IsVector(in.Type) {
		return 0, false
	}
	return in.Const.Bits, true
}

// laneMask truncates bits to the lane width of t.
func laneMask(t TypeID, bits uint64) uint64 {
	w := Info(t).LaneBits
	if w >= 64 {
		return bits
	}
	return bits & (1<<uint(w) - 1)
}

// signExtend widens the low w bits of x to a signed 64-bit value.
func signExtend(x uint64, w int) int64 {
	shift := uint(64 - w)
	return int64(x<<shift) >> shift
}

func combineBin(f *Func, v ValueID, in *Instr, repl map[ValueID]ValueID) {
	x, xok := constScalar(f, in.Bin.X)
	y, yok := constScalar(f, in.Bin.Y)

	if xok && yok {
		if bits, ok := foldBinConst(in.Type, in.Bin.Op, x, y); ok {
			*in = Instr{Kind: InstrConst, Type: in.Type, Const: ConstInstr{Bits: bits}}
			return
		}
	}

	// Algebraic identities; only the forms that hold for all operands.
	switch in.Bin.Op {
	case OpAdd, OpOr, OpXor, OpShl, OpLShr, OpAShr:
		if yok && y == 0 {
			repl[v] = in.Bin.X
		} else if xok && x == 0 && (in.Bin.Op == OpAdd || in.Bin.Op == OpOr || in.Bin.Op == OpXor) {
			repl[v] = in.Bin.Y
		}
	case OpSub:
		if yok && y == 0 {
			repl[v] = in.Bin.X
		}
	case OpMul:
		if yok && y == 1 {
			repl[v] = in.Bin.X
		} else if xok && x == 1 {
			repl[v] = in.Bin.Y
		} else if (yok && y == 0) || (xok && x == 0) {
			*in = Instr{Kind: InstrConst, Type: in.Type, Const: ConstInstr{}}
		}
	case OpAnd:
		if (yok && y == 0) || (xok && x == 0) {
			*in = Instr{Kind: InstrConst, Type: in.Type, Const: ConstInstr{}}
		}
	}
}

func foldBinConst(t TypeID, op BinOp, x, y uint64) (uint64, bool) {
	w := Info(t).LaneBits
	switch op {
	case OpAdd:
		return laneMask(t, x+y), true
	case OpSub:
		return laneMask(t, x-y), true
	case OpMul:
		return laneMask(t, x*y), true
	case OpSDiv:
		sy := signExtend(y, w)
		if sy == 0 {
			return 0, false
		}
		return laneMask(t, uint64(signExtend(x, w)/sy)), true
	case OpUDiv:
		if laneMask(t, y) == 0 {
			return 0, false
		}
		return laneMask(t, x) / laneMask(t, y), true
	case OpSRem:
		sy := signExtend(y, w)
		if sy == 0 {
			return 0, false
		}
		return laneMask(t, uint64(signExtend(x, w)%sy)), true
	case OpURem:
		if laneMask(t, y) == 0 {
			return 0, false
		}
		return laneMask(t, x) % laneMask(t, y), true
	case OpAnd:
		return x & y, true
	case OpOr:
		return x | y, true
	case OpXor:
		return x ^ y, true
	case OpShl:
		return laneMask(t, x<<(y&uint64(w-1))), true
	case OpLShr:
		return laneMask(t, x) >> (y & uint64(w-1)), true
	case OpAShr:
		return laneMask(t, uint64(signExtend(x, w)>>(y&uint64(w-1)))), true
	case OpFAdd, OpFSub, OpFMul, OpFDiv, OpFMax, OpFMin:
		return foldFloatBin(t, op, x, y)
	}
	return 0, false
}

func foldFloatBin(t TypeID, op BinOp, x, y uint64) (uint64, bool) {
	wide := Info(t).LaneBits == 64
	var a, b float64
	if wide {
		a, b = math.Float64frombits(x), math.Float64frombits(y)
	} else {
		a, b = float64(math.Float32frombits(uint32(x))), float64(math.Float32frombits(uint32(y)))
	}
	var r float64
	switch op {
	case OpFAdd:
		r = a + b
	case OpFSub:
		r = a - b
	case OpFMul:
		r = a * b
	case OpFDiv:
		r = a / b
	case OpFMax:
		// NaN-propagating like the instruction (second operand on NaN).
		if a > b {
			r = a
		} else {
			r = b
		}
	case OpFMin:
		if a < b {
			r = a
		} else {
			r = b
		}
	default:
		return 0, false
	}
	if wide {
		return math.Float64bits(r), true
	}
	return uint64(math.Float32bits(float32(r))), true
}

func foldCmp(f *Func, in *Instr) {
	if IsVector(f.TypeOf(in.Cmp.X)) {
		return
	}
	x, xok := constScalar(f, in.Cmp.X)
	y, yok := constScalar(f, in.Cmp.Y)
	if !xok || !yok {
		return
	}
	t := f.TypeOf(in.Cmp.X)
	w := Info(t).LaneBits
	var res bool
	switch in.Cmp.Pred {
	case PredEQ:
		res = laneMask(t, x) == laneMask(t, y)
	case PredNE:
		res = laneMask(t, x) != laneMask(t, y)
	case PredSLT:
		res = signExtend(x, w) < signExtend(y, w)
	case PredSLE:
		res = signExtend(x, w) <= signExtend(y, w)
	case PredSGT:
		res = signExtend(x, w) > signExtend(y, w)
	case PredSGE:
		res = signExtend(x, w) >= signExtend(y, w)
	case PredULT:
		res = laneMask(t, x) < laneMask(t, y)
	case PredULE:
		res = laneMask(t, x) <= laneMask(t, y)
	case PredUGT:
		res = laneMask(t, x) > laneMask(t, y)
	case PredUGE:
		res = laneMask(t, x) >= laneMask(t, y)
	default:
		a, b := constFloat(t, x), constFloat(t, y)
		switch in.Cmp.Pred {
		case PredFOEQ:
			res = a == b
		case PredFONE:
			res = !math.IsNaN(a) && !math.IsNaN(b) && a != b
		case PredFOLT:
			res = a < b
		case PredFOLE:
			res = a <= b
		case PredFOGT:
			res = a > b
		case PredFOGE:
			res = a >= b
		default:
			return
		}
	}
	bits := uint64(0)
	if res {
		bits = 1
	}
	*in = Instr{Kind: InstrConst, Type: TBool, Const: ConstInstr{Bits: bits}}
}

func constFloat(t TypeID, bits uint64) float64 {
	if Info(t).LaneBits == 64 {
		return math.Float64frombits(bits)
	}
	return float64(math.Float32frombits(uint32(bits)))
}

func foldCast(f *Func, in *Instr) {
	x, ok := constScalar(f, in.Cast.X)
	if !ok || IsVector(in.Type) {
		return
	}
	src := f.TypeOf(in.Cast.X)
	var bits uint64
	switch in.Cast.Op {
	case CastTrunc:
		bits = laneMask(in.Type, x)
	case CastZExt:
		bits = laneMask(src, x)
	case CastSExt:
		bits = laneMask(in.Type, uint64(signExtend(x, Info(src).LaneBits)))
	case CastFPToSI:
		bits = laneMask(in.Type, uint64(int64(constFloat(src, x))))
	case CastSIToFP:
		v := float64(signExtend(x, Info(src).LaneBits))
		if Info(in.Type).LaneBits == 64 {
			bits = math.Float64bits(v)
		} else {
			bits = uint64(math.Float32bits(float32(v)))
		}
	case CastUIToFP:
		v := float64(laneMask(src, x))
		if Info(in.Type).LaneBits == 64 {
			bits = math.Float64bits(v)
		} else {
			bits = uint64(math.Float32bits(float32(v)))
		}
	case CastFPExt:
		bits = math.Float64bits(constFloat(src, x))
	case CastFPTrunc:
		bits = uint64(math.Float32bits(float32(constFloat(src, x))))
	case CastBit:
		if Size(Lower(src)) != Size(Lower(in.Type)) {
			return
		}
		bits = x
	default:
		return
	}
	*in = Instr{Kind: InstrConst, Type: in.Type, Const: ConstInstr{Bits: bits}}
}

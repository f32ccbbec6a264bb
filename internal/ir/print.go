package ir

import (
	"fmt"
	"io"
	"math"
	"strings"
)

var binOpNames = map[BinOp]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpSDiv: "sdiv", OpUDiv: "udiv", OpSRem: "srem", OpURem: "urem",
	OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpLShr: "lshr", OpAShr: "ashr",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv", OpFRem: "frem",
	OpSMax: "smax", OpSMin: "smin", OpUMax: "umax", OpUMin: "umin",
	OpFMax: "fmax", OpFMin: "fmin",
}

var predNames = map[CmpPred]string{
	PredEQ: "eq", PredNE: "ne",
	PredSLT: "slt", PredSLE: "sle", PredSGT: "sgt", PredSGE: "sge",
	PredULT: "ult", PredULE: "ule", PredUGT: "ugt", PredUGE: "uge",
	PredFOEQ: "foeq", PredFONE: "fone",
	PredFOLT: "folt", PredFOLE: "fole", PredFOGT: "fogt", PredFOGE: "foge",
}

var castOpNames = map[CastOp]string{
	CastTrunc: "trunc", CastZExt: "zext", CastSExt: "sext",
	CastFPTrunc: "fptrunc", CastFPExt: "fpext",
	CastFPToSI: "fptosi", CastSIToFP: "sitofp", CastUIToFP: "uitofp",
	CastBit: "bitcast",
}

// DumpModule writes a stable, human-readable rendering of m. The output is
// also the basis of the routine-cache key, so it must be deterministic.
func DumpModule(w io.Writer, m *Module) {
	for i, f := range m.Funcs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		DumpFunc(w, f)
	}
}

// DumpFunc writes one function.
func DumpFunc(w io.Writer, f *Func) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	fmt.Fprintf(w, "func %s(%s) %s\n", f.Name, strings.Join(params, ", "), f.Result)
	for bi := range f.Blocks {
		b := &f.Blocks[bi]
		fmt.Fprintf(w, "b%d:\n", b.ID)
		for _, v := range b.Instrs {
			fmt.Fprintf(w, "  v%d = %s\n", v, formatInstr(f, f.Instr(v)))
		}
		fmt.Fprintf(w, "  %s\n", formatTerm(&b.Term))
	}
}

func formatInstr(f *Func, in *Instr) string {
	switch in.Kind {
	case InstrConst:
		return formatConst(in)
	case InstrArg:
		return fmt.Sprintf("arg %d %s", in.Arg.Index, in.Type)
	case InstrAlloca:
		return fmt.Sprintf("alloca %s", in.Alloca.Elem)
	case InstrLoad:
		return fmt.Sprintf("load %s, v%d%s", in.Type, in.Load.Ptr, memFlags(in.Load.Volatile, in.Load.Order, in.Load.Align))
	case InstrStore:
		return fmt.Sprintf("store %s v%d, v%d%s", in.Store.Elem, in.Store.Val, in.Store.Ptr, memFlags(in.Store.Volatile, in.Store.Order, in.Store.Align))
	case InstrBin:
		return fmt.Sprintf("%s %s v%d, v%d", binOpNames[in.Bin.Op], in.Type, in.Bin.X, in.Bin.Y)
	case InstrCmp:
		return fmt.Sprintf("cmp %s v%d, v%d", predNames[in.Cmp.Pred], in.Cmp.X, in.Cmp.Y)
	case InstrCast:
		return fmt.Sprintf("%s v%d to %s", castOpNames[in.Cast.Op], in.Cast.X, in.Type)
	case InstrGEP:
		u := ""
		if in.GEP.Unsigned {
			u = " unsigned"
		}
		return fmt.Sprintf("gep %s v%d, v%d%s", in.GEP.Elem, in.GEP.Base, in.GEP.Index, u)
	case InstrExtract:
		return fmt.Sprintf("extract v%d, %d", in.Extract.X, in.Extract.Lane)
	case InstrInsert:
		return fmt.Sprintf("insert v%d, v%d, %d", in.Insert.X, in.Insert.Val, in.Insert.Lane)
	case InstrShuffle:
		return fmt.Sprintf("shuffle v%d, v%d, %v", in.Shuffle.X, in.Shuffle.Y, in.Shuffle.Mask)
	case InstrSelect:
		return fmt.Sprintf("select v%d, v%d, v%d", in.Select.Cond, in.Select.Then, in.Select.Else)
	case InstrCall:
		args := make([]string, len(in.Call.Args))
		for i, a := range in.Call.Args {
			args[i] = fmt.Sprintf("v%d", a)
		}
		return fmt.Sprintf("call %s %s(%s)", in.Type, in.Call.Sym, strings.Join(args, ", "))
	}
	return fmt.Sprintf("?kind%d", in.Kind)
}

func formatConst(in *Instr) string {
	info := Info(in.Type)
	if len(in.Const.Lanes) > 0 {
		lanes := make([]string, len(in.Const.Lanes))
		for i, l := range in.Const.Lanes {
			lanes[i] = formatLane(info, l)
		}
		return fmt.Sprintf("const %s [%s]", in.Type, strings.Join(lanes, ", "))
	}
	return fmt.Sprintf("const %s %s", in.Type, formatLane(info, in.Const.Bits))
}

func formatLane(info TypeInfo, bits uint64) string {
	if info.Kind == KindFloat {
		if info.LaneBits == 64 {
			return fmt.Sprintf("%g", math.Float64frombits(bits))
		}
		return fmt.Sprintf("%g", math.Float32frombits(uint32(bits)))
	}
	return fmt.Sprintf("%#x", bits)
}

func memFlags(volatile bool, order MemOrder, align int) string {
	s := ""
	if volatile {
		s += " volatile"
	}
	if order != OrderNone {
		s += fmt.Sprintf(" atomic(%d)", order)
	}
	if align != 0 {
		s += fmt.Sprintf(" align %d", align)
	}
	return s
}

func formatTerm(t *Terminator) string {
	switch t.Kind {
	case TermNone:
		return "<unterminated>"
	case TermReturn:
		if t.Return.HasValue {
			return fmt.Sprintf("ret v%d", t.Return.Value)
		}
		return "ret"
	case TermBr:
		return fmt.Sprintf("br b%d", t.Br.Target)
	case TermCondBr:
		return fmt.Sprintf("condbr v%d, b%d, b%d", t.CondBr.Cond, t.CondBr.Then, t.CondBr.Else)
	case TermSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch v%d [", t.Switch.Value)
		for i, c := range t.Switch.Cases {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%d: b%d", c.Value, c.Target)
		}
		fmt.Fprintf(&sb, "] default b%d", t.Switch.Default)
		return sb.String()
	case TermUnreachable:
		return "unreachable"
	}
	return "?term"
}

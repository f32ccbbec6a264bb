package ir

import "fmt"

// Verify checks structural and shape invariants of f. A failure indicates a
// bug in the generating code; callers treat it as fatal.
func Verify(f *Func) error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("%s: no blocks", f.Name)
	}
	for bi := range f.Blocks {
		b := &f.Blocks[bi]
		if b.Term.Kind == TermNone {
			return fmt.Errorf("%s: block b%d is unterminated", f.Name, b.ID)
		}
		for _, v := range b.Instrs {
			if v == NoValue || int(v) > len(f.Instrs) {
				return fmt.Errorf("%s: block b%d references bad value v%d", f.Name, b.ID, v)
			}
			if err := verifyInstr(f, v); err != nil {
				return fmt.Errorf("%s: b%d: v%d: %w", f.Name, b.ID, v, err)
			}
		}
		if err := verifyTerm(f, b); err != nil {
			return fmt.Errorf("%s: b%d: %w", f.Name, b.ID, err)
		}
	}
	return nil
}

func verifyInstr(f *Func, v ValueID) error {
	in := f.Instr(v)
	check := func(op ValueID) error {
		if op == NoValue || int(op) > len(f.Instrs) {
			return fmt.Errorf("bad operand v%d", op)
		}
		return nil
	}
	sameType := func(x, y ValueID) error {
		if err := check(x); err != nil {
			return err
		}
		if err := check(y); err != nil {
			return err
		}
		if f.TypeOf(x) != f.TypeOf(y) {
			return fmt.Errorf("shape mismatch: v%d is %s, v%d is %s", x, f.TypeOf(x), y, f.TypeOf(y))
		}
		return nil
	}

	switch in.Kind {
	case InstrConst:
		info := Info(in.Type)
		if info.Lanes > 1 && len(in.Const.Lanes) != info.Lanes {
			return fmt.Errorf("vector const has %d lanes, want %d", len(in.Const.Lanes), info.Lanes)
		}
	case InstrArg:
		if in.Arg.Index < 0 || in.Arg.Index >= len(f.Params) {
			return fmt.Errorf("argument index %d out of range", in.Arg.Index)
		}
		if f.Params[in.Arg.Index] != in.Type {
			return fmt.Errorf("argument %d is %s, accessor says %s", in.Arg.Index, f.Params[in.Arg.Index], in.Type)
		}
	case InstrAlloca:
		if in.Type != TPointer {
			return fmt.Errorf("alloca must yield ptr, has %s", in.Type)
		}
	case InstrLoad:
		if err := check(in.Load.Ptr); err != nil {
			return err
		}
		if f.TypeOf(in.Load.Ptr) != TPointer {
			return fmt.Errorf("load through non-pointer %s", f.TypeOf(in.Load.Ptr))
		}
	case InstrStore:
		if err := check(in.Store.Ptr); err != nil {
			return err
		}
		if err := check(in.Store.Val); err != nil {
			return err
		}
		if f.TypeOf(in.Store.Ptr) != TPointer {
			return fmt.Errorf("store through non-pointer %s", f.TypeOf(in.Store.Ptr))
		}
		if f.TypeOf(in.Store.Val) != in.Store.Elem {
			return fmt.Errorf("store of %s as %s", f.TypeOf(in.Store.Val), in.Store.Elem)
		}
	case InstrBin:
		if err := sameType(in.Bin.X, in.Bin.Y); err != nil {
			return err
		}
		if f.TypeOf(in.Bin.X) != in.Type {
			return fmt.Errorf("result shape %s differs from operand %s", in.Type, f.TypeOf(in.Bin.X))
		}
	case InstrCmp:
		if err := sameType(in.Cmp.X, in.Cmp.Y); err != nil {
			return err
		}
		opnd := f.TypeOf(in.Cmp.X)
		if IsVector(opnd) {
			if Info(in.Type).Lanes != Info(opnd).Lanes {
				return fmt.Errorf("vector cmp result %s does not match operand %s", in.Type, opnd)
			}
		} else if in.Type != TBool {
			return fmt.Errorf("scalar cmp must yield i1, has %s", in.Type)
		}
	case InstrCast:
		if err := check(in.Cast.X); err != nil {
			return err
		}
	case InstrGEP:
		if err := check(in.GEP.Base); err != nil {
			return err
		}
		if err := check(in.GEP.Index); err != nil {
			return err
		}
		if f.TypeOf(in.GEP.Base) != TPointer {
			return fmt.Errorf("gep over non-pointer %s", f.TypeOf(in.GEP.Base))
		}
	case InstrExtract:
		if err := check(in.Extract.X); err != nil {
			return err
		}
		if lanes := Info(f.TypeOf(in.Extract.X)).Lanes; in.Extract.Lane < 0 || in.Extract.Lane >= lanes {
			return fmt.Errorf("extract lane %d of %d-lane vector", in.Extract.Lane, lanes)
		}
	case InstrInsert:
		if err := check(in.Insert.X); err != nil {
			return err
		}
		if err := check(in.Insert.Val); err != nil {
			return err
		}
		if lanes := Info(f.TypeOf(in.Insert.X)).Lanes; in.Insert.Lane < 0 || in.Insert.Lane >= lanes {
			return fmt.Errorf("insert lane %d of %d-lane vector", in.Insert.Lane, lanes)
		}
	case InstrShuffle:
		if err := sameType(in.Shuffle.X, in.Shuffle.Y); err != nil {
			return err
		}
		max := 2 * Info(f.TypeOf(in.Shuffle.X)).Lanes
		for _, m := range in.Shuffle.Mask {
			if m < 0 || m >= max {
				return fmt.Errorf("shuffle mask entry %d out of range [0,%d)", m, max)
			}
		}
	case InstrSelect:
		if err := check(in.Select.Cond); err != nil {
			return err
		}
		if cond := f.TypeOf(in.Select.Cond); cond != TBool {
			return fmt.Errorf("select on non-i1 %s", cond)
		}
		if err := sameType(in.Select.Then, in.Select.Else); err != nil {
			return err
		}
		if f.TypeOf(in.Select.Then) != in.Type {
			return fmt.Errorf("result shape %s differs from arm %s", in.Type, f.TypeOf(in.Select.Then))
		}
	case InstrCall:
		for _, a := range in.Call.Args {
			if err := check(a); err != nil {
				return err
			}
		}
		if in.Call.Sym == "" {
			return fmt.Errorf("call with empty symbol")
		}
	}
	return nil
}

func verifyTerm(f *Func, b *Block) error {
	checkBlock := func(id BlockID) error {
		if int(id) >= len(f.Blocks) {
			return fmt.Errorf("branch to missing block b%d", id)
		}
		return nil
	}
	switch b.Term.Kind {
	case TermReturn:
		if b.Term.Return.HasValue {
			if f.Result == TVoid {
				return fmt.Errorf("value return from void function")
			}
			if got := f.TypeOf(b.Term.Return.Value); got != f.Result {
				return fmt.Errorf("return of %s from %s function", got, f.Result)
			}
		} else if f.Result != TVoid {
			return fmt.Errorf("bare return from %s function", f.Result)
		}
	case TermBr:
		return checkBlock(b.Term.Br.Target)
	case TermCondBr:
		if f.TypeOf(b.Term.CondBr.Cond) != TBool {
			return fmt.Errorf("condbr on non-i1 %s", f.TypeOf(b.Term.CondBr.Cond))
		}
		if err := checkBlock(b.Term.CondBr.Then); err != nil {
			return err
		}
		return checkBlock(b.Term.CondBr.Else)
	case TermSwitch:
		for _, c := range b.Term.Switch.Cases {
			if err := checkBlock(c.Target); err != nil {
				return err
			}
		}
		return checkBlock(b.Term.Switch.Default)
	}
	return nil
}

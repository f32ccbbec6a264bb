package ir

// Pass names one optimization pass. Values not implemented by this backend
// are tolerated as no-ops so callers can carry pass lists written for a
// richer backend.
type Pass uint8

const (
	PassDisabled Pass = iota
	PassCFGSimplification
	PassLICM
	PassAggressiveDCE
	PassGVN
	PassInstructionCombining
	PassReassociate
	PassDeadStoreElimination
	PassSCCP
	PassScalarReplAggregates
	PassEarlyCSE
)

// Apply runs the listed passes over every function of m, in order. Unknown
// and disabled passes are skipped.
func Apply(m *Module, passes []Pass) {
	for _, f := range m.Funcs {
		for _, p := range passes {
			switch p {
			case PassCFGSimplification:
				simplifyCFG(f)
			case PassAggressiveDCE:
				eliminateDeadCode(f)
			case PassInstructionCombining:
				combineInstructions(f)
			case PassSCCP:
				// Iterated folding catches chains the single pass missed.
				combineInstructions(f)
				combineInstructions(f)
			case PassEarlyCSE:
				commonSubexpressions(f)
			default:
				// Disabled, unimplemented or unknown: legal no-op.
			}
		}
	}
}

// rewriteUses replaces operand references per repl in every instruction and
// terminator of f.
func rewriteUses(f *Func, repl map[ValueID]ValueID) {
	if len(repl) == 0 {
		return
	}
	get := func(v ValueID) ValueID {
		// Chase chains so a->b, b->c resolves to c.
		for {
			n, ok := repl[v]
			if !ok {
				return v
			}
			v = n
		}
	}
	for i := range f.Instrs {
		in := &f.Instrs[i]
		switch in.Kind {
		case InstrLoad:
			in.Load.Ptr = get(in.Load.Ptr)
		case InstrStore:
			in.Store.Ptr = get(in.Store.Ptr)
			in.Store.Val = get(in.Store.Val)
		case InstrBin:
			in.Bin.X = get(in.Bin.X)
			in.Bin.Y = get(in.Bin.Y)
		case InstrCmp:
			in.Cmp.X = get(in.Cmp.X)
			in.Cmp.Y = get(in.Cmp.Y)
		case InstrCast:
			in.Cast.X = get(in.Cast.X)
		case InstrGEP:
			in.GEP.Base = get(in.GEP.Base)
			in.GEP.Index = get(in.GEP.Index)
		case InstrExtract:
			in.Extract.X = get(in.Extract.X)
		case InstrInsert:
			in.Insert.X = get(in.Insert.X)
			in.Insert.Val = get(in.Insert.Val)
		case InstrShuffle:
			in.Shuffle.X = get(in.Shuffle.X)
			in.Shuffle.Y = get(in.Shuffle.Y)
		case InstrSelect:
			in.Select.Cond = get(in.Select.Cond)
			in.Select.Then = get(in.Select.Then)
			in.Select.Else = get(in.Select.Else)
		case InstrCall:
			for i := range in.Call.Args {
				in.Call.Args[i] = get(in.Call.Args[i])
			}
		}
	}
	for bi := range f.Blocks {
		t := &f.Blocks[bi].Term
		switch t.Kind {
		case TermReturn:
			if t.Return.HasValue {
				t.Return.Value = get(t.Return.Value)
			}
		case TermCondBr:
			t.CondBr.Cond = get(t.CondBr.Cond)
		case TermSwitch:
			t.Switch.Value = get(t.Switch.Value)
		}
	}
}

// operands appends the ValueIDs read by in to buf.
func operands(in *Instr, buf []ValueID) []ValueID {
	switch in.Kind {
	case InstrLoad:
		buf = append(buf, in.Load.Ptr)
	case InstrStore:
		buf = append(buf, in.Store.Ptr, in.Store.Val)
	case InstrBin:
		buf = append(buf, in.Bin.X, in.Bin.Y)
	case InstrCmp:
		buf = append(buf, in.Cmp.X, in.Cmp.Y)
	case InstrCast:
		buf = append(buf, in.Cast.X)
	case InstrGEP:
		buf = append(buf, in.GEP.Base, in.GEP.Index)
	case InstrExtract:
		buf = append(buf, in.Extract.X)
	case InstrInsert:
		buf = append(buf, in.Insert.X, in.Insert.Val)
	case InstrShuffle:
		buf = append(buf, in.Shuffle.X, in.Shuffle.Y)
	case InstrSelect:
		buf = append(buf, in.Select.Cond, in.Select.Then, in.Select.Else)
	case InstrCall:
		buf = append(buf, in.Call.Args...)
	}
	return buf
}

// simplifyCFG drops instructions from unreachable blocks and threads
// unconditional jumps through empty forwarding blocks. Block IDs stay
// stable; unreachable blocks keep an Unreachable terminator.
func simplifyCFG(f *Func) {
	// Reachability from the entry block.
	reached := make([]bool, len(f.Blocks))
	stack := []BlockID{f.Entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		t := &f.Blocks[id].Term
		switch t.Kind {
		case TermBr:
			stack = append(stack, t.Br.Target)
		case TermCondBr:
			stack = append(stack, t.CondBr.Then, t.CondBr.Else)
		case TermSwitch:
			for _, c := range t.Switch.Cases {
				stack = append(stack, c.Target)
			}
			stack = append(stack, t.Switch.Default)
		}
	}
	for bi := range f.Blocks {
		if !reached[bi] {
			f.Blocks[bi].Instrs = nil
			f.Blocks[bi].Term = Terminator{Kind: TermUnreachable}
		}
	}

	// forward(b) is the final destination of a chain of empty Br blocks.
	forward := func(id BlockID) BlockID {
		for hops := 0; hops < len(f.Blocks); hops++ {
			b := &f.Blocks[id]
			if len(b.Instrs) != 0 || b.Term.Kind != TermBr || b.Term.Br.Target == id {
				return id
			}
			id = b.Term.Br.Target
		}
		return id
	}
	for bi := range f.Blocks {
		t := &f.Blocks[bi].Term
		switch t.Kind {
		case TermBr:
			t.Br.Target = forward(t.Br.Target)
		case TermCondBr:
			t.CondBr.Then = forward(t.CondBr.Then)
			t.CondBr.Else = forward(t.CondBr.Else)
		case TermSwitch:
			for ci := range t.Switch.Cases {
				t.Switch.Cases[ci].Target = forward(t.Switch.Cases[ci].Target)
			}
			t.Switch.Default = forward(t.Switch.Default)
		}
	}
}

// eliminateDeadCode removes side-effect-free instructions whose results are
// never used.
func eliminateDeadCode(f *Func) {
	live := make([]bool, len(f.Instrs)+1)
	var buf []ValueID

	mark := func(v ValueID) {
		stack := []ValueID{v}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if id == NoValue || live[id] {
				continue
			}
			live[id] = true
			buf = operands(f.Instr(id), buf[:0])
			stack = append(stack, buf...)
		}
	}

	for bi := range f.Blocks {
		b := &f.Blocks[bi]
		for _, v := range b.Instrs {
			if f.HasSideEffects(v) {
				mark(v)
			}
		}
		t := &b.Term
		switch t.Kind {
		case TermReturn:
			if t.Return.HasValue {
				mark(t.Return.Value)
			}
		case TermCondBr:
			mark(t.CondBr.Cond)
		case TermSwitch:
			mark(t.Switch.Value)
		}
	}

	for bi := range f.Blocks {
		b := &f.Blocks[bi]
		kept := b.Instrs[:0]
		for _, v := range b.Instrs {
			if live[v] {
				kept = append(kept, v)
			}
		}
		b.Instrs = kept
	}
}

// commonSubexpressions replaces repeated pure computations within a block by
// the first occurrence. Matches are restricted to one block, which keeps the
// replacement dominating every rewritten use.
func commonSubexpressions(f *Func) {
	repl := make(map[ValueID]ValueID)
	for bi := range f.Blocks {
		seen := make(map[string]ValueID)
		b := &f.Blocks[bi]
		kept := b.Instrs[:0]
		for _, v := range b.Instrs {
			in := f.Instr(v)
			key, ok := cseKey(f, in, repl)
			if !ok {
				kept = append(kept, v)
				continue
			}
			if prev, dup := seen[key]; dup {
				repl[v] = prev
				continue
			}
			seen[key] = v
			kept = append(kept, v)
		}
		b.Instrs = kept
	}
	rewriteUses(f, repl)
}

func cseKey(f *Func, in *Instr, repl map[ValueID]ValueID) (string, bool) {
	canon := func(v ValueID) ValueID {
		for {
			n, ok := repl[v]
			if !ok {
				return v
			}
			v = n
		}
	}
	switch in.Kind {
	case InstrConst:
		key := "c" + in.Type.String() + ":" + formatConst(in)
		return key, true
	case InstrBin:
		return keyOf("b", uint64(in.Bin.Op), uint64(in.Type), uint64(canon(in.Bin.X)), uint64(canon(in.Bin.Y))), true
	case InstrCmp:
		return keyOf("p", uint64(in.Cmp.Pred), uint64(in.Type), uint64(canon(in.Cmp.X)), uint64(canon(in.Cmp.Y))), true
	case InstrCast:
		return keyOf("t", uint64(in.Cast.Op), uint64(in.Type), uint64(canon(in.Cast.X))), true
	case InstrGEP:
		u := uint64(0)
		if in.GEP.Unsigned {
			u = 1
		}
		return keyOf("g", uint64(in.GEP.Elem), u, uint64(canon(in.GEP.Base)), uint64(canon(in.GEP.Index))), true
	case InstrExtract:
		return keyOf("x", uint64(in.Type), uint64(canon(in.Extract.X)), uint64(in.Extract.Lane)), true
	}
	return "", false
}

func keyOf(tag string, parts ...uint64) string {
	buf := make([]byte, 0, len(tag)+8*len(parts))
	buf = append(buf, tag...)
	for _, p := range parts {
		for s := 0; s < 64; s += 8 {
			buf = append(buf, byte(p>>s))
		}
	}
	return string(buf)
}

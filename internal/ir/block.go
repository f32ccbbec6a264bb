package ir

// BlockID names a basic block within one Func.
type BlockID uint32

// TermKind enumerates terminator kinds.
type TermKind uint8

const (
	// TermNone marks a block still under construction. A finished function
	// must not contain one.
	TermNone TermKind = iota
	// TermReturn leaves the function.
	TermReturn
	// TermBr jumps unconditionally.
	TermBr
	// TermCondBr branches on a scalar condition.
	TermCondBr
	// TermSwitch branches on an integer value over constant cases.
	TermSwitch
	// TermUnreachable marks control flow that never arrives.
	TermUnreachable
)

// Terminator ends a block. Kind selects the meaningful payload.
type Terminator struct {
	Kind TermKind

	Return ReturnTerm
	Br     BrTerm
	CondBr CondBrTerm
	Switch SwitchTerm
}

// ReturnTerm returns Value when HasValue, else returns void.
type ReturnTerm struct {
	HasValue bool
	Value    ValueID
}

// BrTerm jumps to Target.
type BrTerm struct {
	Target BlockID
}

// CondBrTerm branches to Then when Cond is true, else to Else.
type CondBrTerm struct {
	Cond ValueID
	Then BlockID
	Else BlockID
}

// SwitchCase routes one constant to a block.
type SwitchCase struct {
	Value  int64
	Target BlockID
}

// SwitchTerm branches on Value over Cases, falling back to Default.
type SwitchTerm struct {
	Value   ValueID
	Cases   []SwitchCase
	Default BlockID
}

// Block is one basic block: an ordered instruction list plus exactly one
// terminator. Emitting into a terminated block, or terminating twice, is a
// contract violation.
type Block struct {
	ID     BlockID
	Instrs []ValueID
	Term   Terminator
}

// Terminated reports whether the block already has a terminator.
func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

package ir

import (
	"sync/atomic"

	"forge/internal/debug"
)

var sessionCounter atomic.Uint64

// Func is one function under construction or awaiting compilation. The
// instruction arena is 1-based: ValueID v names Instrs[v-1], and NoValue
// names nothing.
type Func struct {
	Name    string
	Params  []TypeID
	Result  TypeID
	Session uint64 // generation tag; values from other sessions are rejected

	Instrs []Instr
	Blocks []Block
	Entry  BlockID
}

// NewFunc starts an empty function with one unterminated entry block.
func NewFunc(name string, result TypeID, params []TypeID) *Func {
	f := &Func{
		Name:    name,
		Params:  params,
		Result:  result,
		Session: sessionCounter.Add(1),
	}
	f.Entry = f.AddBlock()
	return f
}

// AddBlock appends a new unterminated block and returns its ID.
func (f *Func) AddBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{ID: id})
	return id
}

// Block returns the block with the given ID.
func (f *Func) Block(id BlockID) *Block {
	debug.Assert(int(id) < len(f.Blocks), "%s: bad block id %d", f.Name, id)
	return &f.Blocks[id]
}

// Append adds in to block b and returns the new definition's ValueID.
// Appending to a terminated block is a contract violation.
func (f *Func) Append(b BlockID, in Instr) ValueID {
	blk := f.Block(b)
	debug.Assert(!blk.Terminated(), "%s: emit into terminated block b%d", f.Name, b)
	f.Instrs = append(f.Instrs, in)
	v := ValueID(len(f.Instrs))
	blk.Instrs = append(blk.Instrs, v)
	return v
}

// Prepend adds in at the front of block b. Used for frame-slot allocations,
// which always land in the entry block so loop bodies never re-allocate.
func (f *Func) Prepend(b BlockID, in Instr) ValueID {
	blk := f.Block(b)
	f.Instrs = append(f.Instrs, in)
	v := ValueID(len(f.Instrs))
	blk.Instrs = append([]ValueID{v}, blk.Instrs...)
	return v
}

// SetTerm terminates block b. Terminating twice is a contract violation.
func (f *Func) SetTerm(b BlockID, t Terminator) {
	blk := f.Block(b)
	debug.Assert(!blk.Terminated(), "%s: block b%d terminated twice", f.Name, b)
	debug.Assert(t.Kind != TermNone, "%s: TermNone is not a terminator", f.Name)
	blk.Term = t
}

// Instr returns the instruction defining v.
func (f *Func) Instr(v ValueID) *Instr {
	debug.Assert(v != NoValue && int(v) <= len(f.Instrs), "%s: bad value id %d", f.Name, v)
	return &f.Instrs[v-1]
}

// TypeOf returns the result shape of v.
func (f *Func) TypeOf(v ValueID) TypeID {
	return f.Instr(v).Type
}

// HasSideEffects reports whether the instruction defining v cannot be
// removed even if its result is unused.
func (f *Func) HasSideEffects(v ValueID) bool {
	in := f.Instr(v)
	switch in.Kind {
	case InstrStore, InstrCall:
		return true
	case InstrLoad:
		return in.Load.Volatile || in.Load.Order != OrderNone
	case InstrAlloca:
		// Slots are address-taken storage; liveness is decided by the
		// loads/stores through them, not here.
		return true
	}
	return false
}

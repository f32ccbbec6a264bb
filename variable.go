package forge

import (
	"forge/internal/debug"
)

// Variable is a typed local with deferred storage. While it lives in a
// single block it is just a pending SSA value; taking its address, or
// reaching a branch, forces a frame slot so the value survives control
// flow. A local whose address is never needed and whose block ends in a
// return costs nothing.
type Variable struct {
	n       *Nucleus
	t       Type
	addr    Value
	pending Value
	hasPend bool
	mater   bool
}

// Local declares a variable of t in the current session. Its initial
// contents are undefined until the first Store.
func (n *Nucleus) Local(t Type) *Variable {
	v := &Variable{n: n, t: t}
	n.vars = append(n.vars, v)
	return v
}

// Type returns the variable's declared shape.
func (v *Variable) Type() Type { return v.t }

// Store assigns val. Before materialization the assignment just
// replaces the pending value; no memory traffic is generated.
func (v *Variable) Store(val Value) {
	if v.mater {
		v.n.Store(v.addr, val, v.t.Size(), false, OrderNone)
		return
	}
	v.pending = val
	v.hasPend = true
}

// Load reads the current value. Before materialization this returns the
// pending value directly, so straight-line uses fold away entirely.
func (v *Variable) Load() Value {
	if v.mater {
		return v.n.Load(v.t, v.addr, v.t.Size(), false, OrderNone)
	}
	debug.Assert(v.hasPend, "load of variable with no prior store")
	return v.pending
}

// Address forces the variable into a frame slot and returns it.
func (v *Variable) Address() Value {
	v.materialize()
	return v.addr
}

// materialize allocates the slot in the entry block and flushes any
// pending value with a store in the current block.
func (v *Variable) materialize() {
	if v.mater {
		return
	}
	v.mater = true
	v.addr = v.n.Alloca(v.t)
	if v.hasPend {
		v.n.Store(v.addr, v.pending, v.t.Size(), false, OrderNone)
		v.pending = Value{}
		v.hasPend = false
	}
}

// materializeAll runs before every branch so that values written in
// this block are readable in the successors.
func (n *Nucleus) materializeAll() {
	for _, v := range n.vars {
		if v.hasPend {
			v.materialize()
		}
	}
}

// killUnmaterialized runs after every terminator. Pending values emitted
// in the finished block must not leak into the next one, where their
// defining instructions do not dominate the uses.
func (n *Nucleus) killUnmaterialized() {
	for _, v := range n.vars {
		if !v.mater {
			v.pending = Value{}
			v.hasPend = false
		}
	}
}

package ir

// Module owns the functions of one compilation session. The first function
// in Funcs order is the first entry of the resulting routine.
type Module struct {
	Funcs []*Func
}

// NewModule returns an empty module.
func NewModule() *Module { return &Module{} }

// Add appends f and returns its index in entry order.
func (m *Module) Add(f *Func) int {
	m.Funcs = append(m.Funcs, f)
	return len(m.Funcs) - 1
}

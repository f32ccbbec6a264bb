package forge

import "forge/internal/ir"

// Type is an identity-stable handle to a scalar, pointer or vector
// shape. Emulated shapes (narrow vectors with no native representation)
// behave like their logical width everywhere in the API; the backend
// resolves them to the native shape that carries them.
type Type ir.TypeID

const (
	Void    = Type(ir.TVoid)
	Bool    = Type(ir.TBool)
	Int8    = Type(ir.TInt8)
	Int16   = Type(ir.TInt16)
	Int32   = Type(ir.TInt32)
	Int64   = Type(ir.TInt64)
	Float32 = Type(ir.TFloat32)
	Float64 = Type(ir.TFloat64)
	Pointer = Type(ir.TPointer)

	Int8x16   = Type(ir.TInt8x16)
	Int16x8   = Type(ir.TInt16x8)
	Int32x4   = Type(ir.TInt32x4)
	Int64x2   = Type(ir.TInt64x2)
	Float32x4 = Type(ir.TFloat32x4)

	// Emulated narrow vector shapes.
	Int8x8    = Type(ir.TInt8x8)
	Int16x4   = Type(ir.TInt16x4)
	Int16x2   = Type(ir.TInt16x2)
	Int32x2   = Type(ir.TInt32x2)
	Float32x2 = Type(ir.TFloat32x2)
)

// Size returns the logical byte size of t as seen by user memory.
func (t Type) Size() int { return ir.Size(ir.TypeID(t)) }

// Lanes returns the logical lane count (1 for scalars).
func (t Type) Lanes() int { return ir.Info(ir.TypeID(t)).Lanes }

func (t Type) String() string { return ir.TypeID(t).String() }

// Pred is a comparison predicate. Float predicates are ordered: false
// whenever either operand is NaN.
type Pred ir.CmpPred

const (
	EQ  = Pred(ir.PredEQ)
	NE  = Pred(ir.PredNE)
	SLT = Pred(ir.PredSLT)
	SLE = Pred(ir.PredSLE)
	SGT = Pred(ir.PredSGT)
	SGE = Pred(ir.PredSGE)
	ULT = Pred(ir.PredULT)
	ULE = Pred(ir.PredULE)
	UGT = Pred(ir.PredUGT)
	UGE = Pred(ir.PredUGE)
	OEQ = Pred(ir.PredFOEQ)
	ONE = Pred(ir.PredFONE)
	OLT = Pred(ir.PredFOLT)
	OLE = Pred(ir.PredFOLE)
	OGT = Pred(ir.PredFOGT)
	OGE = Pred(ir.PredFOGE)
)

// MemOrder is the ordering of an atomic access. OrderNone marks a plain
// access.
type MemOrder ir.MemOrder

const (
	OrderNone    = MemOrder(ir.OrderNone)
	OrderRelaxed = MemOrder(ir.OrderRelaxed)
	OrderAcquire = MemOrder(ir.OrderAcquire)
	OrderRelease = MemOrder(ir.OrderRelease)
	OrderAcqRel  = MemOrder(ir.OrderAcqRel)
	OrderSeqCst  = MemOrder(ir.OrderSeqCst)
)

// Value is an opaque handle to one SSA definition. A Value is only
// meaningful inside the session that produced it; handing it to another
// session is a contract violation caught by the session tag.
type Value struct {
	id      ir.ValueID
	session uint64
}

// Nil reports whether v names nothing.
func (v Value) Nil() bool { return v.id == ir.NoValue }

// Block names a basic block of the function under construction.
type Block int

package ir

// ValueID names an SSA definition inside one Func. IDs index the Func's
// instruction arena and are valid only within the session that created them.
type ValueID uint32

// NoValue is the zero ValueID; it never names a definition.
const NoValue ValueID = 0

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	// InstrConst materializes a constant of any primitive or vector shape.
	InstrConst InstrKind = iota
	// InstrArg reads one of the function's declared arguments.
	InstrArg
	// InstrAlloca reserves local frame storage and yields its address.
	InstrAlloca
	// InstrLoad reads through a pointer.
	InstrLoad
	// InstrStore writes through a pointer.
	InstrStore
	// InstrBin is a two-operand arithmetic/bitwise/shift operation.
	InstrBin
	// InstrCmp is an ordered float or signed/unsigned integer comparison.
	InstrCmp
	// InstrCast converts between shapes.
	InstrCast
	// InstrGEP is pointer arithmetic over a typed element.
	InstrGEP
	// InstrExtract reads one lane of a vector.
	InstrExtract
	// InstrInsert replaces one lane of a vector.
	InstrInsert
	// InstrShuffle permutes lanes of two vectors by a constant mask.
	InstrShuffle
	// InstrSelect chooses between two values by a scalar condition.
	InstrSelect
	// InstrCall invokes an external runtime symbol.
	InstrCall
)

// BinOp enumerates two-operand operations.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem
	OpSMax
	OpSMin
	OpUMax
	OpUMin
	OpFMax
	OpFMin
)

// CmpPred enumerates comparison predicates. Float predicates are ordered:
// they are false when either operand is NaN.
type CmpPred uint8

const (
	PredEQ CmpPred = iota
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
	PredFOEQ
	PredFONE
	PredFOLT
	PredFOLE
	PredFOGT
	PredFOGE
)

// CastOp enumerates conversions.
type CastOp uint8

const (
	CastTrunc CastOp = iota
	CastZExt
	CastSExt
	CastFPTrunc
	CastFPExt
	CastFPToSI
	CastSIToFP
	CastUIToFP
	// CastBit reinterprets bits. Between a scalar and a vector shape, or
	// between shapes of unequal machine width, the backend goes through a
	// frame-slot round trip rather than a register move.
	CastBit
)

// MemOrder is the ordering of an atomic memory access.
type MemOrder uint8

const (
	OrderNone MemOrder = iota // not atomic
	OrderRelaxed
	OrderAcquire
	OrderRelease
	OrderAcqRel
	OrderSeqCst
)

// Instr is one instruction. Kind selects which payload field is meaningful.
// The instruction's arena index is its ValueID; kinds without a result
// (InstrStore) still occupy an index.
type Instr struct {
	Kind InstrKind
	Type TypeID // result shape; TVoid for stores

	Const   ConstInstr
	Arg     ArgInstr
	Alloca  AllocaInstr
	Load    LoadInstr
	Store   StoreInstr
	Bin     BinInstr
	Cmp     CmpInstr
	Cast    CastInstr
	GEP     GEPInstr
	Extract ExtractInstr
	Insert  InsertInstr
	Shuffle ShuffleInstr
	Select  SelectInstr
	Call    CallInstr
}

// ConstInstr holds a constant. Scalar values live in Bits (integer bits,
// float bits, or pointer address); vector constants carry one lane per
// Lanes entry, in lane order.
type ConstInstr struct {
	Bits  uint64
	Lanes []uint64
}

// ArgInstr reads the argument at Index (declaration order).
type ArgInstr struct {
	Index int
}

// AllocaInstr reserves frame storage for one value of Elem. The result is a
// pointer to the slot.
type AllocaInstr struct {
	Elem TypeID
}

// LoadInstr reads a value of the instruction's Type through Ptr.
type LoadInstr struct {
	Ptr      ValueID
	Align    int
	Volatile bool
	Order    MemOrder
}

// StoreInstr writes Val through Ptr.
type StoreInstr struct {
	Ptr      ValueID
	Val      ValueID
	Elem     TypeID
	Align    int
	Volatile bool
	Order    MemOrder
}

// BinInstr applies Op to X and Y.
type BinInstr struct {
	Op BinOp
	X  ValueID
	Y  ValueID
}

// CmpInstr compares X and Y; the result is TBool for scalars and a lane
// mask of the operand shape for vectors.
type CmpInstr struct {
	Pred CmpPred
	X    ValueID
	Y    ValueID
}

// CastInstr converts X to the instruction's Type.
type CastInstr struct {
	Op CastOp
	X  ValueID
}

// GEPInstr computes Base + Index*sizeof(Elem). For an emulated Elem the
// backend multiplies by the logical element size over a byte-typed base;
// native stride addressing is only valid for native shapes.
type GEPInstr struct {
	Base     ValueID
	Index    ValueID
	Elem     TypeID
	Unsigned bool
}

// ExtractInstr reads lane Lane of vector X.
type ExtractInstr struct {
	X    ValueID
	Lane int
}

// InsertInstr returns X with lane Lane replaced by Val.
type InsertInstr struct {
	X    ValueID
	Val  ValueID
	Lane int
}

// ShuffleInstr permutes the concatenation X ++ Y by the constant Mask.
// Mask entries index X's lanes first, then Y's.
type ShuffleInstr struct {
	X    ValueID
	Y    ValueID
	Mask []int
}

// SelectInstr yields Then when Cond is true, else Else.
type SelectInstr struct {
	Cond ValueID
	Then ValueID
	Else ValueID
}

// CallInstr invokes the external runtime symbol named Sym with Args. The
// symbol must exist in the fixed resolution table; a missing symbol is a
// fatal configuration error at link time.
type CallInstr struct {
	Sym  string
	Args []ValueID
}

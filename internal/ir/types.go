package ir

import "forge/internal/debug"

// TypeID is an identity-stable handle to a scalar, vector or pointer shape.
type TypeID uint8

const (
	TVoid TypeID = iota
	TBool
	TInt8
	TInt16
	TInt32
	TInt64
	TFloat32
	TFloat64
	TPointer

	// 128-bit native vector shapes.
	TInt8x16
	TInt16x8
	TInt32x4
	TInt64x2
	TFloat32x4

	// Emulated narrow vector shapes: a logical width with no native backing,
	// mapped onto the corresponding 128-bit shape.
	TInt8x8
	TInt16x4
	TInt16x2
	TInt32x2
	TFloat32x2

	numTypes
)

// LaneKind classifies the element of a shape.
type LaneKind uint8

const (
	KindVoid LaneKind = iota
	KindBool
	KindInt
	KindFloat
	KindPointer
)

// TypeInfo describes one shape in the static type table.
type TypeInfo struct {
	Name     string
	Kind     LaneKind
	Lanes    int
	LaneBits int
	Emulated bool
	Backing  TypeID // valid only when Emulated
}

var typeTable = [numTypes]TypeInfo{
	TVoid:      {Name: "void", Kind: KindVoid},
	TBool:      {Name: "i1", Kind: KindBool, Lanes: 1, LaneBits: 8},
	TInt8:      {Name: "i8", Kind: KindInt, Lanes: 1, LaneBits: 8},
	TInt16:     {Name: "i16", Kind: KindInt, Lanes: 1, LaneBits: 16},
	TInt32:     {Name: "i32", Kind: KindInt, Lanes: 1, LaneBits: 32},
	TInt64:     {Name: "i64", Kind: KindInt, Lanes: 1, LaneBits: 64},
	TFloat32:   {Name: "f32", Kind: KindFloat, Lanes: 1, LaneBits: 32},
	TFloat64:   {Name: "f64", Kind: KindFloat, Lanes: 1, LaneBits: 64},
	TPointer:   {Name: "ptr", Kind: KindPointer, Lanes: 1, LaneBits: 64},
	TInt8x16:   {Name: "i8x16", Kind: KindInt, Lanes: 16, LaneBits: 8},
	TInt16x8:   {Name: "i16x8", Kind: KindInt, Lanes: 8, LaneBits: 16},
	TInt32x4:   {Name: "i32x4", Kind: KindInt, Lanes: 4, LaneBits: 32},
	TInt64x2:   {Name: "i64x2", Kind: KindInt, Lanes: 2, LaneBits: 64},
	TFloat32x4: {Name: "f32x4", Kind: KindFloat, Lanes: 4, LaneBits: 32},
	TInt8x8:    {Name: "i8x8", Kind: KindInt, Lanes: 8, LaneBits: 8, Emulated: true, Backing: TInt8x16},
	TInt16x4:   {Name: "i16x4", Kind: KindInt, Lanes: 4, LaneBits: 16, Emulated: true, Backing: TInt16x8},
	TInt16x2:   {Name: "i16x2", Kind: KindInt, Lanes: 2, LaneBits: 16, Emulated: true, Backing: TInt16x8},
	TInt32x2:   {Name: "i32x2", Kind: KindInt, Lanes: 2, LaneBits: 32, Emulated: true, Backing: TInt32x4},
	TFloat32x2: {Name: "f32x2", Kind: KindFloat, Lanes: 2, LaneBits: 32, Emulated: true, Backing: TFloat32x4},
}

// Info returns the descriptor for t.
func Info(t TypeID) TypeInfo {
	debug.Assert(t < numTypes, "bad type id %d", t)
	return typeTable[t]
}

// Lower resolves an emulated shape to the native shape backing it. Native
// shapes lower to themselves. Called at every emission site that needs a
// machine representation.
func Lower(t TypeID) TypeID {
	info := Info(t)
	if info.Emulated {
		return info.Backing
	}
	return t
}

// Size returns the logical byte size of t: the number of bytes the shape
// occupies in user memory, not in its machine representation. Emulated
// shapes are narrower than their backing.
func Size(t TypeID) int {
	info := Info(t)
	return info.Lanes * info.LaneBits / 8
}

// SlotSize returns the byte size of the machine representation of t, which
// is the size of its lowered shape rounded up to a frame slot.
func SlotSize(t TypeID) int {
	n := Size(Lower(t))
	if n < 8 {
		return 8
	}
	return n
}

// IsVector reports whether t has more than one lane.
func IsVector(t TypeID) bool { return Info(t).Lanes > 1 }

// IsFloat reports whether t's lanes are floating point.
func IsFloat(t TypeID) bool { return Info(t).Kind == KindFloat }

// ScalarOf returns the scalar shape of one lane of t.
func ScalarOf(t TypeID) TypeID {
	info := Info(t)
	switch info.Kind {
	case KindFloat:
		if info.LaneBits == 64 {
			return TFloat64
		}
		return TFloat32
	case KindInt:
		switch info.LaneBits {
		case 8:
			return TInt8
		case 16:
			return TInt16
		case 32:
			return TInt32
		case 64:
			return TInt64
		}
	case KindBool:
		return TBool
	case KindPointer:
		return TPointer
	}
	debug.Unreachable("no scalar for type %s", info.Name)
	return TVoid
}

func (t TypeID) String() string { return Info(t).Name }

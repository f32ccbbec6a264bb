//go:build linux && amd64

package forge

import (
	"bytes"
	"math"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"forge/internal/ir"
)

func acquire(t *testing.T, f *Function, name string, cfg ...Config) *Routine {
	t.Helper()
	r, err := f.Acquire(name, cfg...)
	if err != nil {
		t.Fatalf("acquire %s: %v", name, err)
	}
	return r
}

func TestSquarePlusOne(t *testing.T) {
	f := NewFunction(Int32, Int32)
	v := f.Local(Int32)
	v.Store(f.Mul(f.Arg(0), f.Arg(0)))
	v.Store(f.Add(v.Load(), f.ConstInt32(1)))
	f.Return(v.Load())

	fn := Func1[int32, int32](acquire(t, f, "squareplusone"))
	if got := fn(7); got != 50 {
		t.Errorf("f(7) = %d, want 50", got)
	}
	if got := fn(-3); got != 10 {
		t.Errorf("f(-3) = %d, want 10", got)
	}
}

func TestDifferentialInt32(t *testing.T) {
	operands := []int32{0, 1, -1, 2, -3, 7, 100, -100, math.MaxInt32, math.MinInt32}

	cases := []struct {
		name   string
		build  func(f *Function) Value
		oracle func(x, y int32) int32
		skip   func(x, y int32) bool
	}{
		{"add", func(f *Function) Value { return f.Add(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x + y }, nil},
		{"sub", func(f *Function) Value { return f.Sub(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x - y }, nil},
		{"mul", func(f *Function) Value { return f.Mul(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x * y }, nil},
		{"and", func(f *Function) Value { return f.And(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x & y }, nil},
		{"or", func(f *Function) Value { return f.Or(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x | y }, nil},
		{"xor", func(f *Function) Value { return f.Xor(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x ^ y }, nil},
		{"sdiv", func(f *Function) Value { return f.SDiv(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x / y },
			func(x, y int32) bool { return y == 0 || (x == math.MinInt32 && y == -1) }},
		{"srem", func(f *Function) Value { return f.SRem(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return x % y },
			func(x, y int32) bool { return y == 0 || (x == math.MinInt32 && y == -1) }},
		{"smax", func(f *Function) Value { return f.SMax(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return max(x, y) }, nil},
		{"smin", func(f *Function) Value { return f.SMin(f.Arg(0), f.Arg(1)) },
			func(x, y int32) int32 { return min(x, y) }, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFunction(Int32, Int32, Int32)
			f.Return(tc.build(f))
			fn := Func2[int32, int32, int32](acquire(t, f, "diff_"+tc.name))
			for _, x := range operands {
				for _, y := range operands {
					if tc.skip != nil && tc.skip(x, y) {
						continue
					}
					if got, want := fn(x, y), tc.oracle(x, y); got != want {
						t.Fatalf("%s(%d, %d) = %d, want %d", tc.name, x, y, got, want)
					}
				}
			}
		})
	}
}

func TestDifferentialUint32Shifts(t *testing.T) {
	values := []uint32{0, 1, 0xFFFFFFFF, 0x80000000, 0x12345678}
	shifts := []uint32{0, 1, 5, 31}

	cases := []struct {
		name   string
		build  func(f *Function) Value
		oracle func(x, s uint32) uint32
	}{
		{"shl", func(f *Function) Value { return f.Shl(f.Arg(0), f.Arg(1)) },
			func(x, s uint32) uint32 { return x << s }},
		{"lshr", func(f *Function) Value { return f.LShr(f.Arg(0), f.Arg(1)) },
			func(x, s uint32) uint32 { return x >> s }},
		{"ashr", func(f *Function) Value { return f.AShr(f.Arg(0), f.Arg(1)) },
			func(x, s uint32) uint32 { return uint32(int32(x) >> s) }},
		{"udiv", func(f *Function) Value { return f.UDiv(f.Arg(0), f.Arg(1)) },
			func(x, s uint32) uint32 {
				if s == 0 {
					return 0
				}
				return x / s
			}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFunction(Int32, Int32, Int32)
			f.Return(tc.build(f))
			fn := Func2[uint32, uint32, uint32](acquire(t, f, "diffu_"+tc.name))
			for _, x := range values {
				for _, s := range shifts {
					if tc.name == "udiv" && s == 0 {
						continue
					}
					if got, want := fn(x, s), tc.oracle(x, s); got != want {
						t.Fatalf("%s(%#x, %d) = %#x, want %#x", tc.name, x, s, got, want)
					}
				}
			}
		})
	}
}

func TestDifferentialFloat32(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	operands := []float32{0, float32(math.Copysign(0, -1)), 1.5, -2.25,
		inf, -inf, nan, math.MaxFloat32, math.SmallestNonzeroFloat32}

	cases := []struct {
		name   string
		build  func(f *Function) Value
		oracle func(x, y float32) float32
	}{
		{"fadd", func(f *Function) Value { return f.FAdd(f.Arg(0), f.Arg(1)) },
			func(x, y float32) float32 { return x + y }},
		{"fsub", func(f *Function) Value { return f.FSub(f.Arg(0), f.Arg(1)) },
			func(x, y float32) float32 { return x - y }},
		{"fmul", func(f *Function) Value { return f.FMul(f.Arg(0), f.Arg(1)) },
			func(x, y float32) float32 { return x * y }},
		{"fdiv", func(f *Function) Value { return f.FDiv(f.Arg(0), f.Arg(1)) },
			func(x, y float32) float32 { return x / y }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFunction(Float32, Float32, Float32)
			f.Return(tc.build(f))
			fn := Func2[float32, float32, float32](acquire(t, f, "difff_"+tc.name))
			for _, x := range operands {
				for _, y := range operands {
					got, want := fn(x, y), tc.oracle(x, y)
					if math.IsNaN(float64(got)) && math.IsNaN(float64(want)) {
						continue
					}
					if math.Float32bits(got) != math.Float32bits(want) {
						t.Fatalf("%s(%v, %v) = %v (%#x), want %v (%#x)",
							tc.name, x, y, got, math.Float32bits(got), want, math.Float32bits(want))
					}
				}
			}
		})
	}
}

func TestFloatCompareIsOrdered(t *testing.T) {
	f := NewFunction(Int32, Float32, Float32)
	c := f.Cmp(OLT, f.Arg(0), f.Arg(1))
	f.Return(f.Select(c, f.ConstInt32(1), f.ConstInt32(0)))

	fn := Func2[int32, float32, float32](acquire(t, f, "foltcmp"))
	nan := float32(math.NaN())
	if got := fn(1, 2); got != 1 {
		t.Errorf("1 < 2 = %d, want 1", got)
	}
	if got := fn(2, 1); got != 0 {
		t.Errorf("2 < 1 = %d, want 0", got)
	}
	if got := fn(nan, 1); got != 0 {
		t.Errorf("NaN < 1 = %d, want 0", got)
	}
	if got := fn(1, nan); got != 0 {
		t.Errorf("1 < NaN = %d, want 0", got)
	}
	if got := fn(nan, nan); got != 0 {
		t.Errorf("NaN < NaN = %d, want 0", got)
	}
}

func TestVectorMax(t *testing.T) {
	f := NewFunction(Void, Pointer, Pointer, Pointer)
	a := f.Load(Int32x4, f.Arg(0), 16, false, OrderNone)
	b := f.Load(Int32x4, f.Arg(1), 16, false, OrderNone)
	f.Store(f.Arg(2), f.SMax(a, b), 16, false, OrderNone)

	run := Exec3[uintptr, uintptr, uintptr](acquire(t, f, "vecmax"))
	x := [4]int32{1, 5, 3, 9}
	y := [4]int32{4, 2, 8, 0}
	var out [4]int32
	run(uintptr(unsafe.Pointer(&x[0])), uintptr(unsafe.Pointer(&y[0])), uintptr(unsafe.Pointer(&out[0])))
	runtime.KeepAlive(&x)
	runtime.KeepAlive(&y)

	want := [4]int32{4, 5, 8, 9}
	if out != want {
		t.Errorf("vector max = %v, want %v", out, want)
	}
}

func TestEmulatedVectorAdd(t *testing.T) {
	f := NewFunction(Void, Pointer, Pointer, Pointer)
	a := f.Load(Int32x2, f.Arg(0), 8, false, OrderNone)
	b := f.Load(Int32x2, f.Arg(1), 8, false, OrderNone)
	f.Store(f.Arg(2), f.Add(a, b), 8, false, OrderNone)

	run := Exec3[uintptr, uintptr, uintptr](acquire(t, f, "vec2add"))
	// The guard words after each pair must stay untouched: emulated
	// shapes only move their logical bytes through user memory.
	x := [4]int32{10, 20, 0x7EADBEE5, 0x7EADBEE5}
	y := [4]int32{1, 2, 0x7EADBEE5, 0x7EADBEE5}
	out := [4]int32{0, 0, 0x55AA55AA, 0x55AA55AA}
	run(uintptr(unsafe.Pointer(&x[0])), uintptr(unsafe.Pointer(&y[0])), uintptr(unsafe.Pointer(&out[0])))
	runtime.KeepAlive(&x)
	runtime.KeepAlive(&y)

	if out[0] != 11 || out[1] != 22 {
		t.Errorf("emulated add = [%d %d], want [11 22]", out[0], out[1])
	}
	if out[2] != 0x55AA55AA || out[3] != 0x55AA55AA {
		t.Errorf("store touched guard words: %#x %#x", out[2], out[3])
	}
}

func TestLaneShuffle(t *testing.T) {
	f := NewFunction(Void, Pointer, Pointer, Pointer)
	a := f.Load(Int32x4, f.Arg(0), 16, false, OrderNone)
	b := f.Load(Int32x4, f.Arg(1), 16, false, OrderNone)
	// Interleave the low halves: a0 b0 a1 b1.
	f.Store(f.Arg(2), f.Shuffle(a, b, []int{0, 4, 1, 5}), 16, false, OrderNone)

	run := Exec3[uintptr, uintptr, uintptr](acquire(t, f, "interleave"))
	x := [4]int32{1, 2, 3, 4}
	y := [4]int32{5, 6, 7, 8}
	var out [4]int32
	run(uintptr(unsafe.Pointer(&x[0])), uintptr(unsafe.Pointer(&y[0])), uintptr(unsafe.Pointer(&out[0])))
	runtime.KeepAlive(&x)
	runtime.KeepAlive(&y)

	want := [4]int32{1, 5, 2, 6}
	if out != want {
		t.Errorf("shuffle = %v, want %v", out, want)
	}
}

func TestExtractInsertLane(t *testing.T) {
	f := NewFunction(Int32, Pointer)
	v := f.Load(Int32x4, f.Arg(0), 16, false, OrderNone)
	v = f.InsertLane(v, f.ConstInt32(100), 2)
	f.Return(f.Add(f.ExtractLane(v, 2), f.ExtractLane(v, 0)))

	fn := Func1[int32, uintptr](acquire(t, f, "lanes"))
	x := [4]int32{7, 0, 3, 0}
	got := fn(uintptr(unsafe.Pointer(&x[0])))
	runtime.KeepAlive(&x)
	if got != 107 {
		t.Errorf("lane arithmetic = %d, want 107", got)
	}
}

func TestVariableCrossBlock(t *testing.T) {
	// abs(x) through a conditionally reassigned local.
	f := NewFunction(Int32, Int32)
	v := f.Local(Int32)
	v.Store(f.Arg(0))

	neg := f.CreateBlock()
	join := f.CreateBlock()
	f.CondBranch(f.Cmp(SLT, f.Arg(0), f.ConstInt32(0)), neg, join)

	f.SetInsertBlock(neg)
	v.Store(f.Sub(f.ConstInt32(0), v.Load()))
	f.Branch(join)

	f.SetInsertBlock(join)
	f.Return(v.Load())

	fn := Func1[int32, int32](acquire(t, f, "absvar"))
	for _, tc := range []struct{ in, want int32 }{{5, 5}, {-5, 5}, {0, 0}, {-1, 1}} {
		if got := fn(tc.in); got != tc.want {
			t.Errorf("abs(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestVariableAddress(t *testing.T) {
	f := NewFunction(Int32, Int32)
	v := f.Local(Int32)
	f.Store(v.Address(), f.Arg(0), 4, false, OrderNone)
	f.Return(f.Add(v.Load(), f.ConstInt32(1)))

	fn := Func1[int32, int32](acquire(t, f, "varaddr"))
	if got := fn(41); got != 42 {
		t.Errorf("through-address increment = %d, want 42", got)
	}
}

func TestVariableNeverMaterializedStaysCheap(t *testing.T) {
	// Straight-line store/load with no branch and no address never gets
	// a frame slot; the pending value flows through directly.
	f := NewFunction(Int32, Int32)
	v := f.Local(Int32)
	v.Store(f.Arg(0))
	f.Return(v.Load())
	fn := Func1[int32, int32](acquire(t, f, "pendingonly"))
	if got := fn(13); got != 13 {
		t.Errorf("identity = %d, want 13", got)
	}
}

func TestWritesAfterReturnLeaveNoTrace(t *testing.T) {
	// Pending values die with the terminator; writes landing after the
	// return must not allocate a frame slot or emit a store.
	f := NewFunction(Int32, Int32)
	doubled := f.Mul(f.Arg(0), f.ConstInt32(2))
	junk := f.ConstInt32(99)
	v := f.Local(Int32)
	v.Store(doubled)
	f.Return(v.Load())

	v.Store(junk)
	w := f.Local(Int32)
	w.Store(junk)

	var text bytes.Buffer
	ir.DumpFunc(&text, f.fn)
	if s := text.String(); strings.Contains(s, "alloca") || strings.Contains(s, "store") {
		t.Fatalf("dead writes left a trace:\n%s", s)
	}

	fn := Func1[int32, int32](acquire(t, f, "deadwrites"))
	if got := fn(21); got != 42 {
		t.Errorf("f(21) = %d, want 42", got)
	}
}

func TestSwitch(t *testing.T) {
	f := NewFunction(Int32, Int32)
	one := f.CreateBlock()
	two := f.CreateBlock()
	def := f.CreateBlock()
	f.Switch(f.Arg(0), def, map[int64]Block{1: one, 2: two})

	f.SetInsertBlock(one)
	f.Return(f.ConstInt32(10))
	f.SetInsertBlock(two)
	f.Return(f.ConstInt32(20))
	f.SetInsertBlock(def)
	f.Return(f.ConstInt32(-1))

	fn := Func1[int32, int32](acquire(t, f, "switch"))
	for _, tc := range []struct{ in, want int32 }{{1, 10}, {2, 20}, {3, -1}, {0, -1}, {-1, -1}} {
		if got := fn(tc.in); got != tc.want {
			t.Errorf("switch(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSwitchWideInt64Cases(t *testing.T) {
	// Case values above 32 bits must compare against the full constant,
	// not its low half.
	const wide = int64(0x1_0000_0001)
	f := NewFunction(Int32, Int64)
	hit := f.CreateBlock()
	low := f.CreateBlock()
	def := f.CreateBlock()
	f.Switch(f.Arg(0), def, map[int64]Block{wide: hit, 1: low})

	f.SetInsertBlock(hit)
	f.Return(f.ConstInt32(1))
	f.SetInsertBlock(low)
	f.Return(f.ConstInt32(2))
	f.SetInsertBlock(def)
	f.Return(f.ConstInt32(0))

	fn := Func1[int32, int64](acquire(t, f, "switch64"))
	for _, tc := range []struct {
		in   int64
		want int32
	}{{wide, 1}, {1, 2}, {0x1_0000_0000, 0}, {0, 0}, {-1, 0}} {
		if got := fn(tc.in); got != tc.want {
			t.Errorf("switch(%#x) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestIntrinsicCall(t *testing.T) {
	f := NewFunction(Float32, Float32)
	f.Return(f.Call("sqrtf", Float32, f.Arg(0)))

	fn := Func1[float32, float32](acquire(t, f, "sqrt"))
	if got := fn(9); got != 3 {
		t.Errorf("sqrtf(9) = %v, want 3", got)
	}
	if got := fn(2); math.Abs(float64(got)-math.Sqrt2) > 1e-6 {
		t.Errorf("sqrtf(2) = %v, want %v", got, math.Sqrt2)
	}
}

func TestCastsRoundTrip(t *testing.T) {
	f := NewFunction(Int32, Float32)
	f.Return(f.FPToSI(f.Arg(0), Int32))
	fn := Func1[int32, float32](acquire(t, f, "f2i"))
	if got := fn(41.9); got != 41 {
		t.Errorf("fptosi(41.9) = %d, want 41", got)
	}
	if got := fn(-2.5); got != -2 {
		t.Errorf("fptosi(-2.5) = %d, want -2", got)
	}

	g := NewFunction(Float64, Int32)
	g.Return(g.FPExt(g.SIToFP(g.Arg(0), Float32), Float64))
	gn := Func1[float64, int32](acquire(t, g, "i2f2d"))
	if got := gn(-7); got != -7 {
		t.Errorf("sitofp(-7) = %v, want -7", got)
	}
}

func TestBitcastScalarVector(t *testing.T) {
	f := NewFunction(Int32, Int64)
	v := f.Bitcast(f.Arg(0), Int32x2)
	f.Return(f.ExtractLane(v, 1))

	fn := Func1[int32, uint64](acquire(t, f, "bits"))
	hi := uint32(0xDEAD0005)
	if got := fn(0xDEAD0005_0000002A); got != int32(hi) {
		t.Errorf("high lane = %#x, want %#x", uint32(got), hi)
	}
}

func TestAtomicScalarAccess(t *testing.T) {
	f := NewFunction(Int32, Pointer, Int32)
	f.Store(f.Arg(0), f.Arg(1), 4, false, OrderSeqCst)
	f.Return(f.Load(Int32, f.Arg(0), 4, false, OrderAcquire))

	fn := Func2[int32, uintptr, int32](acquire(t, f, "atomici32"))
	var cell int32
	got := fn(uintptr(unsafe.Pointer(&cell)), 77)
	runtime.KeepAlive(&cell)
	if got != 77 || cell != 77 {
		t.Errorf("atomic round trip = %d (cell %d), want 77", got, cell)
	}
}

func TestAtomicFloatGoesThroughIntegerShape(t *testing.T) {
	f := NewFunction(Float32, Pointer, Float32)
	f.Store(f.Arg(0), f.Arg(1), 4, false, OrderRelease)
	f.Return(f.Load(Float32, f.Arg(0), 4, false, OrderAcquire))

	fn := Func2[float32, uintptr, float32](acquire(t, f, "atomicf32"))
	var cell float32
	got := fn(uintptr(unsafe.Pointer(&cell)), 1.25)
	runtime.KeepAlive(&cell)
	if got != 1.25 || cell != 1.25 {
		t.Errorf("atomic float round trip = %v (cell %v), want 1.25", got, cell)
	}
}

func TestAtomicWideFallback(t *testing.T) {
	// Shapes past the native atomic widths go through the helper call
	// instead of being rejected.
	f := NewFunction(Void, Pointer, Pointer)
	v := f.Load(Int32x4, f.Arg(0), 16, false, OrderSeqCst)
	f.Store(f.Arg(1), v, 16, false, OrderSeqCst)

	run := Exec2[uintptr, uintptr](acquire(t, f, "atomicwide"))
	src := [4]int32{1, -2, 3, -4}
	var dst [4]int32
	run(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&dst[0])))
	runtime.KeepAlive(&src)
	if dst != src {
		t.Errorf("wide atomic copy = %v, want %v", dst, src)
	}
}

func TestGEPStridesByLogicalSize(t *testing.T) {
	f := NewFunction(Int32, Pointer, Int32)
	p := f.GEP(Int32x2, f.Arg(0), f.Arg(1), false)
	v := f.Load(Int32x2, p, 8, false, OrderNone)
	f.Return(f.ExtractLane(v, 0))

	fn := Func2[int32, uintptr, int32](acquire(t, f, "gepstride"))
	// Pairs packed back to back at 8-byte stride.
	data := [6]int32{10, 11, 20, 21, 30, 31}
	got := fn(uintptr(unsafe.Pointer(&data[0])), 2)
	runtime.KeepAlive(&data)
	if got != 30 {
		t.Errorf("element 2 lane 0 = %d, want 30", got)
	}
}

func TestUnknownPassesAreSkipped(t *testing.T) {
	cfg := Edit{}.Add(PassLICM).Add(PassScalarReplAggregates).Add(PassDeadStoreElimination).
		Apply(NewConfig(OptDefault))

	f := NewFunction(Int32, Int32)
	f.Return(f.Add(f.Arg(0), f.ConstInt32(5)))
	fn := Func1[int32, int32](acquire(t, f, "unimplpasses", cfg))
	if got := fn(10); got != 15 {
		t.Errorf("f(10) = %d, want 15", got)
	}
}

func TestOptNoneStillCorrect(t *testing.T) {
	f := NewFunction(Int32, Int32)
	v := f.Local(Int32)
	v.Store(f.Mul(f.Arg(0), f.ConstInt32(3)))
	f.Return(f.Sub(v.Load(), f.ConstInt32(2)))
	fn := Func1[int32, int32](acquire(t, f, "optnone", NewConfig(OptNone)))
	if got := fn(4); got != 10 {
		t.Errorf("f(4) = %d, want 10", got)
	}
}

func TestConcurrentAcquire(t *testing.T) {
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		delta := int32(i + 1)
		g.Go(func() error {
			f := NewFunction(Int32, Int32)
			f.Return(f.Add(f.Arg(0), f.ConstInt32(delta)))
			r, err := f.Acquire("concurrent")
			if err != nil {
				return err
			}
			fn := Func1[int32, int32](r)
			for x := int32(-10); x <= 10; x++ {
				if got := fn(x); got != x+delta {
					t.Errorf("f%d(%d) = %d, want %d", delta, x, got, x+delta)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent acquire: %v", err)
	}
}

func TestRoutineIsIdempotentAndShared(t *testing.T) {
	f := NewFunction(Int32, Int32)
	f.Return(f.Mul(f.Arg(0), f.Arg(0)))
	fn := Func1[int32, int32](acquire(t, f, "square"))

	for i := 0; i < 100; i++ {
		if got := fn(12); got != 144 {
			t.Fatalf("call %d: got %d, want 144", i, got)
		}
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for x := int32(0); x < 100; x++ {
				if got := fn(x); got != x*x {
					t.Errorf("shared routine: f(%d) = %d, want %d", x, got, x*x)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireRecordsPhases(t *testing.T) {
	f := NewFunction(Int32, Int32)
	f.Return(f.Arg(0))
	r := acquire(t, f, "phases")

	names := map[string]bool{}
	for _, p := range r.Phases().Phases {
		names[p.Name] = true
	}
	for _, want := range []string{"lower", "optimize", "encode", "link"} {
		if !names[want] {
			t.Errorf("phase %q missing from report %v", want, names)
		}
	}
}

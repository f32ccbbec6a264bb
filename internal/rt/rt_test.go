//go:build linux && amd64

package rt

import (
	"math"
	"sync"
	"testing"
	"unsafe"

	"forge/internal/amd64"
	"forge/internal/execmem"
)

// The stubs take their arguments in RDI/RSI while Go's register ABI
// passes them in RAX/RBX, so the tests enter through a small adapter:
// func(arg1, arg2 uint64, target uintptr) uint64.
var trampOnce sync.Once
var tramp func(uint64, uint64, uintptr) uint64

func trampoline(t *testing.T) func(uint64, uint64, uintptr) uint64 {
	t.Helper()
	trampOnce.Do(func() {
		var a amd64.Assembler
		a.MovRegReg(amd64.RDI, amd64.RAX)
		a.MovRegReg(amd64.RSI, amd64.RBX)
		a.MovRegReg(amd64.R11, amd64.RCX)
		a.CallReg(amd64.R11)
		a.Ret()

		blk, err := execmem.Alloc(len(a.Code))
		if err != nil {
			t.Fatalf("trampoline alloc: %v", err)
		}
		copy(blk.Bytes(), a.Code)
		blk.Seal()

		entry := blk.Addr()
		p := unsafe.Pointer(&entry)
		tramp = *(*func(uint64, uint64, uintptr) uint64)(unsafe.Pointer(&p))
	})
	return tramp
}

func TestResolveFixedTable(t *testing.T) {
	for _, name := range []string{"sqrtf", "sinf", "fmod", "nop", "atomic_load", "atomic_store"} {
		addr, ok := Resolve(name)
		if !ok || addr == 0 {
			t.Fatalf("symbol %s did not resolve", name)
		}
	}
	if _, ok := Resolve("no_such_helper"); ok {
		t.Fatal("unknown symbol resolved")
	}
}

func TestResolveIsStable(t *testing.T) {
	a, _ := Resolve("sinf")
	b, _ := Resolve("sinf")
	if a != b {
		t.Fatal("symbol address changed between resolves")
	}
}

func TestSqrtfStub(t *testing.T) {
	call := trampoline(t)
	addr, _ := Resolve("sqrtf")
	got := math.Float32frombits(uint32(call(uint64(math.Float32bits(9)), 0, addr)))
	if got != 3 {
		t.Fatalf("sqrtf(9) = %v", got)
	}
}

func TestSinfStub(t *testing.T) {
	call := trampoline(t)
	addr, _ := Resolve("sinf")
	got := math.Float32frombits(uint32(call(uint64(math.Float32bits(1)), 0, addr)))
	want := float32(math.Sin(1))
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("sinf(1) = %v, want about %v", got, want)
	}
}

func TestFmodStub(t *testing.T) {
	call := trampoline(t)
	addr, _ := Resolve("fmod")
	got := math.Float64frombits(call(math.Float64bits(7.5), math.Float64bits(2), addr))
	if got != 1.5 {
		t.Fatalf("fmod(7.5, 2) = %v", got)
	}
}

func TestPowStub(t *testing.T) {
	call := trampoline(t)
	addr, _ := Resolve("pow")
	got := math.Float64frombits(call(math.Float64bits(2), math.Float64bits(10), addr))
	if math.Abs(got-1024) > 1e-9 {
		t.Fatalf("pow(2, 10) = %v", got)
	}
}

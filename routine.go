package forge

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"forge/internal/amd64"
	"forge/internal/debug"
	"forge/internal/execmem"
	"forge/internal/observ"
	"forge/internal/rt"
)

// Routine is an immutable block of executable code. It is safe to call
// from any number of goroutines at once. The code region is returned to
// the OS when the Routine becomes unreachable, so raw entry addresses
// are only valid while the Routine itself is kept alive.
type Routine struct {
	name    string
	block   *execmem.Block
	entries []entryInfo
	report  observ.Report
}

type entryInfo struct {
	addr      uintptr
	frameSize int
	retOff    int
	argOffs   []int
	pool      *sync.Pool
}

// link1 places one compiled artifact into fresh executable memory,
// patches its symbol relocations against the runtime table, and seals
// the region. A symbol missing from the table is a build-system defect,
// not a caller mistake.
func link1(name string, art *amd64.Artifact) (*Routine, error) {
	blk, err := execmem.Alloc(len(art.Code))
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", name, err)
	}
	mem := blk.Bytes()
	copy(mem, art.Code)
	for _, rel := range art.Relocs {
		addr, ok := rt.Resolve(rel.Sym)
		debug.Assert(ok, "%s: unresolved symbol %q", name, rel.Sym)
		binary.LittleEndian.PutUint64(mem[rel.Off:], uint64(addr))
	}
	blk.Seal()

	size := art.FrameSize
	r := &Routine{
		name:  name,
		block: blk,
		entries: []entryInfo{{
			addr:      blk.Addr(),
			frameSize: size,
			retOff:    art.RetOff,
			argOffs:   art.ArgOffs,
			pool: &sync.Pool{New: func() any {
				b := make([]byte, size)
				return &b
			}},
		}},
	}
	runtime.AddCleanup(r, func(b *execmem.Block) { b.Free() }, blk)
	return r, nil
}

// Name returns the tag the routine was acquired under.
func (r *Routine) Name() string { return r.name }

// Phases returns per-phase build timings recorded during Acquire.
func (r *Routine) Phases() observ.Report { return r.report }

// Entry returns the raw address of the i-th entry in declaration order.
// The address dies with the Routine; callers holding it must also hold r.
func (r *Routine) Entry(i int) uintptr {
	return r.entry(i).addr
}

func (r *Routine) entry(i int) *entryInfo {
	debug.Assert(i >= 0 && i < len(r.entries), "%s: no entry %d", r.name, i)
	return &r.entries[i]
}

// call enters the code with frame's base address in hand. The generated
// prologue expects that pointer in the first register argument.
func (r *Routine) call(e *entryInfo, frame []byte) {
	addr := e.addr
	p := unsafe.Pointer(&addr)
	fn := *(*func(*byte))(unsafe.Pointer(&p))
	fn(&frame[0])
	runtime.KeepAlive(r)
}

func (r *Routine) getFrame(e *entryInfo) *[]byte {
	return e.pool.Get().(*[]byte)
}

func (r *Routine) putFrame(e *entryInfo, f *[]byte) {
	e.pool.Put(f)
}

// Scalar constrains the Go types that cross the routine boundary
// directly. Each occupies one 8-byte frame slot; narrower values are
// zero-padded on the way in and read back at their own width.
type Scalar interface {
	~bool | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~uintptr
}

func putScalar[T Scalar](frame []byte, off int, v T) {
	binary.LittleEndian.PutUint64(frame[off:], 0)
	*(*T)(unsafe.Pointer(&frame[off])) = v
}

func getScalar[T Scalar](frame []byte, off int) T {
	return *(*T)(unsafe.Pointer(&frame[off]))
}

// Func0 wraps entry 0 of r as a nullary Go function returning R.
func Func0[R Scalar](r *Routine) func() R {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 0, "%s: expected 0 args, frame has %d", r.name, len(e.argOffs))
	return func() R {
		f := r.getFrame(e)
		r.call(e, *f)
		ret := getScalar[R](*f, e.retOff)
		r.putFrame(e, f)
		return ret
	}
}

// Func1 wraps entry 0 of r as func(A) R.
func Func1[R, A Scalar](r *Routine) func(A) R {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 1, "%s: expected 1 arg, frame has %d", r.name, len(e.argOffs))
	return func(a A) R {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		r.call(e, *f)
		ret := getScalar[R](*f, e.retOff)
		r.putFrame(e, f)
		return ret
	}
}

// Func2 wraps entry 0 of r as func(A, B) R.
func Func2[R, A, B Scalar](r *Routine) func(A, B) R {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 2, "%s: expected 2 args, frame has %d", r.name, len(e.argOffs))
	return func(a A, b B) R {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		putScalar(*f, e.argOffs[1], b)
		r.call(e, *f)
		ret := getScalar[R](*f, e.retOff)
		r.putFrame(e, f)
		return ret
	}
}

// Func3 wraps entry 0 of r as func(A, B, C) R.
func Func3[R, A, B, C Scalar](r *Routine) func(A, B, C) R {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 3, "%s: expected 3 args, frame has %d", r.name, len(e.argOffs))
	return func(a A, b B, c C) R {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		putScalar(*f, e.argOffs[1], b)
		putScalar(*f, e.argOffs[2], c)
		r.call(e, *f)
		ret := getScalar[R](*f, e.retOff)
		r.putFrame(e, f)
		return ret
	}
}

// Exec1 wraps entry 0 of a void routine as func(A).
func Exec1[A Scalar](r *Routine) func(A) {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 1, "%s: expected 1 arg, frame has %d", r.name, len(e.argOffs))
	return func(a A) {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		r.call(e, *f)
		r.putFrame(e, f)
	}
}

// Exec2 wraps entry 0 of a void routine as func(A, B).
func Exec2[A, B Scalar](r *Routine) func(A, B) {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 2, "%s: expected 2 args, frame has %d", r.name, len(e.argOffs))
	return func(a A, b B) {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		putScalar(*f, e.argOffs[1], b)
		r.call(e, *f)
		r.putFrame(e, f)
	}
}

// Exec3 wraps entry 0 of a void routine as func(A, B, C).
func Exec3[A, B, C Scalar](r *Routine) func(A, B, C) {
	e := r.entry(0)
	debug.Assert(len(e.argOffs) == 3, "%s: expected 3 args, frame has %d", r.name, len(e.argOffs))
	return func(a A, b B, c C) {
		f := r.getFrame(e)
		putScalar(*f, e.argOffs[0], a)
		putScalar(*f, e.argOffs[1], b)
		putScalar(*f, e.argOffs[2], c)
		r.call(e, *f)
		r.putFrame(e, f)
	}
}

package forge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"forge/internal/amd64"
	"forge/internal/debug"
	"forge/internal/ir"
	"forge/internal/observ"
	"forge/internal/rcache"
	"forge/internal/target"
	"forge/internal/trace"
)

var entryCounter atomic.Uint64

// Function is a routine under construction. It embeds the Nucleus so
// the builder API is available directly, and tracks argument values for
// the declared signature.
type Function struct {
	*Nucleus
	args     []Value
	acquired bool
}

// NewFunction opens a code-generation session for a routine with the
// given signature. The host must be a supported target; building on an
// unsupported host is a configuration error, not a runtime condition.
func NewFunction(ret Type, params ...Type) *Function {
	debug.Assert(target.Host().Supported(),
		"unsupported host %s/%s", target.Host().Arch, target.Host().OS)
	name := fmt.Sprintf("f%d", entryCounter.Add(1))
	fn := &Function{Nucleus: newNucleus(name, ret, params)}
	for i := range params {
		fn.args = append(fn.args, fn.wrap(fn.fn.Append(fn.fn.Entry,
			ir.Instr{Kind: ir.InstrArg, Type: ir.TypeID(params[i]), Arg: ir.ArgInstr{Index: i}})))
	}
	return fn
}

// Arg returns the i-th parameter in declaration order.
func (f *Function) Arg(i int) Value {
	debug.Assert(i >= 0 && i < len(f.args), "%s: no argument %d", f.fn.Name, i)
	return f.args[i]
}

// Acquire finalizes the session and returns an executable routine.
// name tags dumps and cache entries; cfg overrides the process default.
// Code memory exhaustion comes back as an error; everything else that
// can go wrong here is a contract violation and aborts.
func (f *Function) Acquire(name string, cfg ...Config) (*Routine, error) {
	debug.Assert(!f.acquired, "%s: acquired twice", f.fn.Name)
	f.acquired = true

	conf := DefaultConfig()
	if len(cfg) > 0 {
		conf = cfg[0]
	}

	timer := observ.NewTimer()
	endAcquire := trace.Span(trace.ScopeRoutine, name, f.fn.Session, "acquire")

	// finalize: a void routine may simply fall off the end.
	lower := timer.Begin("lower")
	if !f.Terminated() {
		if f.fn.Result == ir.TVoid {
			f.ReturnVoid()
		} else {
			debug.Unreachable("%s: last block falls off the end of a non-void routine", f.fn.Name)
		}
	}
	dumpIR(name, "ir", f.fn)
	timer.End(lower, "")

	if os.Getenv("FORGE_VERIFY") == "1" {
		verify := timer.Begin("verify")
		if err := ir.Verify(f.fn); err != nil {
			debug.Unreachable("%s: invalid module: %v", f.fn.Name, err)
		}
		timer.End(verify, "")
	}

	opt := timer.Begin("optimize")
	endOpt := trace.Span(trace.ScopePhase, name, f.fn.Session, "optimize")
	mod := ir.NewModule()
	mod.Add(f.fn)
	ir.Apply(mod, conf.Passes())
	endOpt("")
	dumpIR(name, "opt.ir", f.fn)
	var text bytes.Buffer
	ir.DumpFunc(&text, f.fn)
	timer.End(opt, fmt.Sprintf("%d passes", len(conf.Passes())))

	mach := target.Host()
	features := mach.FeatureString()
	cache := rcache.Open()
	key := rcache.Key(text.String(), features)

	encode := timer.Begin("encode")
	endEncode := trace.Span(trace.ScopePhase, name, f.fn.Session, "encode")
	art, hit := cache.Get(key, features)
	if hit {
		trace.Point(trace.ScopePhase, name, f.fn.Session, "cache", "hit")
	}
	if !hit {
		var err error
		art, err = amd64.Compile(f.fn, mach)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		art.Name = name
		// A full or read-only cache dir just means a miss next time.
		_ = cache.Put(key, features, art)
	}
	note := ""
	if hit {
		note = "cached"
	}
	endEncode(note)
	timer.End(encode, note)

	link := timer.Begin("link")
	r, err := link1(name, art)
	timer.End(link, "")
	if err != nil {
		return nil, err
	}
	r.report = timer.Report()
	endAcquire("")
	return r, nil
}

// dumpIR writes the routine's textual form into $FORGE_DUMP_IR when the
// variable names a directory.
func dumpIR(name, ext string, f *ir.Func) {
	dir := os.Getenv("FORGE_DUMP_IR")
	if dir == "" {
		return
	}
	var buf bytes.Buffer
	ir.DumpFunc(&buf, f)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, name+"."+ext), buf.Bytes(), 0o644)
}

// Package trace records what the build pipeline does, one event per
// line, for after-the-fact inspection of routine acquisitions. It is
// configured once per process from the environment:
//
//	FORGE_TRACE=path        JSONL sink ("-" for stderr)
//	FORGE_TRACE_LEVEL=phase off|routine|phase|debug (default phase)
//
// When FORGE_TRACE is unset every call is a no-op on a shared nop
// tracer, so callers never test for enablement themselves.
package trace

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Tracer is the main interface for emitting trace events.
type Tracer interface {
	// Emit records a trace event. Must be goroutine-safe.
	Emit(ev *Event)

	// Flush ensures all buffered events are written.
	Flush() error

	// Close flushes and releases resources.
	Close() error

	// Level returns the current tracing level.
	Level() Level

	// Enabled returns true if tracing is active (Level > LevelOff).
	Enabled() bool
}

// nopTracer is a no-op implementation for zero overhead when tracing is
// disabled.
type nopTracer struct{}

func (nopTracer) Emit(*Event)   {}
func (nopTracer) Flush() error  { return nil }
func (nopTracer) Close() error  { return nil }
func (nopTracer) Level() Level  { return LevelOff }
func (nopTracer) Enabled() bool { return false }

var (
	global     Tracer = nopTracer{}
	globalOnce sync.Once
	seq        atomic.Uint64
)

func nextSeq() uint64 { return seq.Add(1) }

// Global returns the process tracer, initializing it from the
// environment on first use.
func Global() Tracer {
	globalOnce.Do(func() {
		dest := os.Getenv("FORGE_TRACE")
		if dest == "" {
			return
		}
		level := LevelPhase
		if s := os.Getenv("FORGE_TRACE_LEVEL"); s != "" {
			if l, err := ParseLevel(s); err == nil {
				level = l
			}
		}
		if dest == "-" {
			global = NewStreamTracer(os.Stderr, level)
			return
		}
		f, err := os.Create(dest)
		if err != nil {
			// Нет файла — нет трассировки.
			return
		}
		global = NewStreamTracer(f, level)
	})
	return global
}

// Span emits a begin event and returns a func that emits the matching
// end event.
func Span(scope Scope, routine string, session uint64, name string) func(detail string) {
	t := Global()
	if !t.Enabled() {
		return func(string) {}
	}
	t.Emit(&Event{Time: time.Now(), Kind: KindSpanBegin, Scope: scope,
		Routine: routine, Session: session, Name: name})
	return func(detail string) {
		t.Emit(&Event{Time: time.Now(), Kind: KindSpanEnd, Scope: scope,
			Routine: routine, Session: session, Name: name, Detail: detail})
	}
}

// Point emits an instant event.
func Point(scope Scope, routine string, session uint64, name, detail string) {
	t := Global()
	if !t.Enabled() {
		return
	}
	t.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: scope,
		Routine: routine, Session: session, Name: name, Detail: detail})
}

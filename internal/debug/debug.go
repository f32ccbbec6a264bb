// Package debug implements fatal contract checks for the code generator.
//
// A failed check means the code *generating* a routine is wrong, not that it
// received bad input. Continuing past a mis-generated routine risks arbitrary
// memory corruption once the code runs, so every helper here aborts the
// process with a diagnostic naming the caller.
package debug

import (
	"fmt"
	"os"
	"runtime"
)

// Assert aborts the process when cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		abort("ASSERT", format, args...)
	}
}

// Unreachable marks code paths that must never execute.
func Unreachable(format string, args ...any) {
	abort("UNREACHABLE", format, args...)
}

// Unimplemented marks functionality the backend does not provide.
func Unimplemented(format string, args ...any) {
	abort("UNIMPLEMENTED", format, args...)
}

func abort(kind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	// Caller of the exported helper, two frames up.
	if _, file, line, ok := runtime.Caller(2); ok {
		fmt.Fprintf(os.Stderr, "%s:%d ABORT: %s: %s\n", file, line, kind, msg)
	} else {
		fmt.Fprintf(os.Stderr, "ABORT: %s: %s\n", kind, msg)
	}
	panic(kind + ": " + msg)
}

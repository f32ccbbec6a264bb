// Package rt owns the external-symbol table: the fixed set of runtime
// helpers generated code may call, resolved to the addresses of native
// stub routines. The table never changes after the first use, so a name
// either resolves for the life of the process or never does.
package rt

import (
	"sync"

	"forge/internal/amd64"
	"forge/internal/debug"
	"forge/internal/execmem"
)

var (
	once  sync.Once
	table map[string]uintptr
)

// build emits the stub block once, seals it executable and indexes the
// symbol addresses. The block is never freed: routine code compiled at
// any point may hold patched addresses into it.
func build() {
	code, stubs := amd64.BuildStubs()
	blk, err := execmem.Alloc(len(code))
	debug.Assert(err == nil, "stub block allocation failed: %v", err)
	copy(blk.Bytes(), code)
	blk.Seal()

	base := blk.Addr()
	table = make(map[string]uintptr, len(stubs))
	for _, s := range stubs {
		table[s.Name] = base + uintptr(s.Off)
	}
}

// Resolve returns the address of a runtime symbol. The boolean reports
// whether the name exists in the fixed table; callers treat a miss as a
// fatal link error.
func Resolve(name string) (uintptr, bool) {
	once.Do(build)
	addr, ok := table[name]
	return addr, ok
}

// Known reports whether name is in the table without forcing a resolve
// of its address.
func Known(name string) bool {
	once.Do(build)
	_, ok := table[name]
	return ok
}

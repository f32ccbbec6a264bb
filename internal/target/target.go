// Package target probes the host once and caches the answer. Code
// generation decisions key off the cached Machine so every routine built
// in a process sees the same instruction set.
package target

import (
	"math/bits"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// Machine describes the host the generated code will run on.
type Machine struct {
	Arch     string
	OS       string
	SSE41    bool
	SSE42    bool
	AVX      bool
	AVX2     bool
	POPCNT   bool
	FMA      bool
	PageBits int
}

var (
	once    sync.Once
	machine Machine
)

// Host returns the cached description of this process's machine. The
// probe runs once; later calls are a map-free read.
func Host() Machine {
	once.Do(func() {
		machine = Machine{
			Arch:   runtime.GOARCH,
			OS:     runtime.GOOS,
			SSE41:  cpu.X86.HasSSE41,
			SSE42:  cpu.X86.HasSSE42,
			AVX:    cpu.X86.HasAVX,
			AVX2:   cpu.X86.HasAVX2,
			POPCNT: cpu.X86.HasPOPCNT,
			FMA:    cpu.X86.HasFMA,

			PageBits: bits.TrailingZeros(uint(os.Getpagesize())),
		}
	})
	return machine
}

// Supported reports whether this package can generate code for the host
// at all. The helper stubs issue raw Linux syscalls, so other unixes are
// out even though the executable-memory layer would work there.
func (m Machine) Supported() bool {
	return m.Arch == "amd64" && m.OS == "linux"
}

// FeatureString renders the probed features in a stable order. Cache keys
// include it so artifacts built with one instruction set never load on a
// narrower one.
func (m Machine) FeatureString() string {
	var fs []string
	if m.SSE41 {
		fs = append(fs, "sse4.1")
	}
	if m.SSE42 {
		fs = append(fs, "sse4.2")
	}
	if m.AVX {
		fs = append(fs, "avx")
	}
	if m.AVX2 {
		fs = append(fs, "avx2")
	}
	if m.POPCNT {
		fs = append(fs, "popcnt")
	}
	if m.FMA {
		fs = append(fs, "fma")
	}
	sort.Strings(fs)
	return m.Arch + "/" + m.OS + "+" + strings.Join(fs, ",")
}

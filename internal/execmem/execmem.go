//go:build unix

// Package execmem manages page-granular mappings that hold generated
// machine code. A block is mapped read-write, filled, then sealed to
// read-execute; it is never writable and executable at the same time.
package execmem

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"forge/internal/debug"
)

// Block is one executable mapping.
type Block struct {
	mem []byte
	fd  int // memfd backing the mapping, -1 for anonymous memory
}

// PageSize returns the host page size.
func PageSize() int {
	return os.Getpagesize()
}

// RoundToPages rounds n up to a whole number of pages.
func RoundToPages(n int) int {
	p := PageSize()
	return (n + p - 1) &^ (p - 1)
}

// Alloc maps at least n bytes of read-write memory. A memfd backs the
// mapping when the host supports it, so the region shows up named in
// /proc/self/maps; otherwise the mapping is anonymous. Returns nil with
// the error when the host refuses the mapping.
func Alloc(n int) (*Block, error) {
	debug.Assert(n > 0, "alloc of %d bytes", n)
	size := RoundToPages(n)

	fd, err := codeFD(size)
	if err != nil {
		fd = -1
	}

	flags := unix.MAP_PRIVATE
	if fd < 0 {
		flags |= unix.MAP_ANON
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil, err
	}
	return &Block{mem: mem, fd: fd}, nil
}

// Bytes returns the writable view of the block. Valid until Seal.
func (b *Block) Bytes() []byte { return b.mem }

// Size returns the mapped size in bytes.
func (b *Block) Size() int { return len(b.mem) }

// Addr returns the start address of the mapping.
func (b *Block) Addr() uintptr {
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Seal drops the write permission and makes the block executable. A host
// that refuses the transition cannot run generated code at all, so the
// failure is not recoverable.
func (b *Block) Seal() {
	err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC)
	debug.Assert(err == nil, "mprotect rx failed: %v", err)
}

// Free unmaps the block. The block must not be entered again.
func (b *Block) Free() {
	if b.mem != nil {
		err := unix.Munmap(b.mem)
		debug.Assert(err == nil, "munmap failed: %v", err)
		b.mem = nil
	}
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
}

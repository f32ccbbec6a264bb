package execmem

import "golang.org/x/sys/unix"

// codeFD creates a sized memfd to back a code mapping. The name shows up
// in /proc/self/maps, which keeps generated code identifiable in crash
// reports and profilers.
func codeFD(size int) (int, error) {
	fd, err := unix.MemfdCreate("forge-code", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

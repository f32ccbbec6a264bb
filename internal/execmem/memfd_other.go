//go:build unix && !linux

package execmem

import "errors"

// codeFD is the Linux memfd path; other hosts fall back to anonymous
// mappings.
func codeFD(int) (int, error) {
	return -1, errors.New("execmem: no memfd on this host")
}

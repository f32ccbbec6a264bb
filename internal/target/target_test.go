package target

import (
	"os"
	"runtime"
	"testing"
)

func TestHostIsMemoized(t *testing.T) {
	a := Host()
	b := Host()
	if a != b {
		t.Fatal("two probes disagree")
	}
	if a.Arch != runtime.GOARCH || a.OS != runtime.GOOS {
		t.Fatalf("probe reports %s/%s", a.Arch, a.OS)
	}
	if got := 1 << a.PageBits; got != os.Getpagesize() {
		t.Fatalf("PageBits gives %d byte pages, host has %d", got, os.Getpagesize())
	}
}

func TestSupportedIsLinuxOnly(t *testing.T) {
	// The math helper stubs hardcode Linux syscall numbers.
	for _, tc := range []struct {
		arch, os string
		want     bool
	}{
		{"amd64", "linux", true},
		{"amd64", "darwin", false},
		{"amd64", "freebsd", false},
		{"arm64", "linux", false},
	} {
		m := Machine{Arch: tc.arch, OS: tc.os}
		if got := m.Supported(); got != tc.want {
			t.Errorf("Supported(%s/%s) = %v, want %v", tc.arch, tc.os, got, tc.want)
		}
	}
}

func TestFeatureStringStable(t *testing.T) {
	m := Machine{Arch: "amd64", OS: "linux", SSE41: true, POPCNT: true}
	want := "amd64/linux+popcnt,sse4.1"
	if got := m.FeatureString(); got != want {
		t.Fatalf("FeatureString() = %q, want %q", got, want)
	}
}

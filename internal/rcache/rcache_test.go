package rcache

import (
	"testing"

	"forge/internal/amd64"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	t.Setenv("FORGE_CACHE", t.TempDir())
	c := Open()
	if c == nil {
		t.Fatal("cache did not open")
	}
	return c
}

func TestOpenDisabledWithoutEnv(t *testing.T) {
	t.Setenv("FORGE_CACHE", "")
	if Open() != nil {
		t.Fatal("cache opened without FORGE_CACHE")
	}
}

func TestNilCacheIsNoOp(t *testing.T) {
	var c *Cache
	if err := c.Put("k", "f", &amd64.Artifact{}); err != nil {
		t.Fatalf("nil put: %v", err)
	}
	if _, ok := c.Get("k", "f"); ok {
		t.Fatal("nil cache returned a hit")
	}
}

func TestRoundTrip(t *testing.T) {
	c := testCache(t)
	art := &amd64.Artifact{
		Name:      "f1",
		Code:      []byte{0x55, 0xC3},
		FrameSize: 32,
		ArgOffs:   []int{16},
		Relocs:    []amd64.Reloc{{Sym: "sinf", Off: 4}},
	}
	key := Key("func f1() f32\n", "amd64/linux+sse4.1")
	if err := c.Put(key, "amd64/linux+sse4.1", art); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(key, "amd64/linux+sse4.1")
	if !ok {
		t.Fatal("miss after put")
	}
	if got.Name != art.Name || got.FrameSize != art.FrameSize {
		t.Fatalf("layout changed: %+v", got)
	}
	if len(got.Relocs) != 1 || got.Relocs[0].Sym != "sinf" || got.Relocs[0].Off != 4 {
		t.Fatalf("relocations changed: %+v", got.Relocs)
	}
	if string(got.Code) != string(art.Code) {
		t.Fatal("code bytes changed")
	}
}

func TestFeatureMismatchIsMiss(t *testing.T) {
	c := testCache(t)
	key := Key("func f2() i32\n", "amd64/linux+sse4.1")
	if err := c.Put(key, "amd64/linux+sse4.1", &amd64.Artifact{Name: "f2"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := c.Get(key, "amd64/linux"); ok {
		t.Fatal("entry for a wider feature set loaded on a narrower one")
	}
}

func TestIndependentOpensShareEntries(t *testing.T) {
	// Every Acquire opens its own *Cache over the same directory, so
	// concurrent writers through separate handles must not corrupt an
	// entry: the rename is the only synchronization.
	t.Setenv("FORGE_CACHE", t.TempDir())
	a := Open()
	b := Open()
	if a == nil || b == nil {
		t.Fatal("cache did not open")
	}
	key := Key("func f3() i32\n", "amd64/linux")

	done := make(chan error, 2)
	for _, c := range []*Cache{a, b} {
		go func(c *Cache) {
			var err error
			for i := 0; i < 50 && err == nil; i++ {
				err = c.Put(key, "amd64/linux", &amd64.Artifact{Name: "f3", Code: []byte{0xC3}})
			}
			done <- err
		}(c)
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent put: %v", err)
		}
	}

	got, ok := b.Get(key, "amd64/linux")
	if !ok || got.Name != "f3" || len(got.Code) != 1 {
		t.Fatalf("entry written through one handle unreadable through another: %+v ok=%v", got, ok)
	}
}

func TestKeySeparatesIRAndFeatures(t *testing.T) {
	if Key("a", "bc") == Key("ab", "c") {
		t.Fatal("key concatenation is ambiguous")
	}
}

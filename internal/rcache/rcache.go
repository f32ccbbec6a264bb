// Package rcache persists compiled routine artifacts on disk. The cache
// is opt-in: it only exists when FORGE_CACHE names a directory, and with
// the variable unset nothing here ever touches the filesystem. Artifacts
// are position independent; their relocation lists are re-patched
// against the live symbol table on load, so a cache written in one
// process loads fine under a different address space layout.
package rcache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"forge/internal/amd64"
)

// Schema version - increment when the payload format changes.
const schemaVersion uint16 = 1

// payload is the on-disk envelope around one artifact.
type payload struct {
	Schema   uint16          `msgpack:"schema"`
	ID       string          `msgpack:"id"` // write identity, for debugging stale entries
	Features string          `msgpack:"features"`
	Artifact *amd64.Artifact `msgpack:"artifact"`
}

// Cache хранит скомпилированные артефакты по ключу на диске.
// Concurrent use needs no lock: writes go through a temp file and an
// atomic rename, reads see either the old entry or the new one.
type Cache struct {
	dir string
}

// Open returns the cache configured by FORGE_CACHE, or nil when the
// variable is unset. A nil *Cache is a valid no-op receiver.
func Open() *Cache {
	dir := os.Getenv("FORGE_CACHE")
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	return &Cache{dir: dir}
}

// Key derives the cache key for a routine: the printed IR and the probed
// feature set pin everything that influences the generated bytes.
func Key(irText, features string) string {
	h := sha256.New()
	h.Write([]byte(irText))
	h.Write([]byte{0})
	h.Write([]byte(features))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) pathFor(key string) string {
	// Подкаталог "routines" — для удобства очистки.
	return filepath.Join(c.dir, "routines", key+".mp")
}

// Put serializes and atomically writes an artifact.
func (c *Cache) Put(key, features string, art *amd64.Artifact) error {
	if c == nil {
		return nil
	}
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(&payload{
		Schema:   schemaVersion,
		ID:       uuid.NewString(),
		Features: features,
		Artifact: art,
	}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Атомарная замена
	return os.Rename(f.Name(), p)
}

// Get reads an artifact back. A schema or feature mismatch is treated
// as a miss, not an error: the entry was simply written by a different
// build of the world.
func (c *Cache) Get(key, features string) (*amd64.Artifact, bool) {
	if c == nil {
		return nil, false
	}
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var pl payload
	if err := msgpack.NewDecoder(f).Decode(&pl); err != nil {
		return nil, false
	}
	if pl.Schema != schemaVersion || pl.Features != features || pl.Artifact == nil {
		return nil, false
	}
	return pl.Artifact, true
}

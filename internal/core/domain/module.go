package domain

import (
	"encoding/binary"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ModuleID identifies a compilation unit. It is derived from the module's
// dotted name, which is derived from its path, so it is stable across runs
// while the path is stable.
type ModuleID uint64

// NewModuleID returns the identifier for the named module.
func NewModuleID(name string) ModuleID {
	return ModuleID(xxhash.Sum64String(name))
}

// String returns the identifier as 16 hex digits.
func (id ModuleID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseModuleID parses the output of ModuleID.String.
func ParseModuleID(s string) (ModuleID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return ModuleID(v), nil
}

// ContentHash is a fixed-width digest of a module's source or of a derived
// value. Equal hashes mean the value is safe to reuse. The zero hash means
// "unknown" and never compares as unchanged.
type ContentHash uint64

// HashBytes hashes b.
func HashBytes(b []byte) ContentHash {
	return ContentHash(xxhash.Sum64(b))
}

// HashStrings hashes the parts separated by 0 bytes, so ("ab", "c") and
// ("a", "bc") differ.
func HashStrings(parts ...string) ContentHash {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return ContentHash(h.Sum64())
}

// Combine folds several hashes into one, order sensitive.
func Combine(hashes ...ContentHash) ContentHash {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range hashes {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	return ContentHash(h.Sum64())
}

// String returns the hash as 16 hex digits.
func (h ContentHash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// ParseContentHash parses the output of ContentHash.String.
func ParseContentHash(s string) (ContentHash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return ContentHash(v), nil
}

// Module is a node of the dependency graph.
type Module struct {
	ID   ModuleID
	Path string
	// Name is the dotted module name used by imports ("pkg/util.kl" -> "pkg.util").
	Name string
	Hash ContentHash
	Deps []ModuleID
	// Placeholder is set for nodes that are referenced by an edge but were never recorded.
	Placeholder bool
}

// ModuleName converts a source path relative to the source root into a
// dotted module name by dropping the extension and replacing separators.
func ModuleName(rel string) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return strings.ReplaceAll(rel, "/", ".")
}

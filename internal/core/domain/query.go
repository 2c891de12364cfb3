package domain

import "slices"

// QueryKind names a family of memoized queries.
type QueryKind = InternedString

// Built-in query kinds.
var (
	// KindSource is the input query holding a module's source text.
	KindSource = NewInternedString("source")
	// KindParse parses a module's source into an AST.
	KindParse = NewInternedString("parse")
	// KindImports lists the modules a module imports.
	KindImports = NewInternedString("imports")
	// KindCheck analyzes a module and produces its AnalysisResult.
	KindCheck = NewInternedString("check")
)

// QueryKey identifies one memoized computation: a kind applied to a module.
type QueryKey struct {
	Kind   QueryKind
	Module ModuleID
}

// NewQueryKey returns the key for kind applied to module.
func NewQueryKey(kind QueryKind, module ModuleID) QueryKey {
	return QueryKey{Kind: kind, Module: module}
}

// String renders the key as kind(module).
func (k QueryKey) String() string {
	return k.Kind.String() + "(" + k.Module.String() + ")"
}

// QueryResult is a memoized value together with the reads that produced it.
type QueryResult struct {
	Key         QueryKey
	Value       any
	Fingerprint ContentHash
	// Reads lists the queries consulted while the value was computed, in first-read order.
	Reads []QueryKey
	// Generation is the revision in which the value last changed.
	Generation uint64
	// Verified is the revision in which the value was last confirmed current.
	Verified uint64
}

// Clone returns a copy that does not share the read slice.
func (r QueryResult) Clone() QueryResult {
	r.Reads = slices.Clone(r.Reads)
	return r
}

// Fingerprinter is implemented by values that know their own content hash.
type Fingerprinter interface {
	Fingerprint() ContentHash
}

// Fingerprint returns the content hash of a query value. Values that are
// neither Fingerprinters nor byte or string data get the zero hash, which
// disables early cutoff for them.
func Fingerprint(v any) ContentHash {
	switch t := v.(type) {
	case Fingerprinter:
		return t.Fingerprint()
	case *AST:
		if t == nil {
			return 0
		}
		return t.Fingerprint
	case []byte:
		return HashBytes(t)
	case string:
		return HashStrings(t)
	case ContentHash:
		return t
	default:
		return 0
	}
}

package domain

import (
	"encoding/json"
	"slices"
	"strconv"
)

// SourceFile is one module's source text as read from disk.
type SourceFile struct {
	// Path is relative to the source root and slash separated.
	Path    string
	Name    string
	Content []byte
}

// ID returns the module identifier of the file.
func (f SourceFile) ID() ModuleID {
	return NewModuleID(f.Name)
}

// Fingerprint hashes the path and the source text.
func (f SourceFile) Fingerprint() ContentHash {
	return HashStrings(f.Path, string(f.Content))
}

// AST is the parser's view of a module. Node is parser specific and opaque
// to the kernel; Imports are dotted module names.
type AST struct {
	Module  ModuleID
	Name    string
	Imports []string
	// Fingerprint covers everything analysis can observe (not comments or layout).
	Fingerprint ContentHash
	Node        any
}

// ImportIDs resolves the AST's imports to module identifiers, deduplicated, in import order.
func (a *AST) ImportIDs() []ModuleID {
	ids := make([]ModuleID, 0, len(a.Imports))
	for _, name := range a.Imports {
		id := NewModuleID(name)
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Severity classifies a diagnostic.
type Severity string

const (
	// SeverityError marks a diagnostic that makes the module invalid.
	SeverityError Severity = "error"
	// SeverityWarning marks an advisory diagnostic.
	SeverityWarning Severity = "warning"
)

// Diagnostic is a message produced by analysis about a module's source.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitzero"`
	Message  string   `json:"message"`
}

// String renders the diagnostic as "line N: severity: message".
func (d Diagnostic) String() string {
	prefix := ""
	if d.Line > 0 {
		prefix = "line " + strconv.Itoa(d.Line) + ": "
	}
	return prefix + string(d.Severity) + ": " + d.Message
}

// AnalysisResult is what the analyzer produces for one module.
type AnalysisResult struct {
	Module      ModuleID     `json:"module"`
	Name        string       `json:"name"`
	Exports     []string     `json:"exports,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	// Reads lists the modules whose results were consulted through the read callback.
	Reads []ModuleID `json:"reads,omitempty"`
}

// Fingerprint hashes the canonical JSON form of the result.
func (r *AnalysisResult) Fingerprint() ContentHash {
	if r == nil {
		return 0
	}
	data, err := r.Marshal()
	if err != nil {
		return 0
	}
	return HashBytes(data)
}

// HasErrors reports whether any diagnostic is an error.
func (r *AnalysisResult) HasErrors() bool {
	return slices.ContainsFunc(r.Diagnostics, func(d Diagnostic) bool {
		return d.Severity == SeverityError
	})
}

// Marshal encodes the result for the result cache.
func (r *AnalysisResult) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalAnalysisResult decodes data produced by AnalysisResult.Marshal.
func UnmarshalAnalysisResult(data []byte) (*AnalysisResult, error) {
	var r AnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Package lang implements the reference .kl language used by kiln's CLI.
//
// A .kl file is a list of line statements:
//
//	# comment
//	import pkg.util
//	def main
//	use pkg.util.helper
//
// The kernel never sees this package directly; it only talks to the
// ports.Parser and ports.Analyzer it provides.
package lang

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Parser = (*Parser)(nil)

// Statement keywords.
const (
	KeywordImport = "import"
	KeywordDef    = "def"
	KeywordUse    = "use"
)

var (
	identRegex  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	moduleRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Statement is one parsed line.
type Statement struct {
	Keyword string
	// Module is set for import and use.
	Module string
	// Name is set for def and use.
	Name string
	Line int
}

// Text renders the statement without layout or comments.
func (s Statement) Text() string {
	switch s.Keyword {
	case KeywordImport:
		return KeywordImport + " " + s.Module
	case KeywordDef:
		return KeywordDef + " " + s.Name
	default:
		return KeywordUse + " " + s.Module + "." + s.Name
	}
}

// Unit is the AST node of a .kl module.
type Unit struct {
	Statements []Statement
}

// Parser parses .kl sources. It holds no state.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses file. The fingerprint covers the statements only, so edits
// to comments, blank lines or indentation leave it unchanged.
func (p *Parser) Parse(ctx context.Context, file domain.SourceFile) (*domain.AST, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unit := &Unit{}
	var (
		imports []string
		texts   []string
	)
	scanner := bufio.NewScanner(bytes.NewReader(file.Content))
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		stmt, err := parseStatement(fields, line)
		if err != nil {
			return nil, zerr.With(zerr.With(err, "module", file.Name), "line", line)
		}
		if stmt.Keyword == KeywordImport {
			imports = append(imports, stmt.Module)
		}
		unit.Statements = append(unit.Statements, stmt)
		texts = append(texts, stmt.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrParseFailed, err.Error()), "module", file.Name)
	}

	return &domain.AST{
		Module:      file.ID(),
		Name:        file.Name,
		Imports:     imports,
		Fingerprint: domain.HashStrings(texts...),
		Node:        unit,
	}, nil
}

func parseStatement(fields []string, line int) (Statement, error) {
	if len(fields) != 2 {
		return Statement{}, zerr.Wrap(domain.ErrParseFailed, "expected a keyword and one argument")
	}
	keyword, arg := fields[0], fields[1]
	switch keyword {
	case KeywordImport:
		if !moduleRegex.MatchString(arg) {
			return Statement{}, zerr.With(zerr.Wrap(domain.ErrParseFailed, "invalid module name"), "name", arg)
		}
		return Statement{Keyword: keyword, Module: arg, Line: line}, nil
	case KeywordDef:
		if !identRegex.MatchString(arg) {
			return Statement{}, zerr.With(zerr.Wrap(domain.ErrParseFailed, "invalid definition name"), "name", arg)
		}
		return Statement{Keyword: keyword, Name: arg, Line: line}, nil
	case KeywordUse:
		dot := strings.LastIndexByte(arg, '.')
		if dot <= 0 || !moduleRegex.MatchString(arg[:dot]) || !identRegex.MatchString(arg[dot+1:]) {
			return Statement{}, zerr.With(zerr.Wrap(domain.ErrParseFailed, "expected module.name"), "name", arg)
		}
		return Statement{Keyword: keyword, Module: arg[:dot], Name: arg[dot+1:], Line: line}, nil
	default:
		return Statement{}, zerr.With(zerr.Wrap(domain.ErrParseFailed, "unknown keyword"), "keyword", keyword)
	}
}

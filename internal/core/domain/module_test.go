package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestModuleName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a.kl", "a"},
		{"pkg/util.kl", "pkg.util"},
		{"./pkg/deep/x.kl", "pkg.deep.x"},
		{`win\style.kl`, "win.style"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.ModuleName(tt.in))
		})
	}
}

func TestModuleID_RoundTrip(t *testing.T) {
	id := domain.NewModuleID("pkg.util")
	assert.Equal(t, id, domain.NewModuleID("pkg.util"))
	assert.NotEqual(t, id, domain.NewModuleID("pkg.utils"))

	parsed, err := domain.ParseModuleID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = domain.ParseModuleID("zz")
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	assert.NotEqual(t, domain.HashStrings("ab", "c"), domain.HashStrings("a", "bc"))
	assert.Equal(t, domain.HashBytes([]byte("x")), domain.HashBytes([]byte("x")))
	assert.NotEqual(t, domain.Combine(1, 2), domain.Combine(2, 1))

	h := domain.HashBytes([]byte("payload"))
	parsed, err := domain.ParseContentHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Len(t, h.String(), 16)
}

func TestFingerprint(t *testing.T) {
	res := &domain.AnalysisResult{Name: "a", Exports: []string{"f"}}

	assert.Equal(t, res.Fingerprint(), domain.Fingerprint(res))
	assert.Equal(t, domain.HashBytes([]byte("x")), domain.Fingerprint([]byte("x")))
	assert.Equal(t, domain.ContentHash(7), domain.Fingerprint(domain.ContentHash(7)))
	assert.Zero(t, domain.Fingerprint(42))
	assert.Equal(t, domain.ContentHash(9), domain.Fingerprint(&domain.AST{Fingerprint: 9}))

	var nilResult *domain.AnalysisResult
	assert.Zero(t, nilResult.Fingerprint())
}

func TestAnalysisResult_Marshal(t *testing.T) {
	res := &domain.AnalysisResult{
		Module:      domain.NewModuleID("a"),
		Name:        "a",
		Exports:     []string{"f", "g"},
		Diagnostics: []domain.Diagnostic{{Severity: domain.SeverityError, Line: 2, Message: "unknown name x"}},
		Reads:       ids("b"),
	}

	data, err := res.Marshal()
	require.NoError(t, err)

	decoded, err := domain.UnmarshalAnalysisResult(data)
	require.NoError(t, err)
	assert.Equal(t, res, decoded)
	assert.True(t, decoded.HasErrors())
	assert.Equal(t, "line 2: error: unknown name x", decoded.Diagnostics[0].String())
}

func TestAST_ImportIDs(t *testing.T) {
	ast := &domain.AST{Imports: []string{"b", "c", "b"}}
	assert.Equal(t, ids("b", "c"), ast.ImportIDs())
}

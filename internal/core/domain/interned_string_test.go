package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestInternedString(t *testing.T) {
	k1 := domain.NewInternedString("check")
	k2 := domain.NewInternedString("check")

	assert.Equal(t, k1.Value(), k2.Value())
	assert.Equal(t, "check", k1.String())
	assert.Equal(t, domain.KindCheck, k1)

	var zero domain.InternedString
	assert.Empty(t, zero.String())
}

func TestInternedStringJSON(t *testing.T) {
	type keyDoc struct {
		Kind domain.QueryKind `json:"kind"`
	}

	data, err := json.Marshal(keyDoc{Kind: domain.KindParse})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"parse"}`, string(data))

	var decoded keyDoc
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, domain.KindParse, decoded.Kind)
}

func TestQueryKeyComparable(t *testing.T) {
	a := domain.NewModuleID("a")
	seen := map[domain.QueryKey]int{
		domain.NewQueryKey(domain.KindCheck, a): 1,
	}

	seen[domain.NewQueryKey(domain.NewInternedString("check"), a)]++
	seen[domain.NewQueryKey(domain.KindParse, a)]++

	assert.Len(t, seen, 2)
	assert.Equal(t, 2, seen[domain.NewQueryKey(domain.KindCheck, a)])
	assert.Equal(t, "check("+a.String()+")", domain.NewQueryKey(domain.KindCheck, a).String())
}

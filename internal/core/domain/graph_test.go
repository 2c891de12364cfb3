package domain_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
)

func ids(names ...string) []domain.ModuleID {
	out := make([]domain.ModuleID, 0, len(names))
	for _, n := range names {
		out = append(out, domain.NewModuleID(n))
	}
	return out
}

func record(t *testing.T, g *domain.Graph, name string, hash domain.ContentHash, deps ...string) {
	t.Helper()
	require.NoError(t, g.RecordModule(domain.NewModuleID(name), hash, ids(deps...), domain.WithName(name)))
}

// chain builds a -> b -> c and an unrelated d.
func chain(t *testing.T) *domain.Graph {
	t.Helper()
	g := domain.NewGraph()
	record(t, g, "c", 3)
	record(t, g, "b", 2, "c")
	record(t, g, "a", 1, "b")
	record(t, g, "d", 4)
	return g
}

func TestGraph_RecordModule(t *testing.T) {
	g := chain(t)

	assert.Equal(t, 4, g.Len())

	a, ok := g.Module(domain.NewModuleID("a"))
	require.True(t, ok)
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, domain.ContentHash(1), a.Hash)
	assert.Equal(t, ids("b"), a.Deps)
	assert.False(t, a.Placeholder)

	assert.Equal(t, ids("b"), g.Dependents(domain.NewModuleID("c")))

	byName, ok := g.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, a, byName)
}

func TestGraph_RecordModule_Placeholder(t *testing.T) {
	g := domain.NewGraph()
	record(t, g, "a", 1, "missing")

	m, ok := g.Module(domain.NewModuleID("missing"))
	require.True(t, ok)
	assert.True(t, m.Placeholder)
	assert.Equal(t, 1, g.Len())

	record(t, g, "missing", 9)
	m, _ = g.Module(domain.NewModuleID("missing"))
	assert.False(t, m.Placeholder)
	assert.Equal(t, 2, g.Len())

	// Re-recording a without the edge prunes nothing that is still recorded.
	record(t, g, "a", 1)
	_, ok = g.Module(domain.NewModuleID("missing"))
	assert.True(t, ok)
}

func TestGraph_RecordModule_PrunesOrphanPlaceholder(t *testing.T) {
	g := domain.NewGraph()
	record(t, g, "a", 1, "ghost")
	record(t, g, "a", 1)

	_, ok := g.Module(domain.NewModuleID("ghost"))
	assert.False(t, ok)
}

func TestGraph_RecordModule_Cycle(t *testing.T) {
	g := chain(t)
	before := slices.Collect(g.Modules())

	err := g.RecordModule(domain.NewModuleID("c"), 3, ids("a"), domain.WithName("c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCycleDetected))

	var cycle *domain.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"c", "a", "b", "c"}, cycle.Path)
	assert.ElementsMatch(t, ids("a", "b", "c"), cycle.Members)
	assert.EqualError(t, err, "cycle detected: c -> a -> b -> c")

	assert.Equal(t, before, slices.Collect(g.Modules()), "graph must be unchanged after a rejected edge")
}

func TestGraph_RecordModule_SelfCycle(t *testing.T) {
	g := domain.NewGraph()

	err := g.RecordModule(domain.NewModuleID("a"), 1, ids("a"), domain.WithName("a"))

	var cycle *domain.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
	assert.Equal(t, 0, g.Len())
}

func TestGraph_DirtySet(t *testing.T) {
	g := chain(t)

	tests := []struct {
		name    string
		changed []domain.ModuleID
		want    []domain.ModuleID
	}{
		{"leaf", ids("c"), ids("a", "b", "c")},
		{"middle", ids("b"), ids("a", "b")},
		{"root", ids("a"), ids("a")},
		{"unrelated", ids("d"), ids("d")},
		{"unknown", ids("nope"), nil},
		{"several", ids("c", "d"), ids("a", "b", "c", "d")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dirty := g.DirtySet(tt.changed)
			got := make([]domain.ModuleID, 0, len(dirty))
			for id := range dirty {
				got = append(got, id)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestGraph_Layers(t *testing.T) {
	g := chain(t)

	layers := g.Layers()

	require.Len(t, layers, 3)
	assert.Equal(t, ids("c", "d"), layers[0])
	assert.Equal(t, ids("b"), layers[1])
	assert.Equal(t, ids("a"), layers[2])

	ranks := g.Ranks()
	assert.Equal(t, 2, ranks[domain.NewModuleID("a")])
	assert.Equal(t, 0, ranks[domain.NewModuleID("d")])
	assert.Equal(t, 1, g.Rank(domain.NewModuleID("b")))
	assert.Equal(t, -1, g.Rank(domain.NewModuleID("nope")))
}

func TestGraph_Remove(t *testing.T) {
	g := chain(t)

	g.Remove(domain.NewModuleID("b"))

	b, ok := g.Module(domain.NewModuleID("b"))
	require.True(t, ok, "b is still referenced by a")
	assert.True(t, b.Placeholder)
	assert.Empty(t, g.Dependents(domain.NewModuleID("c")))

	g.Remove(domain.NewModuleID("d"))
	_, ok = g.Module(domain.NewModuleID("d"))
	assert.False(t, ok)
}

func TestGraph_Changed(t *testing.T) {
	g := chain(t)
	assert.Len(t, g.Changed(), 4)

	g.ClearChanged()
	record(t, g, "c", 3)
	assert.Empty(t, g.Changed(), "same hash is not a change")

	record(t, g, "c", 30)
	assert.True(t, g.HasChanged(domain.NewModuleID("c")))

	g.MarkChanged(domain.NewModuleID("d"))
	assert.ElementsMatch(t, ids("c", "d"), g.Changed())
}

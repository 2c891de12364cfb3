// Package domain contains the core domain models of the analysis kernel:
// module identities, the dependency graph, query keys and results.
package domain

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
)

// CycleError is returned when recording a module would close a dependency cycle.
type CycleError struct {
	// Path walks the cycle and repeats its first element at the end.
	Path    []string
	Members []ModuleID
}

// Error implements error.
func (e *CycleError) Error() string {
	return ErrCycleDetected.Error() + ": " + strings.Join(e.Path, " -> ")
}

// Unwrap returns ErrCycleDetected so errors.Is matches the sentinel.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

type node struct {
	mod     Module
	rdeps   map[ModuleID]struct{}
	changed bool
}

// Graph is the module dependency graph: an arena of nodes addressed by
// ModuleID with forward and reverse adjacency lists. An edge A -> B means
// A's analysis reads B's result. The graph is always acyclic and safe for
// concurrent use; every mutation is atomic.
type Graph struct {
	mu    sync.RWMutex
	nodes map[ModuleID]*node
}

// NewGraph creates a new empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[ModuleID]*node),
	}
}

// ModuleOption sets descriptive fields of a recorded module.
type ModuleOption func(*Module)

// WithName sets the module's dotted name.
func WithName(name string) ModuleOption {
	return func(m *Module) { m.Name = name }
}

// WithPath sets the module's source path.
func WithPath(p string) ModuleOption {
	return func(m *Module) { m.Path = p }
}

// RecordModule adds id or replaces its hash and out-edges. Dependencies
// that were never recorded become placeholders. If the new edges would
// close a cycle the call fails with a *CycleError naming the members and
// the graph is left unchanged.
func (g *Graph) RecordModule(id ModuleID, hash ContentHash, deps []ModuleID, opts ...ModuleOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	deps = dedupe(deps)
	if err := g.checkCycleLocked(id, deps); err != nil {
		return err
	}

	n, exists := g.nodes[id]
	if !exists {
		n = &node{mod: Module{ID: id}, rdeps: make(map[ModuleID]struct{})}
		g.nodes[id] = n
	}
	for _, old := range n.mod.Deps {
		if dep, ok := g.nodes[old]; ok {
			delete(dep.rdeps, id)
			g.pruneLocked(old)
		}
	}

	if n.mod.Placeholder || !exists || n.mod.Hash != hash {
		n.changed = true
	}
	n.mod.Placeholder = false
	n.mod.Hash = hash
	n.mod.Deps = deps
	for _, opt := range opts {
		opt(&n.mod)
	}
	if n.mod.Name == "" {
		n.mod.Name = id.String()
	}

	for _, d := range deps {
		dep, ok := g.nodes[d]
		if !ok {
			dep = &node{
				mod:   Module{ID: d, Name: d.String(), Placeholder: true},
				rdeps: make(map[ModuleID]struct{}),
			}
			g.nodes[d] = dep
		}
		dep.rdeps[id] = struct{}{}
	}
	return nil
}

// checkCycleLocked looks for a path from any of deps back to id. Only
// paths through id's new edges can form a cycle, so a DFS per new edge is
// the complete incremental check.
func (g *Graph) checkCycleLocked(id ModuleID, deps []ModuleID) error {
	visited := make(map[ModuleID]int) // 0: unvisited, 1: visiting, 2: visited
	var path []ModuleID

	var visit func(u ModuleID) bool
	visit = func(u ModuleID) bool {
		if u == id {
			return true
		}
		visited[u] = 1
		path = append(path, u)
		if n, ok := g.nodes[u]; ok {
			for _, next := range n.mod.Deps {
				if visited[next] == 0 && visit(next) {
					return true
				}
			}
		}
		visited[u] = 2
		path = path[:len(path)-1]
		return false
	}

	for _, d := range deps {
		path = path[:0]
		if visit(d) {
			return g.buildCycleError(id, path)
		}
	}
	return nil
}

// buildCycleError constructs the error for the cycle id -> path... -> id.
func (g *Graph) buildCycleError(id ModuleID, path []ModuleID) error {
	members := append([]ModuleID{id}, path...)
	names := make([]string, 0, len(members)+1)
	for _, m := range members {
		names = append(names, g.nameLocked(m))
	}
	names = append(names, g.nameLocked(id))
	return &CycleError{Path: names, Members: members}
}

func (g *Graph) nameLocked(id ModuleID) string {
	if n, ok := g.nodes[id]; ok && n.mod.Name != "" {
		return n.mod.Name
	}
	return id.String()
}

// pruneLocked drops a placeholder nobody depends on any more.
func (g *Graph) pruneLocked(id ModuleID) {
	if n, ok := g.nodes[id]; ok && n.mod.Placeholder && len(n.rdeps) == 0 {
		delete(g.nodes, id)
	}
}

// Remove drops a module. If other modules still depend on it the node
// stays as a placeholder so their edges remain valid.
func (g *Graph) Remove(id ModuleID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for _, d := range n.mod.Deps {
		if dep, ok := g.nodes[d]; ok {
			delete(dep.rdeps, id)
			g.pruneLocked(d)
		}
	}
	if len(n.rdeps) > 0 {
		n.mod = Module{ID: id, Name: n.mod.Name, Placeholder: true}
		n.changed = true
		return
	}
	delete(g.nodes, id)
}

// DirtySet returns every module that must be re-analyzed after the given
// modules changed: the changed modules themselves and everything that
// reaches them through dependency edges. Unknown ids are ignored.
func (g *Graph) DirtySet(changed []ModuleID) map[ModuleID]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dirty := make(map[ModuleID]struct{})
	queue := make([]ModuleID, 0, len(changed))
	for _, id := range changed {
		if _, ok := g.nodes[id]; !ok {
			continue
		}
		if _, seen := dirty[id]; !seen {
			dirty[id] = struct{}{}
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for r := range g.nodes[id].rdeps {
			if _, seen := dirty[r]; !seen {
				dirty[r] = struct{}{}
				queue = append(queue, r)
			}
		}
	}
	return dirty
}

// Layers groups the recorded modules into dependency layers, leaves first.
// Every module's recorded dependencies sit in earlier layers. Modules within
// a layer are sorted by name. Placeholders are not part of any layer.
func (g *Graph) Layers() [][]ModuleID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ranks := g.ranksLocked()
	var layers [][]ModuleID
	for id, r := range ranks {
		for len(layers) <= r {
			layers = append(layers, nil)
		}
		layers[r] = append(layers[r], id)
	}
	for _, layer := range layers {
		slices.SortFunc(layer, func(a, b ModuleID) int {
			return cmp.Compare(g.nodes[a].mod.Name, g.nodes[b].mod.Name)
		})
	}
	return layers
}

// Ranks returns the layer index of every recorded module.
func (g *Graph) Ranks() map[ModuleID]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ranksLocked()
}

// Rank returns the layer index of id, or -1 if id is not a recorded module.
func (g *Graph) Rank(id ModuleID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; !ok || n.mod.Placeholder {
		return -1
	}
	return g.ranksLocked()[id]
}

func (g *Graph) ranksLocked() map[ModuleID]int {
	ranks := make(map[ModuleID]int, len(g.nodes))
	var rank func(id ModuleID) int
	rank = func(id ModuleID) int {
		if r, ok := ranks[id]; ok {
			return r
		}
		r := 0
		for _, d := range g.nodes[id].mod.Deps {
			if dep, ok := g.nodes[d]; ok && !dep.mod.Placeholder {
				r = max(r, rank(d)+1)
			}
		}
		ranks[id] = r
		return r
	}
	for id, n := range g.nodes {
		if !n.mod.Placeholder {
			rank(id)
		}
	}
	return ranks
}

// Module returns a copy of the module with the given id.
func (g *Graph) Module(id ModuleID) (Module, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Module{}, false
	}
	return cloneModule(n.mod), true
}

// Lookup returns the module with the given dotted name.
func (g *Graph) Lookup(name string) (Module, bool) {
	return g.Module(NewModuleID(name))
}

// Modules returns an iterator over copies of every node, placeholders
// included, sorted by name.
func (g *Graph) Modules() iter.Seq[Module] {
	g.mu.RLock()
	mods := make([]Module, 0, len(g.nodes))
	for _, n := range g.nodes {
		mods = append(mods, cloneModule(n.mod))
	}
	g.mu.RUnlock()

	slices.SortFunc(mods, func(a, b Module) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return slices.Values(mods)
}

// Dependents returns the modules that depend directly on id, sorted.
func (g *Graph) Dependents(id ModuleID) []ModuleID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(n.rdeps))
}

// Len returns the number of recorded (non placeholder) modules.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, n := range g.nodes {
		if !n.mod.Placeholder {
			count++
		}
	}
	return count
}

// HasChanged reports whether the module's hash changed since the last ClearChanged.
func (g *Graph) HasChanged(id ModuleID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && n.changed
}

// MarkChanged flags a module as changed without touching its hash.
func (g *Graph) MarkChanged(id ModuleID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.changed = true
	}
}

// Changed returns every module flagged as changed, sorted.
func (g *Graph) Changed() []ModuleID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []ModuleID
	for id, n := range g.nodes {
		if n.changed && !n.mod.Placeholder {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// ClearChanged resets every changed flag.
func (g *Graph) ClearChanged() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.changed = false
	}
}

func cloneModule(m Module) Module {
	m.Deps = slices.Clone(m.Deps)
	return m
}

func dedupe(ids []ModuleID) []ModuleID {
	out := make([]ModuleID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

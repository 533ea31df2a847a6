// Package graph models the dependency graph over a table's computed columns.
// Columns are integer ids in an adjacency structure; cycle detection and
// dependency traversal are plain graph algorithms with no ownership concerns.
// A graph is built once per schema version and never mutated, so readers of
// an older version never observe a half-updated graph.
package graph

import (
	"fmt"
	"sort"

	"github.com/tesseradata/tessera/internal/errors"
)

// Graph is an immutable dependency graph. An edge u -> v means column u
// depends on column v (v must be evaluated first).
type Graph struct {
	nodes []int
	deps  map[int][]int // column -> columns it reads
	rdeps map[int][]int // column -> columns that read it
	order []int         // canonical evaluation order (dependencies first)
}

// Build constructs a graph from each column's direct dependency list and
// verifies acyclicity. Dependency ids that are not themselves nodes (stored
// columns) are tracked as edges but not scheduled. Returns a SchemaError
// with code CyclicDependency if a cycle exists.
func Build(deps map[int][]int) (*Graph, error) {
	g := &Graph{
		deps:  make(map[int][]int, len(deps)),
		rdeps: make(map[int][]int),
	}

	for id, ds := range deps {
		g.nodes = append(g.nodes, id)
		sorted := append([]int(nil), ds...)
		sort.Ints(sorted)
		g.deps[id] = sorted
		for _, d := range sorted {
			g.rdeps[d] = append(g.rdeps[d], id)
		}
	}
	sort.Ints(g.nodes)
	for _, rs := range g.rdeps {
		sort.Ints(rs)
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort runs Kahn's algorithm over the computed-column nodes. In-degree
// counts only edges to other computed columns; stored columns are always
// available.
func (g *Graph) topoSort() ([]int, error) {
	indeg := make(map[int]int, len(g.nodes))
	for _, id := range g.nodes {
		indeg[id] = 0
	}
	for _, id := range g.nodes {
		for _, d := range g.deps[id] {
			if _, isNode := indeg[d]; isNode {
				indeg[id]++
			}
		}
	}

	var ready []int
	for _, id := range g.nodes {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range g.rdeps[id] {
			if _, isNode := indeg[dependent]; !isNode {
				continue
			}
			indeg[dependent]--
			if indeg[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Ints(ready)
	}

	if len(order) != len(g.nodes) {
		var member int
		for _, id := range g.nodes {
			if indeg[id] > 0 {
				member = id
				break
			}
		}
		return nil, errors.NewSchemaError(errors.CodeCyclicDependency,
			fmt.Sprintf("computed columns form a dependency cycle involving column %d", member))
	}
	return order, nil
}

// Order returns the canonical evaluation order: every column appears after
// all computed columns it depends on.
func (g *Graph) Order() []int {
	return append([]int(nil), g.order...)
}

// Deps returns the direct dependencies of a column.
func (g *Graph) Deps(id int) []int {
	return append([]int(nil), g.deps[id]...)
}

// Dependents returns the direct dependents of a column.
func (g *Graph) Dependents(id int) []int {
	return append([]int(nil), g.rdeps[id]...)
}

// Affected returns the computed columns that transitively read any of the
// changed columns, in evaluation order. The changed columns themselves are
// not included; a column that changed and also reads another changed column
// appears because it is a dependent.
func (g *Graph) Affected(changed []int) []int {
	seen := make(map[int]bool)
	queue := append([]int(nil), changed...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.rdeps[id] {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	out := make([]int, 0, len(seen))
	for _, id := range g.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// TransitiveDependents returns all computed columns that transitively read
// the given column, used by DropColumn dependency checks. The result is in
// reverse evaluation order so dependents can be dropped ahead of their
// dependencies.
func (g *Graph) TransitiveDependents(id int) []int {
	seen := make(map[int]bool)
	queue := []int{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.rdeps[cur] {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	out := make([]int, 0, len(seen))
	for i := len(g.order) - 1; i >= 0; i-- {
		if seen[g.order[i]] {
			out = append(out, g.order[i])
		}
	}
	return out
}

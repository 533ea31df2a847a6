package graph

import (
	"testing"

	"github.com/tesseradata/tessera/internal/errors"
)

func TestBuild_TopoOrder(t *testing.T) {
	// 3 depends on 1 and 2, 2 depends on 1.
	g, err := Build(map[int][]int{
		1: {},
		2: {1},
		3: {1, 2},
	})
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	pos := make(map[int]int)
	for i, id := range g.Order() {
		pos[id] = i
	}
	if pos[1] > pos[2] || pos[2] > pos[3] || pos[1] > pos[3] {
		t.Errorf("topological order violated: %v", g.Order())
	}
}

func TestBuild_CycleRejected(t *testing.T) {
	_, err := Build(map[int][]int{
		1: {2},
		2: {3},
		3: {1},
	})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if errors.GetCode(err) != errors.CodeCyclicDependency {
		t.Errorf("expected code %s, got %s", errors.CodeCyclicDependency, errors.GetCode(err))
	}
}

func TestBuild_SelfCycleRejected(t *testing.T) {
	_, err := Build(map[int][]int{1: {1}})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestAffected_MinimalClosure(t *testing.T) {
	// 1 → 2 → 4, 1 → 3; 5 independent.
	g, err := Build(map[int][]int{
		2: {1},
		3: {1},
		4: {2},
		5: {},
	})
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	affected := g.Affected([]int{1})
	want := map[int]bool{2: true, 3: true, 4: true}
	if len(affected) != len(want) {
		t.Fatalf("expected %d affected nodes, got %v", len(want), affected)
	}
	for _, id := range affected {
		if !want[id] {
			t.Errorf("node %d should not be affected", id)
		}
	}

	// Affected comes back in evaluation order: 2 before 4.
	pos := make(map[int]int)
	for i, id := range affected {
		pos[id] = i
	}
	if pos[2] > pos[4] {
		t.Errorf("affected order violated: %v", affected)
	}

	if got := g.Affected([]int{5}); len(got) != 0 {
		t.Errorf("independent node should affect nothing, got %v", got)
	}
}

func TestTransitiveDependents_ReverseTopo(t *testing.T) {
	// 1 → 2 → 3.
	g, err := Build(map[int][]int{
		2: {1},
		3: {2},
	})
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	deps := g.TransitiveDependents(1)
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents, got %v", deps)
	}
	// Reverse topological order: leaves first so cascading drops are safe.
	if deps[0] != 3 || deps[1] != 2 {
		t.Errorf("expected [3 2], got %v", deps)
	}
}

func TestDeps_And_Dependents(t *testing.T) {
	g, err := Build(map[int][]int{
		2: {1},
		3: {1, 2},
	})
	if err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}

	if deps := g.Deps(3); len(deps) != 2 {
		t.Errorf("expected 2 deps for node 3, got %v", deps)
	}
	if dependents := g.Dependents(1); len(dependents) != 2 {
		t.Errorf("expected 2 dependents for node 1, got %v", dependents)
	}
}

package graph

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// dagFromSeed builds a random acyclic dependency map: node i may only depend
// on nodes with smaller ids, so the input is a DAG by construction.
func dagFromSeed(n int, seed int64) map[int][]int {
	deps := make(map[int][]int, n)
	state := uint64(seed)
	next := func() uint64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return state
	}
	for i := 0; i < n; i++ {
		deps[i] = nil
		for j := 0; j < i; j++ {
			if next()%3 == 0 {
				deps[i] = append(deps[i], j)
			}
		}
	}
	return deps
}

func TestProperty_TopoOrderRespectsDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every node appears after all of its dependencies", prop.ForAll(
		func(n int, seed int64) bool {
			deps := dagFromSeed(n, seed)
			g, err := Build(deps)
			if err != nil {
				return false
			}
			order := g.Order()
			if len(order) != n {
				return false
			}
			pos := make(map[int]int, n)
			for i, id := range order {
				pos[id] = i
			}
			for id, ds := range deps {
				for _, d := range ds {
					if pos[d] >= pos[id] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.Int64Range(1, 1<<62),
	))

	properties.TestingRun(t)
}

func TestProperty_AffectedIsClosedUnderDependents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("dependents of affected nodes are affected", prop.ForAll(
		func(n int, seed int64, changedID int) bool {
			deps := dagFromSeed(n, seed)
			g, err := Build(deps)
			if err != nil {
				return false
			}
			changed := changedID % n

			affected := g.Affected([]int{changed})
			set := make(map[int]bool, len(affected))
			for _, id := range affected {
				set[id] = true
			}

			// Closure: every dependent of an affected node is affected.
			for _, id := range affected {
				for _, dep := range g.Dependents(id) {
					if !set[dep] {
						return false
					}
				}
			}
			// Every direct dependent of the changed node is affected.
			for _, dep := range g.Dependents(changed) {
				if !set[dep] {
					return false
				}
			}
			// The changed node contributes dependents but is not itself
			// affected; acyclicity keeps it out of its own closure.
			return !set[changed]
		},
		gen.IntRange(1, 40),
		gen.Int64Range(1, 1<<62),
		gen.IntRange(0, 1<<30),
	))

	properties.TestingRun(t)
}

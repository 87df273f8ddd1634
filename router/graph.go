package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hairizuan-noorazman/testflow/testcase"
)

// ErrCycleDetected is returned when the depends_on edges of a case form a cycle.
var ErrCycleDetected = errors.New("dependency cycle detected")

// Graph is the dependency graph of one case's steps, keyed by step index.
type Graph struct {
	steps map[int]*testcase.Step
	deps  map[int][]int
	order []int
}

// NewGraph builds the graph from depends_on edges. Edges to indexes that
// are not steps of the case are ignored; validation rejects them on commit.
func NewGraph(steps []testcase.Step) *Graph {
	g := &Graph{
		steps: make(map[int]*testcase.Step, len(steps)),
		deps:  make(map[int][]int, len(steps)),
	}
	for i := range steps {
		s := &steps[i]
		g.steps[s.Index] = s
		g.order = append(g.order, s.Index)
	}
	sort.Ints(g.order)
	for _, idx := range g.order {
		s := g.steps[idx]
		if s.DependsOn == nil {
			continue
		}
		if _, ok := g.steps[*s.DependsOn]; ok {
			g.deps[idx] = append(g.deps[idx], *s.DependsOn)
		}
	}
	return g
}

// Sort returns the step indexes in a dependency-respecting order using
// Kahn's algorithm, breaking ties by index. A cycle yields ErrCycleDetected
// naming the steps left unsorted.
func (g *Graph) Sort() ([]int, error) {
	inDegree := make(map[int]int, len(g.order))
	dependents := make(map[int][]int, len(g.order))
	for _, idx := range g.order {
		inDegree[idx] += 0
		for _, d := range g.deps[idx] {
			inDegree[idx]++
			dependents[d] = append(dependents[d], idx)
		}
	}

	var queue []int
	for _, idx := range g.order {
		if inDegree[idx] == 0 {
			queue = append(queue, idx)
		}
	}

	sorted := make([]int, 0, len(g.order))
	for len(queue) > 0 {
		sort.Ints(queue)
		idx := queue[0]
		queue = queue[1:]
		sorted = append(sorted, idx)
		for _, next := range dependents[idx] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(g.order) {
		var stuck []int
		for _, idx := range g.order {
			if inDegree[idx] > 0 {
				stuck = append(stuck, idx)
			}
		}
		return nil, fmt.Errorf("%w: steps %v", ErrCycleDetected, stuck)
	}
	return sorted, nil
}

// Ancestors returns the transitive dependencies of a step, breadth first
// from the step itself.
func (g *Graph) Ancestors(index int) []int {
	seen := map[int]bool{index: true}
	var out []int
	queue := append([]int(nil), g.deps[index]...)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
		queue = append(queue, g.deps[idx]...)
	}
	return out
}

// Step returns the step at an index.
func (g *Graph) Step(index int) *testcase.Step {
	return g.steps[index]
}

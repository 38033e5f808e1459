// Package depgraph computes a deterministic start order for modules from
// their declared dependencies. Ties between independent branches are broken
// by descending cumulative cost, then by insertion order, so the same input
// always yields the same order.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is an insertion-ordered dependency map where Add(a, b, c) means
// "a depends on b and c". It is not safe for concurrent use; the host
// builds and sorts a graph within a single orchestration pass.
type Graph struct {
	// order preserves first-seen node order for the stable tie-break.
	order []string
	deps  map[string][]string
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Add registers a node and its dependencies. Every referenced dependency is
// registered as well, with an empty dependency list, so the graph is always
// normalized. Calling Add again for the same node appends further
// dependencies; duplicates are ignored.
func (g *Graph) Add(node string, deps ...string) {
	g.register(node)
	for _, d := range deps {
		g.register(d)
		if !contains(g.deps[node], d) {
			g.deps[node] = append(g.deps[node], d)
		}
	}
}

func (g *Graph) register(node string) {
	if _, ok := g.deps[node]; !ok {
		g.deps[node] = nil
		g.order = append(g.order, node)
	}
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DependenciesOf returns the direct dependencies of node in declaration order.
func (g *Graph) DependenciesOf(node string) []string {
	out := make([]string, len(g.deps[node]))
	copy(out, g.deps[node])
	return out
}

// CycleError reports that no total order exists because the remaining nodes
// form at least one dependency cycle.
type CycleError struct {
	// Remaining holds the unresolved nodes, in insertion order.
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among: %s", strings.Join(e.Remaining, ", "))
}

// Sort returns one total order in which every node appears after all of its
// dependencies. If costs is non-empty, independent branches are ordered by
// descending cumulative cost: each node's weight is the sum of the costs of
// all nodes transitively reachable from it along reverse dependency edges,
// including itself. Nodes missing from costs weigh zero.
//
// Sort fails with a *CycleError if the graph contains a cycle; no partial
// order is returned.
func (g *Graph) Sort(costs map[string]float64) ([]string, error) {
	if len(costs) == 0 {
		return g.sortOnce(nil)
	}

	// First compute a cost-free order, then fold costs backward along the
	// dependency edges so every node carries the total cost of the branch
	// that follows it.
	base, err := g.sortOnce(nil)
	if err != nil {
		return nil, err
	}

	branch := make(map[string]map[string]struct{}, len(base))
	for _, n := range base {
		branch[n] = map[string]struct{}{n: {}}
	}
	// base lists dependencies first; walking it backward visits each node
	// only after all of its dependents are complete.
	for i := len(base) - 1; i >= 0; i-- {
		n := base[i]
		for _, d := range g.deps[n] {
			for m := range branch[n] {
				branch[d][m] = struct{}{}
			}
		}
	}

	weight := make(map[string]float64, len(branch))
	for n, set := range branch {
		var total float64
		for m := range set {
			total += costs[m]
		}
		weight[n] = total
	}
	return g.sortOnce(weight)
}

func (g *Graph) sortOnce(weight map[string]float64) ([]string, error) {
	remaining := make(map[string]map[string]struct{}, len(g.order))
	for n, deps := range g.deps {
		set := make(map[string]struct{}, len(deps))
		for _, d := range deps {
			set[d] = struct{}{}
		}
		remaining[n] = set
	}

	order := make([]string, 0, len(g.order))
	done := make(map[string]struct{}, len(g.order))
	for len(order) < len(g.order) {
		var ready []string
		for _, n := range g.order {
			if _, ok := done[n]; ok {
				continue
			}
			if len(remaining[n]) == 0 {
				ready = append(ready, n)
			}
		}

		if len(ready) == 0 {
			var left []string
			for _, n := range g.order {
				if _, ok := done[n]; !ok {
					left = append(left, n)
				}
			}
			return nil, &CycleError{Remaining: left}
		}

		if weight != nil {
			sort.SliceStable(ready, func(i, j int) bool {
				return weight[ready[i]] > weight[ready[j]]
			})
		}

		pick := ready[0]
		order = append(order, pick)
		done[pick] = struct{}{}
		for _, set := range remaining {
			delete(set, pick)
		}
	}
	return order, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package depgraph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func indexOf(t *testing.T, order []string, node string) int {
	t.Helper()
	for i, n := range order {
		if n == node {
			return i
		}
	}
	t.Fatalf("node %q not in order %v", node, order)
	return -1
}

func TestSort(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		order, err := New().Sort(nil)
		require.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("dependencies come first", func(t *testing.T) {
		g := New()
		g.Add("a", "b", "c")
		g.Add("c", "b", "d")
		g.Add("e", "b")

		order, err := g.Sort(nil)
		require.NoError(t, err)
		require.Len(t, order, 5)

		assert.Less(t, indexOf(t, order, "b"), indexOf(t, order, "c"))
		assert.Less(t, indexOf(t, order, "b"), indexOf(t, order, "e"))
		assert.Less(t, indexOf(t, order, "b"), indexOf(t, order, "a"))
		assert.Less(t, indexOf(t, order, "c"), indexOf(t, order, "a"))
		assert.Less(t, indexOf(t, order, "d"), indexOf(t, order, "c"))
	})

	t.Run("referenced nodes are normalized in", func(t *testing.T) {
		g := New()
		g.Add("a", "b")
		assert.ElementsMatch(t, []string{"a", "b"}, g.Nodes())
		assert.Empty(t, g.DependenciesOf("b"))
	})

	t.Run("cumulative cost breaks ties", func(t *testing.T) {
		g := New()
		g.Add("a", "b", "c")
		g.Add("c", "b", "d")
		g.Add("e", "b")

		costs := map[string]float64{"a": 0, "b": 0, "c": 1, "e": 1, "d": 3}
		order, err := g.Sort(costs)
		require.NoError(t, err)

		// d carries cost 3+1+0=4, b carries 0+1+1+0=2, so d is selected
		// before b among the initially unblocked nodes.
		assert.Less(t, indexOf(t, order, "d"), indexOf(t, order, "b"))
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		build := func() *Graph {
			g := New()
			g.Add("gui", "logic")
			g.Add("logic", "nic", "dac")
			g.Add("scope")
			return g
		}
		costs := map[string]float64{"nic": 2, "dac": 2, "scope": 5}

		first, err := build().Sort(costs)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := build().Sort(costs)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("direct cycle fails", func(t *testing.T) {
		g := New()
		g.Add("a", "b")
		g.Add("b", "a")

		order, err := g.Sort(nil)
		assert.Nil(t, order)
		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.ElementsMatch(t, []string{"a", "b"}, ce.Remaining)
	})

	t.Run("cycle error names only the unresolved subset", func(t *testing.T) {
		g := New()
		g.Add("ok")
		g.Add("a", "b", "ok")
		g.Add("b", "c")
		g.Add("c", "a")

		_, err := g.Sort(nil)
		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, ce.Remaining)
		assert.NotContains(t, ce.Remaining, "ok")
	})

	t.Run("self dependency is a cycle", func(t *testing.T) {
		g := New()
		g.Add("a", "a")
		_, err := g.Sort(nil)
		var ce *CycleError
		require.ErrorAs(t, err, &ce)
	})
}

func TestAdd(t *testing.T) {
	g := New()
	g.Add("a", "b")
	g.Add("a", "b", "c")
	assert.Equal(t, []string{"b", "c"}, g.DependenciesOf("a"))
	assert.Equal(t, 3, g.Len())
}

// randomAcyclicGraph draws a graph guaranteed to be acyclic by only allowing
// edges from later nodes to earlier ones.
func randomAcyclicGraph(t *rapid.T) (*Graph, map[string][]string) {
	n := rapid.IntRange(1, 12).Draw(t, "n")
	nodes := make([]string, n)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("m%d", i)
	}

	g := New()
	deps := make(map[string][]string)
	for i, node := range nodes {
		var picked []string
		for j := 0; j < i; j++ {
			if rapid.Bool().Draw(t, fmt.Sprintf("edge-%d-%d", i, j)) {
				picked = append(picked, nodes[j])
			}
		}
		g.Add(node, picked...)
		deps[node] = picked
	}
	return g, deps
}

func TestSortProperties(t *testing.T) {
	t.Run("every node appears after its dependencies", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			g, deps := randomAcyclicGraph(t)

			order, err := g.Sort(nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(order) != g.Len() {
				t.Fatalf("order has %d nodes, graph has %d", len(order), g.Len())
			}

			pos := make(map[string]int, len(order))
			for i, n := range order {
				pos[n] = i
			}
			for node, nodeDeps := range deps {
				for _, d := range nodeDeps {
					if pos[d] > pos[node] {
						t.Fatalf("dependency %s sorted after %s in %v", d, node, order)
					}
				}
			}
		})
	})

	t.Run("identical input yields identical order", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			g1, _ := randomAcyclicGraph(t)

			costs := make(map[string]float64)
			for i, n := range g1.Nodes() {
				costs[n] = rapid.Float64Range(0, 10).Draw(t, fmt.Sprintf("cost-%d", i))
			}

			first, err := g1.Sort(costs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			second, err := g1.Sort(costs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(first) != len(second) {
				t.Fatalf("orders differ in length: %v vs %v", first, second)
			}
			for i := range first {
				if first[i] != second[i] {
					t.Fatalf("orders differ at %d: %v vs %v", i, first, second)
				}
			}
		})
	})
}

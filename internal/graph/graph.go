package graph

import (
	"sort"

	"github.com/starford/munin/internal/models"
)

// Graph is an immutable dependency graph. Nodes and Edges are sorted
// deterministically; cycle data is computed once at build time.
type Graph struct {
	Nodes []string      `json:"nodes"`
	Edges []models.Edge `json:"edges"`

	cycleEdges []models.Edge
	cyclePaths []string
	compOf     map[string]int
	compSize   map[int]int
	forward    map[string][]string
	reverse    map[string][]string
}

// Payload is the JSON shape served by the graph endpoints.
type Payload struct {
	Nodes      []string      `json:"nodes"`
	Edges      []models.Edge `json:"edges"`
	CyclePaths []string      `json:"cycle_paths"`
}

// Payload bundles the graph with its cycle participants.
func (g *Graph) Payload() Payload {
	return Payload{Nodes: g.Nodes, Edges: g.Edges, CyclePaths: g.CyclePaths()}
}

// CycleEdges returns the transclusion edges that participate in at least
// one cycle. Link edges never count: links are not expanded, so cycles
// through them are harmless.
func (g *Graph) CycleEdges() []models.Edge {
	return g.cycleEdges
}

// CyclePaths returns the sorted set of documents participating in
// transclusion cycles.
func (g *Graph) CyclePaths() []string {
	return g.cyclePaths
}

// CycleFor returns the sorted members of the transclusion cycle that
// path belongs to, or nil when it is cycle-free.
func (g *Graph) CycleFor(path string) []string {
	comp, ok := g.compOf[path]
	if !ok || g.compSize[comp] < 2 {
		// A single-node component is only cyclic via a self-loop.
		if g.selfLoop(path) {
			return []string{path}
		}
		return nil
	}
	var members []string
	for n, c := range g.compOf {
		if c == comp {
			members = append(members, n)
		}
	}
	sort.Strings(members)
	return members
}

// AncestorsOf returns every document that transitively references path
// through valid edges: the set whose rendered output or link structure
// is affected when path changes.
func (g *Graph) AncestorsOf(path string) []string {
	return g.reach(path, g.reverse)
}

// DescendantsOf returns every document that path transitively depends
// on through valid edges.
func (g *Graph) DescendantsOf(path string) []string {
	return g.reach(path, g.forward)
}

// InvalidEdges returns the edges flagged during the build: missing
// targets, missing sections, malformed directives.
func (g *Graph) InvalidEdges() []models.Edge {
	var out []models.Edge
	for _, e := range g.Edges {
		if e.Invalid {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFrom returns the edges originating at path, in source order.
func (g *Graph) EdgesFrom(path string) []models.Edge {
	var out []models.Edge
	for _, e := range g.Edges {
		if e.Source == path {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) selfLoop(path string) bool {
	for _, e := range g.Edges {
		if e.Kind == models.EdgeTransclusion && !e.Invalid && e.Source == path && e.Target == path {
			return true
		}
	}
	return false
}

func (g *Graph) reach(start string, adj map[string][]string) []string {
	seen := make(map[string]struct{})
	var out []string

	queue := append([]string(nil), adj[start]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
		queue = append(queue, adj[n]...)
	}
	sort.Strings(out)
	return out
}

// finalize computes traversal adjacency and cycle data. Called once by
// the builder; Graph is read-only afterwards.
func (g *Graph) finalize() {
	g.forward = make(map[string][]string)
	g.reverse = make(map[string][]string)
	transAdj := make(map[string][]string)
	for _, e := range g.Edges {
		if e.Invalid {
			continue
		}
		g.forward[e.Source] = append(g.forward[e.Source], e.Target)
		g.reverse[e.Target] = append(g.reverse[e.Target], e.Source)
		if e.Kind == models.EdgeTransclusion {
			transAdj[e.Source] = append(transAdj[e.Source], e.Target)
		}
	}

	g.tarjan(transAdj)

	inCycle := make(map[string]struct{})
	for _, e := range g.Edges {
		if e.Kind != models.EdgeTransclusion || e.Invalid {
			continue
		}
		cyclic := e.Source == e.Target ||
			(g.compSize[g.compOf[e.Source]] > 1 && g.compOf[e.Source] == g.compOf[e.Target])
		if cyclic {
			g.cycleEdges = append(g.cycleEdges, e)
			inCycle[e.Source] = struct{}{}
			inCycle[e.Target] = struct{}{}
		}
	}
	g.cyclePaths = make([]string, 0, len(inCycle))
	for n := range inCycle {
		g.cyclePaths = append(g.cyclePaths, n)
	}
	sort.Strings(g.cyclePaths)
}

// tarjan assigns strongly connected component ids over the transclusion
// adjacency. Nodes sharing a multi-member component sit on a cycle.
func (g *Graph) tarjan(adj map[string][]string) {
	g.compOf = make(map[string]int)
	g.compSize = make(map[int]int)

	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	next := 0
	comp := 0

	var connect func(v string)
	connect = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := index[w]; !seen {
				connect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				g.compOf[w] = comp
				g.compSize[comp]++
				if w == v {
					break
				}
			}
			comp++
		}
	}

	for _, n := range g.Nodes {
		if _, seen := index[n]; !seen {
			connect(n)
		}
	}
}

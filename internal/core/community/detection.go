// Package community groups co-occurring entities into clusters over the
// relationship graph.
package community

import (
	"cmp"
	"slices"

	"github.com/agenthands/entitynet/internal/core/model"
)

// MinSize is the smallest cluster reported. Isolated nodes are not communities.
const MinSize = 2

type Detector interface {
	Detect(nodes []model.Node, rels []model.Relationship) [][]model.Node
}

// ByName returns the detector registered under name, or false.
func ByName(name string) (Detector, bool) {
	switch name {
	case "", "components":
		return Components{}, true
	case "lpa", "label_propagation":
		return NewLabelPropagation(), true
	default:
		return nil, false
	}
}

// Components reports the connected components of the graph.
type Components struct{}

func (Components) Detect(nodes []model.Node, rels []model.Relationship) [][]model.Node {
	g := newGraph(nodes, rels)

	visited := make(map[string]bool, len(g.order))
	var out [][]string
	for _, start := range g.order {
		if visited[start] {
			continue
		}
		visited[start] = true
		component := []string{start}
		for i := 0; i < len(component); i++ {
			for _, v := range g.neighbors(component[i]) {
				if !visited[v] {
					visited[v] = true
					component = append(component, v)
				}
			}
		}
		out = append(out, component)
	}
	return g.materialize(out)
}

// graph is an undirected adjacency view restricted to the given nodes. Edges
// to unknown uids are ignored.
type graph struct {
	nodes map[string]model.Node
	adj   map[string]map[string]int
	order []string
}

func newGraph(nodes []model.Node, rels []model.Relationship) *graph {
	g := &graph{
		nodes: make(map[string]model.Node, len(nodes)),
		adj:   make(map[string]map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.nodes[n.UID]; dup {
			continue
		}
		g.nodes[n.UID] = n
		g.adj[n.UID] = map[string]int{}
		g.order = append(g.order, n.UID)
	}
	slices.Sort(g.order)

	for _, r := range rels {
		if r.UIDA == r.UIDB {
			continue
		}
		if _, ok := g.nodes[r.UIDA]; !ok {
			continue
		}
		if _, ok := g.nodes[r.UIDB]; !ok {
			continue
		}
		g.adj[r.UIDA][r.UIDB]++
		g.adj[r.UIDB][r.UIDA]++
	}
	return g
}

// neighbors returns the adjacent uids in sorted order.
func (g *graph) neighbors(uid string) []string {
	out := make([]string, 0, len(g.adj[uid]))
	for v := range g.adj[uid] {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// materialize resolves uid groups to nodes, drops groups below MinSize and
// orders the result: largest first, then by smallest member uid.
func (g *graph) materialize(groups [][]string) [][]model.Node {
	var out [][]model.Node
	for _, uids := range groups {
		if len(uids) < MinSize {
			continue
		}
		slices.Sort(uids)
		members := make([]model.Node, len(uids))
		for i, uid := range uids {
			members[i] = g.nodes[uid].Clone()
		}
		out = append(out, members)
	}
	slices.SortFunc(out, func(a, b []model.Node) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a[0].UID, b[0].UID)
	})
	return out
}

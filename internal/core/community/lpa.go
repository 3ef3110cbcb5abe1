package community

import (
	"slices"

	"github.com/agenthands/entitynet/internal/core/model"
)

const defaultMaxIterations = 20

// LabelPropagation splits loosely bridged clusters that Components would
// merge. Nodes are visited in uid order and ties go to the largest label, so
// the result is deterministic.
type LabelPropagation struct {
	MaxIterations int
}

func NewLabelPropagation() *LabelPropagation {
	return &LabelPropagation{MaxIterations: defaultMaxIterations}
}

func (d *LabelPropagation) Detect(nodes []model.Node, rels []model.Relationship) [][]model.Node {
	g := newGraph(nodes, rels)

	labels := make(map[string]string, len(g.order))
	for _, uid := range g.order {
		labels[uid] = uid
	}

	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := 0
		for _, u := range g.order {
			if best, ok := dominantLabel(g.adj[u], labels); ok && labels[u] != best {
				labels[u] = best
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	groups := map[string][]string{}
	var keys []string
	for _, uid := range g.order {
		l := labels[uid]
		if _, ok := groups[l]; !ok {
			keys = append(keys, l)
		}
		groups[l] = append(groups[l], uid)
	}
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return g.materialize(out)
}

// dominantLabel returns the label carrying the most edge weight among the
// neighbours. ok is false for isolated nodes.
func dominantLabel(neighbors map[string]int, labels map[string]string) (string, bool) {
	if len(neighbors) == 0 {
		return "", false
	}
	weights := map[string]int{}
	top := 0
	for v, w := range neighbors {
		l := labels[v]
		weights[l] += w
		top = max(top, weights[l])
	}
	var candidates []string
	for l, w := range weights {
		if w == top {
			candidates = append(candidates, l)
		}
	}
	return slices.Max(candidates), true
}

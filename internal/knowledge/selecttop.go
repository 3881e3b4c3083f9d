package knowledge

import "sort"

// SelectTop derives the presentation view of a graph: each node's
// degree counts only edges at or above minStrength, the top k nodes by
// degree survive (ties keep original order), and surviving edges need
// both endpoints kept plus the strength threshold. The input graph is
// never mutated.
func SelectTop(g Graph, k, minStrength int) Graph {
	degree := make(map[string]int, len(g.Nodes))
	order := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := degree[n.ID]; !ok {
			order = append(order, n.ID)
		}
		degree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.Strength < minStrength {
			continue
		}
		degree[e.Source]++
		degree[e.Target]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return degree[order[i]] > degree[order[j]]
	})
	if k < 0 {
		k = 0
	}
	if k > len(order) {
		k = len(order)
	}
	keep := make(map[string]bool, k)
	for _, id := range order[:k] {
		keep[id] = true
	}

	out := Graph{}
	for _, n := range g.Nodes {
		if keep[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range g.Edges {
		if keep[e.Source] && keep[e.Target] && e.Strength >= minStrength {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

package relation

import (
	"context"
	"sort"

	"github.com/neuralfs/neuralfs/internal/models"
)

// DefaultGraphDepth bounds graph queries when the caller passes 0.
const DefaultGraphDepth = 2

// Graph returns the neighborhood around a center file up to depth
// hops. Rejected relations are excluded; adjusted edges carry the
// user's strength.
func (e *Engine) Graph(ctx context.Context, center string, depth int) (*models.RelationGraph, error) {
	if depth <= 0 {
		depth = DefaultGraphDepth
	}

	visited := map[string]bool{center: true}
	seenEdges := make(map[string]bool)
	g := &models.RelationGraph{Center: center, Depth: depth, Nodes: []string{center}}

	frontier := []string{center}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			rels, err := e.store.Relations.ListForFile(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				if rel.Feedback == models.FeedbackRejected {
					continue
				}
				// one edge per unordered pair and kind
				a, b := rel.SourceID, rel.TargetID
				if a > b {
					a, b = b, a
				}
				key := a + "|" + b + "|" + string(rel.Kind)
				if !seenEdges[key] {
					seenEdges[key] = true
					g.Edges = append(g.Edges, rel)
				}
				other := rel.TargetID
				if other == id {
					other = rel.SourceID
				}
				if !visited[other] {
					visited[other] = true
					g.Nodes = append(g.Nodes, other)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	sort.Slice(g.Edges, func(i, j int) bool {
		return g.Edges[i].EffectiveStrength() > g.Edges[j].EffectiveStrength()
	})
	return g, nil
}

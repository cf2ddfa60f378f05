package workflow

import (
	"sort"

	"go.uber.org/zap"
)

// Optimization holds advisory hints derived from a parsed workflow. Applying
// them must never change result semantics, only ordering and batching.
type Optimization struct {
	// MergeChains lists runs of same-agent tasks forming a straight
	// dependency chain; the caller may batch them into one agent session.
	MergeChains [][]string
	// ParallelHints lists stage groups that are safe to run concurrently.
	ParallelHints [][]string
	// ReorderHints lists independent task pairs whose relative order the
	// executor is free to swap.
	ReorderHints [][2]string
}

// Optimize inspects a parsed workflow for batching and reordering
// opportunities. The result is best-effort and purely advisory.
func (e *Engine) Optimize(parsed *ParsedWorkflow) *Optimization {
	if parsed == nil || parsed.Graph == nil {
		return &Optimization{}
	}
	g := parsed.Graph

	opt := &Optimization{
		MergeChains:   sameAgentChains(g),
		ParallelHints: parallelGroups(g, levelBuckets(g)),
		ReorderHints:  reorderPairs(g),
	}

	e.logger.Debug("workflow optimization computed",
		zap.String("workflow_id", parsed.Workflow.ID),
		zap.Int("merge_chains", len(opt.MergeChains)),
		zap.Int("parallel_hints", len(opt.ParallelHints)),
	)
	return opt
}

func levelBuckets(g *Graph) [][]string {
	buckets := make([][]string, g.MaxLevel()+1)
	for id, n := range g.Nodes() {
		buckets[n.Level] = append(buckets[n.Level], id)
	}
	for _, b := range buckets {
		sort.Strings(b)
	}
	return buckets
}

// sameAgentChains walks straight-line dependency chains (single successor,
// single predecessor) bound to the same agent.
func sameAgentChains(g *Graph) [][]string {
	var chains [][]string
	visited := make(map[string]bool)

	ids := make([]string, 0, len(g.Nodes()))
	for id := range g.Nodes() {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := g.Nodes()[id]
		if visited[id] || node.InDegree == 1 {
			// Chain interiors are picked up from their head.
			continue
		}
		chain := []string{id}
		visited[id] = true
		current := node
		currentID := id
		for current.OutDegree == 1 {
			nextID := g.Successors(currentID)[0]
			next := g.Nodes()[nextID]
			if next.InDegree != 1 || next.Task.AgentID != node.Task.AgentID {
				break
			}
			chain = append(chain, nextID)
			visited[nextID] = true
			current, currentID = next, nextID
		}
		if len(chain) > 1 {
			chains = append(chains, chain)
		}
	}
	return chains
}

// reorderPairs lists same-level task pairs, which are independent by
// construction and therefore order-free.
func reorderPairs(g *Graph) [][2]string {
	var pairs [][2]string
	for _, bucket := range levelBuckets(g) {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				pairs = append(pairs, [2]string{bucket[i], bucket[j]})
			}
		}
	}
	return pairs
}

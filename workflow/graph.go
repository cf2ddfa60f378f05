package workflow

import "github.com/orchestrahq/orchestra/types"

// Node is one task in the derived dependency graph with its computed
// topology. Level 0 means no dependencies; level(n) = 1 + max level over
// direct dependencies.
type Node struct {
	Task      *types.AgentTask
	InDegree  int
	OutDegree int
	Level     int
}

// Edge is a directed dependency edge: From must complete before To starts.
type Edge struct {
	From string
	To   string
	Type types.EdgeType
}

// Graph is the derived dependency graph of a workflow. It is computed on
// every parse and never persisted.
type Graph struct {
	nodes      map[string]*Node
	edges      []Edge
	successors map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		successors: make(map[string][]string),
	}
}

// AddNode adds a task node to the graph.
func (g *Graph) AddNode(task *types.AgentTask) {
	g.nodes[task.ID] = &Node{Task: task}
}

// AddEdge adds a directed edge and updates degree counts.
func (g *Graph) AddEdge(from, to string, edgeType types.EdgeType) {
	g.edges = append(g.edges, Edge{From: from, To: to, Type: edgeType})
	g.successors[from] = append(g.successors[from], to)
	if n, ok := g.nodes[from]; ok {
		n.OutDegree++
	}
	if n, ok := g.nodes[to]; ok {
		n.InDegree++
	}
}

// Node returns the node for a task ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the node map keyed by task ID.
func (g *Graph) Nodes() map[string]*Node { return g.nodes }

// Edges returns all edges.
func (g *Graph) Edges() []Edge { return g.edges }

// Successors returns the direct successor IDs of a node.
func (g *Graph) Successors(id string) []string { return g.successors[id] }

// MaxLevel returns the highest computed level, or -1 for an empty graph.
func (g *Graph) MaxLevel() int {
	max := -1
	for _, n := range g.nodes {
		if n.Level > max {
			max = n.Level
		}
	}
	return max
}

// HasPath reports whether any directed path leads from one node to another.
func (g *Graph) HasPath(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, next := range g.successors[id] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}

// Package workflow implements the workflow engine: it parses a declarative
// task graph, validates it, detects cycles, computes topological levels,
// and derives the staged execution plan the orchestrator runs.
package workflow

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/config"
	"github.com/orchestrahq/orchestra/types"
)

// Validation holds the outcome of workflow validation. Warnings never block
// execution; any entry in Errors is fatal.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ParsedWorkflow couples a workflow with its derived graph and validation
// result.
type ParsedWorkflow struct {
	Workflow   *types.AgentWorkflow
	Graph      *Graph
	Validation *Validation
}

// Engine parses workflow definitions and derives execution plans.
type Engine struct {
	cfg    config.WorkflowConfig
	logger *zap.Logger
}

// NewEngine creates a workflow engine. A nil logger is replaced with a nop.
func NewEngine(cfg config.WorkflowConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "workflow_engine")),
	}
}

// Parse validates a workflow definition and builds its dependency graph.
// Structural problems (cycles, failed leveling) and validation errors are
// fatal; missing timeouts only produce warnings.
func (e *Engine) Parse(wf *types.AgentWorkflow) (*ParsedWorkflow, error) {
	if wf == nil {
		return nil, types.NewError(types.ErrValidationFailed, "workflow is nil")
	}

	validation := e.validate(wf)
	if !validation.Valid {
		return nil, types.NewErrorf(types.ErrValidationFailed,
			"workflow %q invalid: %v", wf.ID, validation.Errors)
	}

	graph := NewGraph()
	for i := range wf.Tasks {
		graph.AddNode(&wf.Tasks[i])
	}
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		for _, dep := range task.Dependencies {
			graph.AddEdge(dep, task.ID, edgeTypeFor(task))
		}
	}

	if cycle := findCycle(graph); cycle != nil {
		return nil, types.NewErrorf(types.ErrCycleDetected,
			"workflow %q contains a dependency cycle: %v", wf.ID, cycle)
	}

	if err := computeLevels(graph); err != nil {
		return nil, err
	}

	if e.cfg.MaxDepth > 0 && graph.MaxLevel()+1 > e.cfg.MaxDepth {
		return nil, types.NewErrorf(types.ErrValidationFailed,
			"workflow %q depth %d exceeds limit %d", wf.ID, graph.MaxLevel()+1, e.cfg.MaxDepth)
	}

	e.logger.Debug("workflow parsed",
		zap.String("workflow_id", wf.ID),
		zap.Int("tasks", len(wf.Tasks)),
		zap.Int("levels", graph.MaxLevel()+1),
		zap.Int("warnings", len(validation.Warnings)),
	)

	return &ParsedWorkflow{Workflow: wf, Graph: graph, Validation: validation}, nil
}

// validate checks required fields, task-count bounds, duplicate IDs, and
// unresolved dependencies.
func (e *Engine) validate(wf *types.AgentWorkflow) *Validation {
	v := &Validation{Valid: true}
	if !e.cfg.EnableValidation {
		return v
	}

	fail := func(format string, args ...any) {
		v.Valid = false
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
	}

	if wf.ID == "" {
		fail("workflow id is required")
	}
	if wf.Name == "" {
		fail("workflow name is required")
	}
	if len(wf.Tasks) == 0 {
		fail("workflow has no tasks")
	}
	if e.cfg.MaxTasks > 0 && len(wf.Tasks) > e.cfg.MaxTasks {
		fail("task count %d exceeds limit %d", len(wf.Tasks), e.cfg.MaxTasks)
	}

	ids := make(map[string]bool, len(wf.Tasks))
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.ID == "" {
			fail("task at index %d has no id", i)
			continue
		}
		if ids[task.ID] {
			fail("duplicate task id %q", task.ID)
		}
		ids[task.ID] = true
	}

	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.AgentID == "" {
			warn("task %q has no agent id, any available agent may serve it", task.ID)
		}
		for _, dep := range task.Dependencies {
			if dep == task.ID {
				fail("task %q depends on itself", task.ID)
			} else if !ids[dep] {
				fail("task %q depends on unknown task %q", task.ID, dep)
			}
		}
		if task.Timeout <= 0 {
			warn("task %q has no timeout, default %s applies", task.ID, e.cfg.DefaultTimeout)
		}
	}

	return v
}

// edgeTypeFor maps a task's control-flow type onto the dependency edge type
// feeding into it.
func edgeTypeFor(task *types.AgentTask) types.EdgeType {
	switch task.Type {
	case types.TaskConditional:
		return types.EdgeConditional
	case types.TaskParallel:
		return types.EdgeParallel
	default:
		return types.EdgeDependency
	}
}

// findCycle runs a DFS three-color traversal and returns the node IDs on the
// first cycle found, or nil for an acyclic graph.
func findCycle(g *Graph) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.Nodes()))
	var stack []string

	// Deterministic iteration keeps error messages stable across parses.
	ids := make([]string, 0, len(g.Nodes()))
	for id := range g.Nodes() {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range g.Successors(id) {
			switch color[next] {
			case grey:
				// Found a back edge: slice out the cycle from the stack.
				for i, on := range stack {
					if on == next {
						return append(append([]string{}, stack[i:]...), next)
					}
				}
				return []string{next, id, next}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeLevels runs Kahn's algorithm to assign topological levels. Any node
// left with non-zero in-degree afterwards is evidence of an undetected cycle
// and fails the parse.
func computeLevels(g *Graph) error {
	inDegree := make(map[string]int, len(g.Nodes()))
	var queue []string

	ids := make([]string, 0, len(g.Nodes()))
	for id := range g.Nodes() {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.Nodes()[id]
		inDegree[id] = n.InDegree
		n.Level = 0
		if n.InDegree == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		level := g.Nodes()[id].Level
		for _, next := range g.Successors(id) {
			succ := g.Nodes()[next]
			if level+1 > succ.Level {
				succ.Level = level + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(g.Nodes()) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return types.NewErrorf(types.ErrLevelComputeFailed,
			"level computation left %d nodes unresolved (cycle suspected): %v",
			len(g.Nodes())-processed, stuck)
	}
	return nil
}

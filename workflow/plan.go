package workflow

import (
	"sort"

	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/types"
)

// BuildPlan derives the staged execution plan from a parsed workflow. Stage
// k holds exactly the tasks at level k; the orchestrator runs stages in
// order and the tasks inside one stage concurrently.
func (e *Engine) BuildPlan(parsed *ParsedWorkflow) (*types.ExecutionPlan, error) {
	if parsed == nil || parsed.Graph == nil {
		return nil, types.NewError(types.ErrValidationFailed, "parsed workflow is nil")
	}
	g := parsed.Graph

	maxLevel := g.MaxLevel()
	stages := make([][]string, maxLevel+1)
	for id, node := range g.Nodes() {
		stages[node.Level] = append(stages[node.Level], id)
	}
	for _, stage := range stages {
		sort.Strings(stage)
	}

	deps := make(map[string][]string, len(g.Nodes()))
	for id, node := range g.Nodes() {
		deps[id] = append([]string{}, node.Task.Dependencies...)
	}

	plan := &types.ExecutionPlan{
		WorkflowID:                   parsed.Workflow.ID,
		Stages:                       stages,
		Dependencies:                 deps,
		ParallelizationOpportunities: parallelGroups(g, stages),
	}

	e.logger.Debug("execution plan built",
		zap.String("workflow_id", parsed.Workflow.ID),
		zap.Int("stages", len(stages)),
		zap.Int("tasks", plan.TaskCount()),
	)
	return plan, nil
}

// parallelGroups reports, per stage, the maximal task groups with no path
// between any pair. Sharing a level already rules out a path, but the
// pairwise check stays as a guard against leveling bugs; a group is only
// emitted once the whole stage verifies clean.
func parallelGroups(g *Graph, stages [][]string) [][]string {
	var groups [][]string
	for _, stage := range stages {
		if len(stage) < 2 {
			continue
		}
		independent := true
		for i := 0; i < len(stage) && independent; i++ {
			for j := i + 1; j < len(stage); j++ {
				if g.HasPath(stage[i], stage[j]) || g.HasPath(stage[j], stage[i]) {
					independent = false
					break
				}
			}
		}
		if independent {
			groups = append(groups, append([]string{}, stage...))
		}
	}
	return groups
}

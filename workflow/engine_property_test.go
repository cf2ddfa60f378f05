package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/orchestrahq/orchestra/types"
)

// randomDAG builds a workflow whose tasks may only depend on lower-indexed
// tasks, which is acyclic by construction.
func randomDAG(n int, edgeBits []bool) *types.AgentWorkflow {
	tasks := make([]types.AgentTask, n)
	k := 0
	for i := 0; i < n; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if k < len(edgeBits) && edgeBits[k] {
				deps = append(deps, fmt.Sprintf("t%d", j))
			}
			k++
		}
		tasks[i] = types.AgentTask{
			ID:           fmt.Sprintf("t%d", i),
			AgentID:      "agent",
			Type:         types.TaskSequential,
			Dependencies: deps,
			Timeout:      time.Minute,
		}
	}
	return &types.AgentWorkflow{ID: "prop", Name: "prop", Version: 1, Tasks: tasks}
}

func TestProperty_LevelsMatchDependencyMaxima(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every node level is 1 + max level of direct dependencies", prop.ForAll(
		func(n int, edgeBits []bool) bool {
			e := testEngine()
			parsed, err := e.Parse(randomDAG(n, edgeBits))
			if err != nil {
				return false
			}
			for _, node := range parsed.Graph.Nodes() {
				want := 0
				for _, dep := range node.Task.Dependencies {
					depNode, ok := parsed.Graph.Node(dep)
					if !ok {
						return false
					}
					if depNode.Level+1 > want {
						want = depNode.Level + 1
					}
				}
				if node.Level != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("stages respect dependency ordering", prop.ForAll(
		func(n int, edgeBits []bool) bool {
			e := testEngine()
			parsed, err := e.Parse(randomDAG(n, edgeBits))
			if err != nil {
				return false
			}
			plan, err := e.BuildPlan(parsed)
			if err != nil {
				return false
			}
			stageOf := make(map[string]int)
			for i, stage := range plan.Stages {
				for _, id := range stage {
					stageOf[id] = i
				}
			}
			for id, deps := range plan.Dependencies {
				for _, dep := range deps {
					if stageOf[dep] >= stageOf[id] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestProperty_CyclesAlwaysRejected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("any ring of any size is rejected", prop.ForAll(
		func(n int) bool {
			tasks := make([]types.AgentTask, n)
			for i := 0; i < n; i++ {
				tasks[i] = types.AgentTask{
					ID:           fmt.Sprintf("t%d", i),
					AgentID:      "agent",
					Type:         types.TaskSequential,
					Dependencies: []string{fmt.Sprintf("t%d", (i+1)%n)},
					Timeout:      time.Minute,
				}
			}
			e := testEngine()
			_, err := e.Parse(&types.AgentWorkflow{ID: "ring", Name: "ring", Version: 1, Tasks: tasks})
			if n == 1 {
				// A one-task ring is a self-dependency, caught by validation.
				return types.GetErrorCode(err) == types.ErrValidationFailed
			}
			return types.GetErrorCode(err) == types.ErrCycleDetected
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

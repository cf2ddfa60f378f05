package types

import "time"

// TaskType defines how a task participates in workflow control flow.
type TaskType string

const (
	// TaskSequential runs after its dependencies, one invocation.
	TaskSequential TaskType = "sequential"
	// TaskParallel is explicitly marked safe to run alongside its stage siblings.
	TaskParallel TaskType = "parallel"
	// TaskConditional runs only when its conditions evaluate true.
	TaskConditional TaskType = "conditional"
	// TaskLoop re-invokes its agent until its conditions stop it.
	TaskLoop TaskType = "loop"
)

// RetryPolicy controls re-delivery of a failed task through the durable queue.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (0 means no retry).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	// Multiplier is the exponential backoff factor between retries.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	// Jitter adds random spread to retry delays.
	Jitter bool `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns the at-least-once delivery default: three
// attempts with exponential backoff.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// AgentTask is a single unit of work in a workflow, bound to an agent.
type AgentTask struct {
	// ID uniquely identifies the task within its workflow.
	ID string `json:"id" yaml:"id"`
	// AgentID names the agent that executes this task.
	AgentID string `json:"agent_id" yaml:"agent_id"`
	// Type specifies the task control-flow type.
	Type TaskType `json:"type" yaml:"type"`
	// Input is the free-form payload handed to the agent.
	Input map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	// Dependencies lists task IDs that must complete before this task starts.
	// Every entry must reference another task in the same workflow.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Conditions gates conditional tasks.
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	// RetryPolicy overrides the default retry behavior for this task.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	// Timeout bounds a single invocation. Zero means the configured default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AgentWorkflow is a declarative DAG of tasks. It is mutable while being
// authored (through collaboration sessions) and immutable once submitted
// for execution.
type AgentWorkflow struct {
	ID      string      `json:"id" yaml:"id"`
	Name    string      `json:"name" yaml:"name"`
	Version int         `json:"version" yaml:"version"`
	Tasks   []AgentTask `json:"tasks" yaml:"tasks"`
}

// Task returns the task with the given ID, if present.
func (w *AgentWorkflow) Task(id string) (*AgentTask, bool) {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i], true
		}
	}
	return nil, false
}

// EdgeType classifies a dependency edge in the derived graph.
type EdgeType string

const (
	EdgeDependency  EdgeType = "dependency"
	EdgeConditional EdgeType = "conditional"
	EdgeParallel    EdgeType = "parallel"
)

// ExecutionPlan is the ordered stage decomposition of a parsed workflow.
// Stage k contains exactly the tasks at graph level k; tasks within one
// stage have no path between them and may run concurrently.
type ExecutionPlan struct {
	WorkflowID string `json:"workflow_id"`
	// Stages holds task IDs grouped by topological level, in execution order.
	Stages [][]string `json:"stages"`
	// Dependencies maps each task to its direct dependency IDs.
	Dependencies map[string][]string `json:"dependencies"`
	// ParallelizationOpportunities lists within-stage task groups with no
	// path between any pair, as explicit hints for the executor.
	ParallelizationOpportunities [][]string `json:"parallelization_opportunities,omitempty"`
}

// TaskCount returns the total number of tasks across all stages.
func (p *ExecutionPlan) TaskCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s)
	}
	return n
}

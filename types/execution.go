package types

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a single task execution.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskResult captures the outcome of one task invocation.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	AgentID     string        `json:"agent_id"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Attempts    int           `json:"attempts"`
}

// Succeeded reports whether the task produced a usable result.
func (r *TaskResult) Succeeded() bool { return r.Error == "" }

// TaskExecution tracks one task's runtime state within an execution.
type TaskExecution struct {
	TaskID    string     `json:"task_id"`
	AgentID   string     `json:"agent_id"`
	Status    TaskStatus `json:"status"`
	StartTime time.Time  `json:"start_time,omitempty"`
	EndTime   time.Time  `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
}

// ExecutionMetrics aggregates per-execution counters and resource usage.
type ExecutionMetrics struct {
	TotalTasks      int           `json:"total_tasks"`
	CompletedTasks  int           `json:"completed_tasks"`
	FailedTasks     int           `json:"failed_tasks"`
	CancelledTasks  int           `json:"cancelled_tasks"`
	TotalDuration   time.Duration `json:"total_duration"`
	PeakMemoryBytes int64         `json:"peak_memory_bytes,omitempty"`
	AvgCPUPercent   float64       `json:"avg_cpu_percent,omitempty"`
}

// FailureRate returns the fraction of finished tasks that failed, in [0,1].
func (m *ExecutionMetrics) FailureRate() float64 {
	done := m.CompletedTasks + m.FailedTasks
	if done == 0 {
		return 0
	}
	return float64(m.FailedTasks) / float64(done)
}

// WorkflowExecution is one runtime instance of a workflow. It is created at
// submission, mutated by the orchestrator as stages settle, and never reused
// after reaching a terminal status.
type WorkflowExecution struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Status     ExecutionStatus        `json:"status"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time,omitempty"`
	Tasks      []*TaskExecution       `json:"tasks"`
	Results    map[string]*TaskResult `json:"results"`
	Metrics    *ExecutionMetrics      `json:"metrics"`
	Context    map[string]any         `json:"context,omitempty"`
}

// TaskExecution returns the runtime record for the given task ID.
func (e *WorkflowExecution) TaskExecution(taskID string) (*TaskExecution, bool) {
	for _, t := range e.Tasks {
		if t.TaskID == taskID {
			return t, true
		}
	}
	return nil, false
}

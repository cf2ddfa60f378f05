package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchestrahq/orchestra/event"
	"github.com/orchestrahq/orchestra/types"
)

// runStages drives the plan stage by stage. Every task in a stage is
// attempted and the stage settles only when all of them have; a failing
// task never skips its siblings. The returned error is reserved for system
// conditions (cancellation), not task failures.
func (o *Orchestrator) runStages(exec *execution, plan *types.ExecutionPlan) error {
	for i, stage := range plan.Stages {
		select {
		case <-exec.ctx.Done():
			return o.cancelError(exec)
		default:
		}

		o.logger.Debug("stage started",
			zap.String("execution_id", exec.record.ID),
			zap.Int("stage", i),
			zap.Strings("tasks", stage),
		)

		g := new(errgroup.Group)
		for _, taskID := range stage {
			id := taskID
			g.Go(func() error {
				o.runTask(exec, id)
				return nil
			})
		}
		// Task outcomes are recorded on the execution record; the group
		// only joins the goroutines.
		_ = g.Wait()

		if exec.ctx.Err() != nil {
			return o.cancelError(exec)
		}
	}
	return nil
}

func (o *Orchestrator) cancelError(exec *execution) error {
	if cause := context.Cause(exec.ctx); cause != nil && cause != context.Canceled {
		return types.NewError(types.ErrExecutionCancelled, "execution aborted").WithCause(cause)
	}
	return types.NewErrorf(types.ErrExecutionCancelled, "execution %q cancelled", exec.record.ID)
}

// runTask executes one task to a terminal state: wait for dependencies,
// attempt the invocation, and on failure either settle immediately or hand
// the task to the retry queue and wait for it to settle.
func (o *Orchestrator) runTask(exec *execution, taskID string) {
	task, ok := exec.wf.Task(taskID)
	if !ok {
		return
	}

	o.mu.Lock()
	te, _ := exec.record.TaskExecution(taskID)
	te.Status = types.TaskRunning
	te.StartTime = time.Now()
	o.mu.Unlock()
	o.publish(event.NewTaskEvent(event.TaskStarted, exec.record.ID, taskID, task.AgentID, types.TaskRunning, 0, ""))

	if err := o.waitDependencies(exec, task); err != nil {
		o.settle(exec, task, &types.TaskResult{
			TaskID:    taskID,
			AgentID:   task.AgentID,
			StartedAt: te.StartTime,
			Error:     err.Error(),
			Attempts:  1,
		})
		return
	}

	result := o.attempt(exec, task, 1)
	if result.Succeeded() || task.RetryPolicy == nil || o.queue == nil {
		o.settle(exec, task, result)
		return
	}

	if err := o.enqueueRetry(exec, task); err != nil {
		o.logger.Error("failed to enqueue retry",
			zap.String("execution_id", exec.record.ID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		o.settle(exec, task, result)
		return
	}

	// The retry worker settles the task once the budget resolves; block
	// here so the stage does not settle early.
	select {
	case <-exec.done[taskID]:
	case <-exec.ctx.Done():
		o.settle(exec, task, result)
	}
}

// waitDependencies blocks until every dependency task has settled. Each
// settle closes the task's broadcast channel, so the wait is a pure wake
// with a bounded timeout rather than a poll.
func (o *Orchestrator) waitDependencies(exec *execution, task *types.AgentTask) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	timeout := o.cfg.Execution.DependencyWaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, dep := range task.Dependencies {
		ch, ok := exec.done[dep]
		if !ok {
			return types.NewErrorf(types.ErrUnresolvedDependency,
				"task %q depends on unknown task %q", task.ID, dep)
		}
		select {
		case <-ch:
		case <-deadline.C:
			return types.NewErrorf(types.ErrDependencyTimeout,
				"task %q timed out after %s waiting for dependency %q", task.ID, timeout, dep)
		case <-exec.ctx.Done():
			return types.NewErrorf(types.ErrExecutionCancelled,
				"task %q cancelled while waiting for dependency %q", task.ID, dep)
		}
	}
	return nil
}

// attempt performs one invocation: lease an agent, assemble the input from
// the task payload plus settled dependency outputs, and invoke under the
// task timeout. The lease is released on every exit path.
func (o *Orchestrator) attempt(exec *execution, task *types.AgentTask, attemptNo int) *types.TaskResult {
	started := time.Now()
	result := &types.TaskResult{
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		StartedAt: started,
		Attempts:  attemptNo,
	}

	lease, err := o.pool.Acquire(exec.ctx, task.AgentID)
	if err != nil {
		result.Error = err.Error()
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(started)
		return result
	}
	defer lease.Release()
	result.AgentID = lease.AgentID

	input := o.assembleInput(exec, task)

	ctx := exec.ctx
	if timeout := o.taskTimeout(task); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := lease.Invoke(ctx, task, input)
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = types.NewErrorf(types.ErrTaskTimeout,
				"task %q exceeded its %s timeout", task.ID, o.taskTimeout(task)).WithCause(err)
		}
		result.Error = err.Error()
		return result
	}
	result.Output = output
	return result
}

func (o *Orchestrator) taskTimeout(task *types.AgentTask) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return o.cfg.Workflow.DefaultTimeout
}

// assembleInput merges the task payload with the execution context and the
// outputs of its succeeded dependencies.
func (o *Orchestrator) assembleInput(exec *execution, task *types.AgentTask) map[string]any {
	input := make(map[string]any, len(task.Input)+2)
	for k, v := range task.Input {
		input[k] = v
	}

	o.mu.Lock()
	deps := make(map[string]any, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		if r, ok := exec.record.Results[dep]; ok && r.Succeeded() {
			deps[dep] = r.Output
		}
	}
	o.mu.Unlock()

	if len(deps) > 0 {
		input["dependencies"] = deps
	}
	if exec.record.Context != nil {
		input["context"] = exec.record.Context
	}
	return input
}

// settle records a task's terminal result exactly once, updates metrics,
// closes the task's broadcast channel, and emits the task event. Late
// duplicate settles (a retry racing cancellation) are dropped.
func (o *Orchestrator) settle(exec *execution, task *types.AgentTask, result *types.TaskResult) {
	o.mu.Lock()
	te, ok := exec.record.TaskExecution(task.ID)
	if !ok || te.Status.Terminal() {
		o.mu.Unlock()
		return
	}

	te.EndTime = result.CompletedAt
	if te.EndTime.IsZero() {
		te.EndTime = time.Now()
		result.CompletedAt = te.EndTime
	}
	te.Attempts = result.Attempts
	exec.record.Results[task.ID] = result

	evType := event.TaskCompleted
	if result.Succeeded() {
		te.Status = types.TaskCompleted
		exec.record.Metrics.CompletedTasks++
	} else {
		te.Status = types.TaskFailed
		te.Error = result.Error
		exec.record.Metrics.FailedTasks++
		evType = event.TaskFailed
	}
	status := te.Status
	o.mu.Unlock()

	close(exec.done[task.ID])

	o.publish(event.NewTaskEvent(evType, exec.record.ID, task.ID, result.AgentID, status, result.Duration, result.Error))
	if o.collector != nil {
		o.collector.RecordTask(result.AgentID, string(status), result.Duration)
	}
	if result.Error != "" {
		o.logger.Warn("task failed",
			zap.String("execution_id", exec.record.ID),
			zap.String("task_id", task.ID),
			zap.Int("attempts", result.Attempts),
			zap.String("error", result.Error),
		)
	}
}

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestrahq/orchestra/queue"
	"github.com/orchestrahq/orchestra/types"
)

// enqueueRetry hands a failed task to the durable queue for backed-off
// re-delivery.
func (o *Orchestrator) enqueueRetry(exec *execution, task *types.AgentTask) error {
	item := &queue.Item{
		ID:          uuid.New().String(),
		ExecutionID: exec.record.ID,
		TaskID:      task.ID,
	}
	ctx, cancel := context.WithTimeout(exec.ctx, 5*time.Second)
	defer cancel()
	return o.queue.Enqueue(ctx, item)
}

// retryWorker consumes the durable queue and re-attempts failed tasks.
// Each delivery is one attempt; the worker settles the task on success,
// when the retry policy budget is spent, or when the queue dead-letters
// the item.
func (o *Orchestrator) retryWorker() {
	defer o.wg.Done()

	for {
		item, err := o.queue.Dequeue(o.workerCtx)
		if err != nil {
			if o.workerCtx.Err() != nil || types.GetErrorCode(err) == types.ErrQueueClosed {
				return
			}
			o.logger.Error("retry dequeue failed", zap.Error(err))
			continue
		}
		o.handleRetry(item)
	}
}

func (o *Orchestrator) handleRetry(item *queue.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o.mu.Lock()
	exec, active := o.active[item.ExecutionID]
	o.mu.Unlock()
	if !active {
		_ = o.queue.Ack(ctx, item)
		return
	}

	task, ok := exec.wf.Task(item.TaskID)
	if !ok {
		_ = o.queue.Ack(ctx, item)
		return
	}
	o.mu.Lock()
	te, _ := exec.record.TaskExecution(item.TaskID)
	terminal := te == nil || te.Status.Terminal()
	o.mu.Unlock()
	if terminal {
		_ = o.queue.Ack(ctx, item)
		return
	}

	// The first inline attempt plus one per delivery.
	total := item.Attempts + 1
	o.logger.Info("retrying task",
		zap.String("execution_id", item.ExecutionID),
		zap.String("task_id", item.TaskID),
		zap.Int("attempt", total),
	)
	result := o.attempt(exec, task, total)
	if result.Succeeded() {
		_ = o.queue.Ack(ctx, item)
		o.settle(exec, task, result)
		return
	}

	if total >= o.retryBudget(task) {
		// Policy budget spent; no point re-delivering.
		_ = o.queue.Ack(ctx, item)
		o.settle(exec, task, result)
		return
	}

	if err := o.queue.Nack(ctx, item); err != nil {
		o.logger.Error("retry nack failed", zap.Error(err))
		o.settle(exec, task, result)
		return
	}
	if item.Attempts >= o.queueMaxRetry() {
		// Dead-lettered; nothing more is coming.
		o.settle(exec, task, result)
	}
}

func (o *Orchestrator) retryBudget(task *types.AgentTask) int {
	if task.RetryPolicy != nil && task.RetryPolicy.MaxAttempts > 0 {
		return task.RetryPolicy.MaxAttempts
	}
	return types.DefaultRetryPolicy().MaxAttempts
}

func (o *Orchestrator) queueMaxRetry() int {
	if o.cfg.Queue.MaxRetry > 0 {
		return o.cfg.Queue.MaxRetry
	}
	return 3
}
